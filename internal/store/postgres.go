package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements the store contracts on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables this core owns. Webhook configs and users
// belong to the surrounding application and are only read here.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) ListEnabledWebhooks(ctx context.Context, tenantID string) ([]WebhookConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, url, events, enabled, secret, headers,
		       retry_attempts, timeout_seconds, rate_per_minute
		FROM webhook_configs
		WHERE tenant_id = $1 AND enabled`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	var out []WebhookConfig
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (s *Postgres) GetWebhook(ctx context.Context, id string) (*WebhookConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, name, url, events, enabled, secret, headers,
		       retry_attempts, timeout_seconds, rate_per_minute
		FROM webhook_configs
		WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get webhook: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanWebhook(rows)
}

func scanWebhook(row pgx.Row) (*WebhookConfig, error) {
	var (
		w           WebhookConfig
		headersJSON []byte
	)
	err := row.Scan(&w.ID, &w.TenantID, &w.Name, &w.URL, &w.Events, &w.Enabled,
		&w.Secret, &headersJSON, &w.RetryAttempts, &w.TimeoutSeconds, &w.RatePerMinute)
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &w.Headers); err != nil {
			return nil, fmt.Errorf("decode webhook headers: %w", err)
		}
	}
	return &w, nil
}

func (s *Postgres) CreateDelivery(ctx context.Context, d *WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DeliveryPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries
			(id, tenant_id, webhook_id, event_id, status, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.TenantID, d.WebhookID, d.EventID, d.Status, d.AttemptCount, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	return nil
}

func (s *Postgres) FinishDelivery(ctx context.Context, d *WebhookDelivery) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempt_count = $3, last_attempt_at = $4,
		    response_status = $5, response_body = $6, error_message = $7
		WHERE id = $1 AND status = 'pending'`,
		d.ID, d.Status, d.AttemptCount, d.LastAttemptAt, d.ResponseStatus, d.ResponseBody, d.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish delivery %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (s *Postgres) GetDelivery(ctx context.Context, id string) (*WebhookDelivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, webhook_id, event_id, status, attempt_count,
		       last_attempt_at, response_status, response_body, error_message, created_at
		FROM webhook_deliveries
		WHERE id = $1`, id)

	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Postgres) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, webhook_id, event_id, status, attempt_count,
		       last_attempt_at, response_status, response_body, error_message, created_at
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (*WebhookDelivery, error) {
	var d WebhookDelivery
	err := row.Scan(&d.ID, &d.TenantID, &d.WebhookID, &d.EventID, &d.Status, &d.AttemptCount,
		&d.LastAttemptAt, &d.ResponseStatus, &d.ResponseBody, &d.ErrorMessage, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	return &d, nil
}

func (s *Postgres) CountDeliveries(ctx context.Context, webhookID string, since time.Time) (DeliveryCounts, error) {
	var c DeliveryCounts
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'success'),
		       count(*) FILTER (WHERE status = 'failed'),
		       count(*) FILTER (WHERE status = 'pending'),
		       coalesce(sum(attempt_count) FILTER (WHERE status = 'success'), 0)
		FROM webhook_deliveries
		WHERE webhook_id = $1 AND created_at >= $2`, webhookID, since).
		Scan(&c.Total, &c.Successful, &c.Failed, &c.Pending, &c.SuccessfulAttemptSum)
	if err != nil {
		return DeliveryCounts{}, fmt.Errorf("count deliveries: %w", err)
	}
	return c, nil
}

func (s *Postgres) InsertEventLog(ctx context.Context, rec *EventLogRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode event log payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_log
			(id, tenant_id, event_type, entity_type, entity_id, payload,
			 user_id, source, correlation_id, occurred_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.TenantID, rec.EventType, rec.EntityType, rec.EntityID, payloadJSON,
		rec.UserID, rec.Source, rec.CorrelationID, rec.Timestamp, rec.Processed)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (s *Postgres) GetEventLogByCorrelation(ctx context.Context, correlationID string) (*EventLogRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, event_type, entity_type, entity_id, payload,
		       user_id, source, correlation_id, occurred_at, processed
		FROM event_log
		WHERE correlation_id = $1
		ORDER BY occurred_at ASC
		LIMIT 1`, correlationID)

	var (
		rec         EventLogRecord
		payloadJSON []byte
	)
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.EventType, &rec.EntityType, &rec.EntityID,
		&payloadJSON, &rec.UserID, &rec.Source, &rec.CorrelationID, &rec.Timestamp, &rec.Processed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event log: %w", err)
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode event log payload: %w", err)
		}
	}
	return &rec, nil
}

func (s *Postgres) InsertNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, user_id, type, title, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.TenantID, n.UserID, n.Type, n.Title, n.Message, dataJSON, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Postgres) ListUserIDsByRoles(ctx context.Context, tenantID string, roles []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM users
		WHERE tenant_id = $1 AND role = ANY($2)`, tenantID, roles)
	if err != nil {
		return nil, fmt.Errorf("list users by roles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}
