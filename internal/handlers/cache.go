package handlers

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/contestkit/eventcore/internal/cache"
	"github.com/contestkit/eventcore/internal/event"
	"gopkg.in/yaml.v3"
)

//go:embed keys.yaml
var keysYAML []byte

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// CacheInvalidationHandler deletes the cache keys affected by an event.
// The event-type -> key-template mapping is a declarative table (keys.yaml),
// not code, so the dependency graph stays reviewable in one place.
type CacheInvalidationHandler struct {
	deleter cache.Deleter
	table   map[string][]string
}

// NewCacheInvalidationHandler creates the handler with the embedded table.
func NewCacheInvalidationHandler(deleter cache.Deleter) (*CacheInvalidationHandler, error) {
	table := map[string][]string{}
	if err := yaml.Unmarshal(keysYAML, &table); err != nil {
		return nil, fmt.Errorf("parse cache key table: %w", err)
	}
	return &CacheInvalidationHandler{deleter: deleter, table: table}, nil
}

// Types returns the event types present in the table.
func (h *CacheInvalidationHandler) Types() []string {
	out := make([]string, 0, len(h.table))
	for t := range h.table {
		out = append(out, t)
	}
	return out
}

// Handle expands the key templates for the event's type and deletes the
// resulting keys.
func (h *CacheInvalidationHandler) Handle(ctx context.Context, e *event.AppEvent) error {
	templates := h.table[e.Type]
	if len(templates) == 0 {
		return nil
	}

	keys := ExpandKeys(templates, e)
	if len(keys) == 0 {
		return nil
	}

	if err := h.deleter.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate cache for %s: %w", e.Type, err)
	}
	slog.Debug("cache keys invalidated",
		"event_type", e.Type,
		"correlation_id", e.Metadata.CorrelationID,
		"keys", len(keys),
	)
	return nil
}

// ExpandKeys fills each template's {field} placeholders from the event
// payload. A template referencing a field the payload lacks is dropped.
func ExpandKeys(templates []string, e *event.AppEvent) []string {
	keys := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		key, ok := expand(tmpl, e)
		if ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func expand(tmpl string, e *event.AppEvent) (string, bool) {
	complete := true
	key := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		field := m[1 : len(m)-1]
		v := e.PayloadString(field)
		if v == "" {
			complete = false
		}
		return v
	})
	return key, complete
}
