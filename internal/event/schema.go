package event

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Payload schemas for the types whose payload shape downstream consumers
// depend on. Types without a schema here are accepted as-is.
var payloadSchemas = map[string]string{
	TypeScoreSubmitted: scorePayloadSchema,
	TypeScoreUpdated:   scorePayloadSchema,
}

const scorePayloadSchema = `{
	"type": "object",
	"required": ["contestantId", "categoryId", "score"],
	"properties": {
		"contestantId": {"type": "string", "minLength": 1},
		"categoryId":   {"type": "string", "minLength": 1},
		"score":        {"type": "number", "minimum": 0}
	}
}`

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

func schemaFor(eventType string) (*gojsonschema.Schema, error) {
	raw, ok := payloadSchemas[eventType]
	if !ok {
		return nil, nil
	}

	compiledMu.Lock()
	defer compiledMu.Unlock()

	if s, ok := compiled[eventType]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile payload schema for %s: %w", eventType, err)
	}
	compiled[eventType] = s
	return s, nil
}

// ValidatePayload checks the payload of an event type against its registered
// JSON schema, if any. A nil error means the payload is acceptable.
func ValidatePayload(eventType string, payload map[string]any) error {
	s, err := schemaFor(eventType)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("validate payload for %s: %w", eventType, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid payload for %s: %s", eventType, strings.Join(msgs, "; "))
}
