package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"companion-workers/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidEvent wraps every Decode failure. Invalid events are committed
// and skipped by the consumer; retrying them cannot help.
var ErrInvalidEvent = errors.New("invalid change event")

var envelopeSchema = gojsonschema.NewGoLoader(map[string]interface{}{
	"type":     "object",
	"required": []string{"id", "kind", "table", "operation", "recordId", "occurredAt"},
	"properties": map[string]interface{}{
		"id":       map[string]interface{}{"type": "string", "minLength": 1},
		"kind":     map[string]interface{}{"type": "string"},
		"table":    map[string]interface{}{"enum": []string{"interests", "relationships", "stage_requirements", "notifications"}},
		"operation": map[string]interface{}{
			"enum": []string{"INSERT", "UPDATE", "DELETE"},
		},
		"recordId":       map[string]interface{}{"type": "string", "minLength": 1},
		"relationshipId": map[string]interface{}{"type": "string"},
		"occurredAt":     map[string]interface{}{"type": "string", "format": "date-time"},
		"userIds": map[string]interface{}{
			"type":  []string{"array", "null"},
			"items": map[string]interface{}{"type": "string"},
		},
	},
})

func object(required ...string) map[string]interface{} {
	props := make(map[string]interface{}, len(required))
	for _, name := range required {
		props[name] = map[string]interface{}{"type": "string", "minLength": 1}
	}
	return map[string]interface{}{
		"type":       "object",
		"required":   required,
		"properties": props,
	}
}

// rowSchemas describe the post-write row each table publishes. Only the
// fields consumers rely on for routing are required.
var rowSchemas = map[models.Table]gojsonschema.JSONLoader{
	models.TableInterests:         gojsonschema.NewGoLoader(object("id", "youthId", "elderlyId", "status")),
	models.TableRelationships:     gojsonschema.NewGoLoader(object("id", "youthId", "elderlyId", "currentStage", "status")),
	models.TableStageRequirements: gojsonschema.NewGoLoader(object("id", "relationshipId", "stage")),
	models.TableNotifications:     gojsonschema.NewGoLoader(object("id", "userId", "type")),
}

func validate(schema gojsonschema.JSONLoader, doc []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(msgs, "; "))
}

// Decode parses and validates one wire event. The kind must agree with the
// table and operation, and a present newRow must match its table's schema.
func Decode(raw []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := validate(envelopeSchema, raw); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	kind, ok := models.KindFor(ev.Table, ev.Operation)
	if !ok {
		return ev, fmt.Errorf("%w: no kind for %s %s", ErrInvalidEvent, ev.Operation, ev.Table)
	}
	if kind != ev.Kind {
		return ev, fmt.Errorf("%w: kind %q does not match %s %s", ErrInvalidEvent, ev.Kind, ev.Operation, ev.Table)
	}

	if len(ev.NewRow) > 0 && string(ev.NewRow) != "null" {
		if err := validate(rowSchemas[ev.Table], ev.NewRow); err != nil {
			return ev, fmt.Errorf("%s row: %w", ev.Table, err)
		}
	} else if ev.Operation != models.OpDelete {
		return ev, fmt.Errorf("%w: %s %s without newRow", ErrInvalidEvent, ev.Operation, ev.Table)
	}

	if ev.Table == models.TableStageRequirements && ev.RelationshipID == "" {
		var row struct {
			RelationshipID string `json:"relationshipId"`
		}
		if err := json.Unmarshal(ev.NewRow, &row); err == nil {
			ev.RelationshipID = row.RelationshipID
		}
	}
	return ev, nil
}

// Encode is the wire form Decode accepts.
func Encode(ev models.ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}
