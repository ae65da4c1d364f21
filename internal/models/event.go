// internal/models/event.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names a source of change events.
type Table string

const (
	TableInterests         Table = "interests"
	TableRelationships     Table = "relationships"
	TableStageRequirements Table = "stage_requirements"
	TableNotifications     Table = "notifications"
)

// Operation is the kind of write that produced a change event.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// EventKind is the closed set of change events the engines react to.
type EventKind string

const (
	EventInterestCreated     EventKind = "interest_created"
	EventInterestUpdated     EventKind = "interest_updated"
	EventInterestDeleted     EventKind = "interest_deleted"
	EventRelationshipCreated EventKind = "relationship_created"
	EventRelationshipUpdated EventKind = "relationship_updated"
	EventRequirementChanged  EventKind = "requirement_changed"
	EventNotificationCreated EventKind = "notification_created"
)

// KindFor maps a (table, operation) pair onto its event kind.
func KindFor(table Table, op Operation) (EventKind, bool) {
	switch table {
	case TableInterests:
		switch op {
		case OpInsert:
			return EventInterestCreated, true
		case OpUpdate:
			return EventInterestUpdated, true
		case OpDelete:
			return EventInterestDeleted, true
		}
	case TableRelationships:
		switch op {
		case OpInsert:
			return EventRelationshipCreated, true
		case OpUpdate:
			return EventRelationshipUpdated, true
		}
	case TableStageRequirements:
		if op == OpInsert || op == OpUpdate {
			return EventRequirementChanged, true
		}
	case TableNotifications:
		if op == OpInsert {
			return EventNotificationCreated, true
		}
	}
	return "", false
}

// ChangeEvent is one decoded change-feed event. Only the ids are trusted;
// consumers re-read the row before acting.
type ChangeEvent struct {
	ID             string          `json:"id"`
	Kind           EventKind       `json:"kind"`
	Table          Table           `json:"table"`
	Operation      Operation       `json:"operation"`
	RecordID       string          `json:"recordId"`
	UserIDs        []string        `json:"userIds"`
	RelationshipID string          `json:"relationshipId,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	NewRow         json.RawMessage `json:"newRow,omitempty"`
}

// Concerns reports whether userID is one of the event's audience.
func (e ChangeEvent) Concerns(userID string) bool {
	for _, u := range e.UserIDs {
		if u == userID {
			return true
		}
	}
	return false
}

// NewChangeEvent builds the event for a write to table. row is the post-write
// record, or nil for deletes.
func NewChangeEvent(table Table, op Operation, recordID string, row interface{}, userIDs ...string) (ChangeEvent, error) {
	kind, ok := KindFor(table, op)
	if !ok {
		return ChangeEvent{}, fmt.Errorf("no event kind for %s %s", op, table)
	}
	ev := ChangeEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		Table:      table,
		Operation:  op,
		RecordID:   recordID,
		UserIDs:    userIDs,
		OccurredAt: time.Now().UTC(),
	}
	if table == TableRelationships {
		ev.RelationshipID = recordID
	}
	if row != nil {
		raw, err := json.Marshal(row)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("encode %s row: %w", table, err)
		}
		ev.NewRow = raw
	}
	return ev, nil
}
