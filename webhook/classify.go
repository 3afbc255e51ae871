package webhook

import "strings"

// EventType is the classification spec §4.1 routes an inbound event to.
type EventType string

const (
	EventTaskCreate        EventType = "task_create"
	EventTaskStatusChange  EventType = "task_status_change"
	EventItemUpdate        EventType = "item_update"
	EventColumnValueChange EventType = "column_value_change"
	EventIgnored           EventType = "ignored"
)

// RawEvent is the inbound envelope's event object (spec §6, minimum body
// shape).
type RawEvent struct {
	Type        string `json:"type"`
	BoardID     string `json:"boardId"`
	PulseID     string `json:"pulseId"`
	TriggerUUID string `json:"triggerUuid"`
	TextBody    string `json:"textBody"`
	ColumnID    string `json:"columnId"`
	Value       any    `json:"value"`
	UserID      string `json:"userId"`
}

// IntakeEvent is the normalized shape handed to the Event Router once an
// inbound delivery is accepted (spec §4.1).
type IntakeEvent struct {
	TaskID      *int64
	ItemID      string
	Type        EventType
	Text        string
	Column      string
	NewValue    any
	TriggererID string
}

// classify maps a RawEvent's wire type to an EventType, applying the
// board-id and test-id-prefix filters spec §4.1 requires before anything
// else is classified.
func classify(raw RawEvent, boardID string, testIDPrefixes []string) EventType {
	if boardID != "" && raw.BoardID != "" && raw.BoardID != boardID {
		return EventIgnored
	}
	for _, prefix := range testIDPrefixes {
		if prefix != "" && strings.HasPrefix(raw.PulseID, prefix) {
			return EventIgnored
		}
	}
	switch raw.Type {
	case "create_pulse", "task_create":
		return EventTaskCreate
	case "change_status_column_value", "task_status_change":
		return EventTaskStatusChange
	case "update_created", "item_update":
		return EventItemUpdate
	case "change_column_value", "column_value_change":
		return EventColumnValueChange
	default:
		return EventIgnored
	}
}

// toIntakeEvent builds the normalized IntakeEvent for an accepted RawEvent.
func toIntakeEvent(raw RawEvent, eventType EventType) IntakeEvent {
	return IntakeEvent{
		ItemID:      raw.PulseID,
		Type:        eventType,
		Text:        raw.TextBody,
		Column:      raw.ColumnID,
		NewValue:    raw.Value,
		TriggererID: raw.UserID,
	}
}
