package event

import (
	"encoding/json"
	"fmt"

	"github.com/deskstream/deskstream/internal/model"
)

// Type names one event in the fixed vocabulary spoken over the socket.
type Type string

// Server to client events.
const (
	TypeNewNotification      Type = "new_notification"
	TypeUnreadCount          Type = "unread_count"
	TypeAllNotificationsRead Type = "all_notifications_read"
	TypeInitialAgentStatuses Type = "initial_agent_statuses"
	TypeAgentStatusUpdate    Type = "agent_status_update"
	TypeInitialQueueStatus   Type = "initial_queue_status"
	TypeQueueStatusUpdate    Type = "queue_status_update"
)

// Client to server events.
const (
	TypeJoinNotificationRoom     Type = "join_notification_room"
	TypeLeaveNotificationRoom    Type = "leave_notification_room"
	TypeJoinBusinessStatus       Type = "join_business_status"
	TypeMarkNotificationRead     Type = "mark_notification_read"
	TypeMarkAllNotificationsRead Type = "mark_all_notifications_read"
)

// Envelope is the wire frame for every socket message.
type Envelope struct {
	Event Type            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope with the payload marshaled into Data.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	env := Envelope{Event: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// RoomRequest is the payload for room join/leave emits.
type RoomRequest struct {
	BusinessID string `json:"businessId"`
}

// MarkReadRequest mirrors a successful mark-read REST call to sibling
// sessions in the same room.
type MarkReadRequest struct {
	NotificationID string `json:"notificationId"`
	BusinessID     string `json:"businessId"`
}

// MarkAllReadRequest mirrors a successful mark-all-read REST call.
type MarkAllReadRequest struct {
	BusinessID string `json:"businessId"`
}

// UnreadCount is the payload of an authoritative counter correction.
type UnreadCount struct {
	Count int `json:"count"`
}

// AgentStatusDelta patches exactly one agent record in place. Counter
// fields are pointers so an absent field leaves the local value untouched.
type AgentStatusDelta struct {
	AgentID     string           `json:"agentId"`
	Status      model.AgentState `json:"status"`
	ActiveChats *int             `json:"activeChats,omitempty"`
	TotalChats  *int             `json:"totalChats,omitempty"`
}

// Decode parses and validates an inbound envelope, returning one of:
// model.Notification, UnreadCount, []model.AgentStatus, AgentStatusDelta or
// model.QueueSnapshot. TypeAllNotificationsRead decodes to nil. Validation
// failures are returned as errors so the caller can drop the event instead
// of handing a malformed payload to a reducer.
func Decode(env Envelope) (any, error) {
	switch env.Event {
	case TypeNewNotification:
		var n model.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if n.ID == "" {
			return nil, fmt.Errorf("decode %s: missing notification id", env.Event)
		}
		if !n.Type.IsValid() {
			return nil, fmt.Errorf("decode %s: unknown notification type %q", env.Event, n.Type)
		}
		return n, nil

	case TypeUnreadCount:
		var c UnreadCount
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if c.Count < 0 {
			return nil, fmt.Errorf("decode %s: negative count %d", env.Event, c.Count)
		}
		return c, nil

	case TypeAllNotificationsRead:
		return nil, nil

	case TypeInitialAgentStatuses:
		var agents []model.AgentStatus
		if err := json.Unmarshal(env.Data, &agents); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		for i := range agents {
			if agents[i].AgentID == "" {
				return nil, fmt.Errorf("decode %s: agent %d missing id", env.Event, i)
			}
			if !agents[i].Status.IsValid() {
				return nil, fmt.Errorf("decode %s: agent %s has unknown status %q", env.Event, agents[i].AgentID, agents[i].Status)
			}
		}
		return agents, nil

	case TypeAgentStatusUpdate:
		var d AgentStatusDelta
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if d.AgentID == "" {
			return nil, fmt.Errorf("decode %s: missing agent id", env.Event)
		}
		if !d.Status.IsValid() {
			return nil, fmt.Errorf("decode %s: unknown status %q", env.Event, d.Status)
		}
		return d, nil

	case TypeInitialQueueStatus, TypeQueueStatusUpdate:
		var q model.QueueSnapshot
		if err := json.Unmarshal(env.Data, &q); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if q.Waiting < 0 || q.InProgress < 0 || q.Total < 0 {
			return nil, fmt.Errorf("decode %s: negative counter", env.Event)
		}
		return q, nil
	}

	return nil, fmt.Errorf("unknown event %q", env.Event)
}
