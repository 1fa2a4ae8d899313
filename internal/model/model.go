package model

import "time"

// NotificationType identifies what kind of event a notification describes.
type NotificationType string

const (
	NotificationCaseCreated    NotificationType = "case_created"
	NotificationRatingReceived NotificationType = "rating_received"
)

// IsValid reports whether t is a known notification type.
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationCaseCreated, NotificationRatingReceived:
		return true
	}
	return false
}

// Notification is one asynchronous event surfaced to a tenant's dashboard.
// The backend owns its lifetime; the local copy is a projection. The read
// flag only ever transitions false to true.
type Notification struct {
	ID         string           `json:"_id"`
	BusinessID string           `json:"businessId"`
	Type       NotificationType `json:"type"`
	Read       bool             `json:"read"`
	Link       string           `json:"link,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`

	// Type-specific payload fields.
	CustomerName string `json:"customerName,omitempty"`
	AgentName    string `json:"agentName,omitempty"`
	CaseTitle    string `json:"caseTitle,omitempty"`
	Rating       int    `json:"rating,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
}

// AgentState is an agent's presence state as known to the dashboard.
type AgentState string

const (
	AgentOffline   AgentState = "offline"
	AgentOnline    AgentState = "online"
	AgentAvailable AgentState = "available"
	AgentAway      AgentState = "away"
	AgentInChat    AgentState = "in_chat"
)

// IsValid reports whether s is one of the five presence states.
func (s AgentState) IsValid() bool {
	switch s {
	case AgentOffline, AgentOnline, AgentAvailable, AgentAway, AgentInChat:
		return true
	}
	return false
}

// AgentStatus is one support agent's presence record. At most one record
// exists per agent id within a tenant's working set, and LastActive never
// decreases across status-changing events.
type AgentStatus struct {
	AgentID     string     `json:"agentId"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Status      AgentState `json:"status"`
	ActiveChats int        `json:"activeChats"`
	TotalChats  int        `json:"totalChats"`
	LastActive  time.Time  `json:"lastActive"`
	BusinessID  string     `json:"businessId"`
}

// QueueSnapshot is an aggregate view of a tenant's pending support load.
// Snapshots are replaced wholesale; the server is authoritative and
// Total == Waiting + InProgress under the socket-fed model.
type QueueSnapshot struct {
	Waiting          int     `json:"waiting"`
	InProgress       int     `json:"inProgress"`
	Resolved         int     `json:"resolved"`
	Total            int     `json:"total"`
	AvgWaitSeconds   float64 `json:"avgWaitTime,omitempty"`
	AvgRespSeconds   float64 `json:"avgResponseTime,omitempty"`
	SatisfactionRate float64 `json:"satisfactionRate,omitempty"`

	// ReceivedAt is stamped locally when the snapshot arrives; Approximate
	// marks snapshots derived client-side after the server copy went stale.
	ReceivedAt  time.Time `json:"receivedAt,omitempty"`
	Approximate bool      `json:"approximate,omitempty"`
}
