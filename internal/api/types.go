package api

// ErrorResponse represents an API error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UnreadCountResponse is the body of GET /notifications/unread-count.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// MarkAllReadRequest is the body of PUT /notifications/read-all.
type MarkAllReadRequest struct {
	BusinessID string `json:"businessId"`
}
