package domain

import "time"

// DispatchOutcome is the result of one dispatch attempt as seen by the state machine.
// Successful means the target reached a terminal condition (answered, completed).
type DispatchOutcome struct {
	Successful bool
}

type DispatchRequest struct {
	EntryID     string `json:"entryId"`
	CampaignID  string `json:"campaignId"`
	PhoneNumber string `json:"phoneNumber"`
	Attempt     int    `json:"attempt"`
	TrackingID  string `json:"trackingId"`
	AgentID     string `json:"agentId,omitempty"`
}

type DialResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId"`
	Message string `json:"message,omitempty"`
}

type BatchDialRequest struct {
	BatchID    string            `json:"batchId"`
	AgentID    string            `json:"agentId,omitempty"`
	Recipients []DispatchRequest `json:"recipients"`
}

type BatchDialResponse struct {
	BatchID  string `json:"batchId"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// DispatchRecord is the cached trace of an accepted dispatch, keyed by entry.
type DispatchRecord struct {
	EntryID      string    `json:"entryId"`
	TrackingID   string    `json:"trackingId"`
	CallID       string    `json:"callId,omitempty"`
	BatchID      string    `json:"batchId,omitempty"`
	Attempt      int       `json:"attempt"`
	DispatchedAt time.Time `json:"dispatchedAt"`
}
