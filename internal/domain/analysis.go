package domain

import (
	"encoding/json"
	"time"
)

// CallTranscript is a completed call handed to the analyzer.
type CallTranscript struct {
	CallID      string `json:"callId" validate:"required"`
	EntryID     string `json:"entryId,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Transcript  string `json:"transcript" validate:"required"`
}

type CallAnalysis struct {
	ID         string          `db:"id" json:"id"`
	CallID     string          `db:"call_id" json:"callId"`
	EntryID    *string         `db:"entry_id" json:"entryId,omitempty"`
	Result     json.RawMessage `db:"result" json:"result"`
	AnalyzedAt time.Time       `db:"analyzed_at" json:"analyzedAt"`
}
