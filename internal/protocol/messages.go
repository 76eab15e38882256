package protocol

import (
	"time"

	"github.com/guardline-ai/guardline-core/internal/analysis"
)

// SessionStart announces that a capture collaborator began monitoring a call.
type SessionStart struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEnd announces that a call finished and its session should stop.
type SessionEnd struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptSegment is one incremental piece of call transcript published by
// a capture collaborator. Text carries only the new speech, not the full
// transcript; the monitor appends segments in arrival order.
type TranscriptSegment struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// RiskUpdate carries a refreshed assessment for a monitored session.
type RiskUpdate struct {
	SessionID string          `json:"session_id"`
	Epoch     uint64          `json:"epoch"`
	Result    analysis.Result `json:"result"`
}

const (
	SubjectSessionStart      = "call.session.start"
	SubjectSessionEnd        = "call.session.end"
	SubjectTranscriptPartial = "call.transcript.partial"
	SubjectTranscriptFinal   = "call.transcript.final"
	SubjectRiskUpdated       = "call.risk.updated"
)
