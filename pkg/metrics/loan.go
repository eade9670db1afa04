package metrics

import "time"

// Request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeInvalid     = "invalid"
	OutcomeUndelivered = "undelivered"
)

// Handshake outcomes.
const (
	HandshakeSucceeded = "succeeded"
	HandshakeRejected  = "rejected"
	HandshakeFailed    = "failed"
)

// LoanMetrics collects server-side observations.
//
// Implementations must be safe for concurrent use: the accept loop and the
// worker report from different goroutines.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewLoanMetrics()
//	d := dispatch.New(reg, hs, inv, m)
//
//	// Without metrics (no-op)
//	d := dispatch.New(reg, hs, inv, nil)
type LoanMetrics interface {
	// RecordRequest records a processed book request.
	//
	// Parameters:
	//   - operation: BORROW, RENEW, RETURN or LOOKUP
	//   - outcome: one of the Outcome constants
	//   - duration: time from dequeue to response written
	RecordRequest(operation, outcome string, duration time.Duration)

	// RecordHandshake records a START handled by the server.
	RecordHandshake(outcome string)

	// SetActiveSessions updates the number of registered sessions.
	SetActiveSessions(count int)

	// SetQueueDepth updates the number of messages waiting for the worker.
	SetQueueDepth(depth int)

	// RecordLateRenewal counts renewals of overdue copies.
	RecordLateRenewal()
}

// NewNoopLoanMetrics returns a LoanMetrics that discards everything.
func NewNoopLoanMetrics() LoanMetrics {
	return noopLoanMetrics{}
}

type noopLoanMetrics struct{}

func (noopLoanMetrics) RecordRequest(string, string, time.Duration) {}
func (noopLoanMetrics) RecordHandshake(string)                      {}
func (noopLoanMetrics) SetActiveSessions(int)                       {}
func (noopLoanMetrics) SetQueueDepth(int)                           {}
func (noopLoanMetrics) RecordLateRenewal()                          {}
