package message

import (
	"fmt"
	"strings"
)

// Status is the delivery state of a record.
type Status string

// Record states. RETRYING is declared for forward compatibility; no sender
// produces it today.
const (
	StatusReceived  Status = "RECEIVED"
	StatusQueued    Status = "QUEUED"
	StatusRetrying  Status = "RETRYING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// Statuses lists every status in state-machine order.
var Statuses = []Status{StatusReceived, StatusQueued, StatusRetrying, StatusDelivered, StatusFailed}

// ParseStatus resolves a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("message: unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the declared states.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusQueued, StatusRetrying, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed:
		return true
	case StatusReceived, StatusQueued, StatusRetrying:
		return false
	}
	return false
}

// CanTransition reports whether a record may move from one state to another.
// Transitions only move forward; re-entering the current state is rejected.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusReceived:
		return to == StatusQueued || to == StatusRetrying || to == StatusDelivered || to == StatusFailed
	case StatusQueued:
		return to == StatusRetrying || to == StatusDelivered || to == StatusFailed
	case StatusRetrying:
		return to == StatusDelivered || to == StatusFailed
	case StatusDelivered, StatusFailed:
		return false
	}
	return false
}
