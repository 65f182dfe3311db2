// Package types provides common type definitions for the auction scanner.
package types

// ItemStatus is the explicit tri-state lifecycle of an indexed item.
type ItemStatus string

const (
	// StatusUnknown is the default until the source confirms either state
	StatusUnknown ItemStatus = "unknown"
	// StatusActive means the auction has a known end date in the future
	StatusActive ItemStatus = "active"
	// StatusEnded means the source reported the auction closed or reconciliation archived it
	StatusEnded ItemStatus = "ended"
)

// Valid reports whether s is one of the three known statuses
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusUnknown, StatusActive, StatusEnded:
		return true
	}
	return false
}

// ChangeKind classifies a re-fetch of an item against what is already stored.
type ChangeKind string

const (
	// ChangeNew means no row existed for the (item, location) key
	ChangeNew ChangeKind = "new"
	// ChangeChanged means the dom hash or the current bid moved
	ChangeChanged ChangeKind = "changed"
	// ChangeUnchanged means the refresh only touched fetched_at
	ChangeUnchanged ChangeKind = "unchanged"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
