package router

import "time"

// PendingRequest tracks one in-flight REQUEST awaiting a RESPONSE.
type PendingRequest struct {
	RequestID       string
	OriginServiceID string
	TargetServiceID string
	Topic           string
	Version         string
	ParentRequestID string
	Deadline        time.Time
	timer           *time.Timer
}
