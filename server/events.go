package server

import (
	"time"
)

// Event describes the outcome of a single incoming snapshot request
type Event struct {
	Time     time.Time     `json:"time"`
	Remote   string        `json:"remote"`
	Snapshot string        `json:"snapshot,omitempty"`
	Position uint64        `json:"position"`
	Bytes    uint64        `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Failed reports if the send failed
func (e Event) Failed() bool {
	return e.Err != nil
}

// Status is a one word summary for logs and the status page
func (e Event) Status() string {
	if e.Err != nil {
		return "failed"
	}
	return "ok"
}
