package entity

import "time"

// RequestEvent mirrors the `request_events` table: one row per HTTP exchange.
type RequestEvent struct {
	URL        string
	Method     string
	Status     int
	Bytes      int64
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

// TrafficSummary is produced exactly once when a traffic session finishes.
type TrafficSummary struct {
	SessionID  string
	AccountID  int64 // 0 for anonymous sessions
	Site       string
	Requests   int
	Bytes      int64
	Errors     int
	StartedAt  time.Time
	FinishedAt time.Time
}
