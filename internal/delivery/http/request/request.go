package request

// RunBatchRequest starts a crawl batch.
type RunBatchRequest struct {
	Kind  string   `json:"kind"`
	Sites []string `json:"sites"`
	Mode  string   `json:"mode"` // "live" (default), "init" or "check"
}

// ConfigRequest carries an extraction configuration text, for saving or
// for a dry run.
type ConfigRequest struct {
	Text string `json:"text"`
}
