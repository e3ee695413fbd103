package entity

import "time"

// State is a step of the per-unit crawl state machine.
type State string

const (
	StateIdle           State = "idle"
	StateSessionOpening State = "session_opening"
	StateAuthenticating State = "authenticating"
	StateCrawling       State = "crawling"
	StateDiffing        State = "diffing"
	StatePersisting     State = "persisting"
	StateDone           State = "done"
	StateAccountFailed  State = "account_failed"
)

// Mode selects what a batch does with detected changes.
type Mode string

const (
	ModeLive  Mode = "live"  // diff, persist changed records, commit snapshots
	ModeInit  Mode = "init"  // commit snapshots only
	ModeCheck Mode = "check" // compare only
)

// Outcome is the transient result of one (account or target, kind) attempt.
type Outcome struct {
	AccountID int64          `json:"account_id,omitempty"`
	Site      string         `json:"site"`
	Kind      ResourceKind   `json:"kind"`
	Key       string         `json:"key,omitempty"`
	State     State          `json:"state"`
	FailedAt  State          `json:"failed_at,omitempty"`
	Fetched   int            `json:"fetched"`
	Changed   int            `json:"changed"`
	Cause     FailureCause   `json:"cause,omitempty"`
	Err       string         `json:"error,omitempty"`
	Traffic   TrafficSummary `json:"traffic"`
}

// Failed reports whether the attempt ended in AccountFailed.
func (o Outcome) Failed() bool { return o.State == StateAccountFailed }

// BatchSummary aggregates the outcomes of one RunBatch call.
type BatchSummary struct {
	ID         string       `json:"id"`
	Kind       ResourceKind `json:"kind"`
	Mode       Mode         `json:"mode"`
	Sites      []string     `json:"sites,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcomes   []Outcome    `json:"outcomes"`
}

func (b *BatchSummary) Succeeded() []Outcome { return b.filter(false) }

func (b *BatchSummary) Failed() []Outcome { return b.filter(true) }

func (b *BatchSummary) filter(failed bool) []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if o.Failed() == failed {
			out = append(out, o)
		}
	}
	return out
}
