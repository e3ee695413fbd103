package entity

import "time"

// LineItem is one ordered entry of a record (a product in an order, a hit in a
// search result page).
type LineItem struct {
	Code      string            `json:"code,omitempty"`
	Name      string            `json:"name,omitempty"`
	Quantity  string            `json:"quantity,omitempty"`
	UnitPrice string            `json:"unit_price,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Record is the site-agnostic normalized extraction result.
type Record struct {
	Site      string            `json:"site"`
	Kind      ResourceKind      `json:"kind"`
	AccountID int64             `json:"account_id,omitempty"`
	ID        string            `json:"id"`
	Query     string            `json:"query,omitempty"`
	Items     []LineItem        `json:"items,omitempty"`
	Total     string            `json:"total,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Artifact  string            `json:"artifact,omitempty"`
}

// SnapshotKey is the resource key under which the record's current snapshot
// is kept. Search hits are scoped by their query so two queries returning the
// same product do not share a snapshot.
func (r Record) SnapshotKey() string {
	if r.Kind == KindSearch && r.Query != "" {
		return r.Query + "#" + r.ID
	}
	return r.ID
}

// Artifact references a raw fetched page kept for audit.
type Artifact struct {
	Name      string       `json:"name"`
	Site      string       `json:"site"`
	Kind      ResourceKind `json:"kind"`
	URL       string       `json:"url"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// Page is a fetched document as seen by crawlers.
type Page struct {
	URL      string
	FinalURL string
	Status   int
	Body     []byte
}
