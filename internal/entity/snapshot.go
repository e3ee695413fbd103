package entity

import "time"

// Snapshot is the last known normalized payload for (site, kind, key).
type Snapshot struct {
	Site        string
	Kind        ResourceKind
	Key         string
	Payload     []byte
	Fingerprint string
	CapturedAt  time.Time
}

// ExtractionConfig is the stored, human-edited directive document for one
// (site, logic type).
type ExtractionConfig struct {
	Site      string
	Kind      ResourceKind
	Version   int
	Text      string
	UpdatedAt time.Time
}
