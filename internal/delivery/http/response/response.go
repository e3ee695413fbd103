package response

import (
	"time"

	"github.com/ecscrape/scraper-service/internal/entity"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Cause string `json:"cause,omitempty"`
}

// BatchResponse is a DTO for a finished batch, mirroring entity.BatchSummary.
type BatchResponse struct {
	ID         string           `json:"id"`
	Kind       string           `json:"kind"`
	Mode       string           `json:"mode"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Outcomes   []entity.Outcome `json:"outcomes"`
	Error      string           `json:"error,omitempty"`
}

func NewBatchResponse(sum *entity.BatchSummary) BatchResponse {
	return BatchResponse{
		ID:         sum.ID,
		Kind:       sum.Kind.String(),
		Mode:       string(sum.Mode),
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Succeeded:  len(sum.Succeeded()),
		Failed:     len(sum.Failed()),
		Outcomes:   sum.Outcomes,
	}
}

type ConfigResponse struct {
	Site      string    `json:"site"`
	Kind      string    `json:"kind"`
	Version   int       `json:"version"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Created   bool      `json:"created,omitempty"`
}

func NewConfigResponse(cfg *entity.ExtractionConfig, created bool) ConfigResponse {
	return ConfigResponse{
		Site:      cfg.Site,
		Kind:      cfg.Kind.String(),
		Version:   cfg.Version,
		Text:      cfg.Text,
		UpdatedAt: cfg.UpdatedAt,
		Created:   created,
	}
}

type PreviewResponse struct {
	Count   int             `json:"count"`
	Records []entity.Record `json:"records"`
}
