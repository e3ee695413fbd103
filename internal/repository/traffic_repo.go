package repository

import (
	"context"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// TrafficRepository keeps finished traffic summaries and their request events.
type TrafficRepository interface {
	Save(ctx context.Context, summary entity.TrafficSummary, events []entity.RequestEvent) error
}
