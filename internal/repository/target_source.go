package repository

import "github.com/ecscrape/scraper-service/internal/entity"

// TargetSource lists the keys monitored for non-account batches: product
// codes for product batches and queries for search batches.
type TargetSource interface {
	Sites(kind entity.ResourceKind) []string
	Targets(site string, kind entity.ResourceKind) []string
}
