package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ecscrape/scraper-service/internal/entity"
)

func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.First().Text()), " ")
}

// expect fails with a parse failure when none of the page's elements
// match selector.
func expect(doc *goquery.Document, selector, what string) error {
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s (%s) not found", entity.ErrParseFailure, what, selector)
	}
	return nil
}

func setField(fields map[string]string, name, value string) {
	if value != "" {
		fields[name] = value
	}
}
