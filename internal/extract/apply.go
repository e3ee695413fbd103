package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// Well-known field names lifted into the normalized record.
var (
	idFields        = []string{"order_no", "product_code", "code", "id"}
	totalFields     = []string{"total_amount", "total", "price"}
	timeFields      = []string{"order_date", "date"}
	itemCodeFields  = []string{"product_code", "code"}
	itemNameFields  = []string{"product_name", "name"}
	itemQtyFields   = []string{"quantity", "qty"}
	itemPriceFields = []string{"unit_price", "price"}
)

var timestampLayouts = []string{OutputTimeLayout, "2006-01-02", time.RFC3339, "2006/01/02", "2006/01/02 15:04"}

// ApplyHTML parses body and applies the program to it.
func (p *Program) ApplyHTML(body []byte, kind entity.ResourceKind) ([]entity.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrParseFailure, err)
	}
	return p.Apply(doc, kind), nil
}

// Apply evaluates the directives against doc. Fields declared before the
// first repeat directive are page-level: they are inherited by every record,
// or form the single record of the page when there is no repeat directive.
// It performs no I/O.
func (p *Program) Apply(doc *goquery.Document, kind entity.ResourceKind) []entity.Record {
	root := doc.Selection
	page := evalFields(p.page, root)

	if len(p.groups) == 0 {
		if len(page) == 0 {
			return nil
		}
		return []entity.Record{buildRecord(kind, page, nil)}
	}

	var records []entity.Record
	for _, g := range p.groups {
		g.loc.find(root).Each(func(_ int, row *goquery.Selection) {
			fields := make(map[string]string, len(page)+len(g.fields))
			for k, v := range page {
				fields[k] = v
			}
			for k, v := range evalFields(g.fields, row) {
				fields[k] = v
			}

			var items []entity.LineItem
			for _, ig := range g.items {
				ig.loc.find(row).Each(func(_ int, it *goquery.Selection) {
					items = append(items, buildItem(evalFields(ig.fields, it)))
				})
			}
			records = append(records, buildRecord(kind, fields, items))
		})
	}
	return records
}

// NextPage returns the raw next-page reference (usually an href) or "".
func (p *Program) NextPage(doc *goquery.Document) string {
	if p.nextPage == nil {
		return ""
	}
	v, _ := p.nextPage.value(doc.Selection)
	return strings.TrimSpace(v)
}

// SessionValid reports whether a session-check page shows the signed-in
// marker. Programs without session_check accept every page.
func (p *Program) SessionValid(doc *goquery.Document) bool {
	if p.check == nil {
		return true
	}
	return p.check.find(doc.Selection).Length() > 0
}

func evalFields(rules []fieldRule, ctx *goquery.Selection) map[string]string {
	out := make(map[string]string, len(rules))
	for _, r := range rules {
		v, ok := r.loc.value(ctx)
		if !ok {
			continue
		}
		out[r.name] = applyTransforms(r.transforms, strings.TrimSpace(v))
	}
	return out
}

func buildRecord(kind entity.ResourceKind, fields map[string]string, items []entity.LineItem) entity.Record {
	rec := entity.Record{
		Kind:   kind,
		ID:     first(fields, idFields),
		Total:  first(fields, totalFields),
		Items:  items,
		Fields: fields,
	}
	if kind == entity.KindSearch {
		rec.Query = fields["query"]
	}
	rec.Timestamp = ParseTimestamp(first(fields, timeFields))
	return rec
}

func buildItem(fields map[string]string) entity.LineItem {
	return entity.LineItem{
		Code:      first(fields, itemCodeFields),
		Name:      first(fields, itemNameFields),
		Quantity:  first(fields, itemQtyFields),
		UnitPrice: first(fields, itemPriceFields),
		Fields:    fields,
	}
}

func first(fields map[string]string, names []string) string {
	for _, n := range names {
		if v := fields[n]; v != "" {
			return v
		}
	}
	return ""
}
