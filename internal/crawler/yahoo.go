package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

var yahooDateLayouts = []string{"2006/01/02 15:04", "2006/1/2", "2006年1月2日"}

// Yahoo crawls Yahoo! Shopping.
type Yahoo struct {
	pager
	baseURL string
}

func NewYahoo(baseURL string, artifacts repository.ArtifactStore, opts Options, logger *zap.Logger) *Yahoo {
	return &Yahoo{
		pager: pager{
			moduleType: "yahoo",
			artifacts:  artifacts,
			opts:       opts.withDefaults(),
			logger:     logger.With(zap.String("crawler", "yahoo")),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (y *Yahoo) ModuleType() string { return y.moduleType }

func (y *Yahoo) FetchPurchaseHistoryList(ctx context.Context, s *traffic.Session, lastKnown *entity.Record, incremental bool) (*Result, error) {
	return y.history(ctx, s, y.baseURL+"/order/history/list?page=1", lastKnown, incremental, y.parseOrders)
}

func (y *Yahoo) parseOrders(fp *fetchedPage, _ int) ([]entity.Record, string, error) {
	if err := expect(fp.doc, ".elOrderList, #orderList", "order list"); err != nil {
		return nil, "", err
	}

	var (
		records []entity.Record
		err     error
	)
	fp.doc.Find(".elOrderList .elOrder, #orderList .elOrder").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		id := text(o.Find(".elOrderNum"))
		if id == "" {
			err = fmt.Errorf("%w: order without order number", entity.ErrParseFailure)
			return false
		}
		total := extract.NormalizeCurrency(text(o.Find(".elOrderPrice")))
		rec := entity.Record{
			ID:     id,
			Total:  total,
			Fields: map[string]string{"order_no": id, "total_amount": total},
		}
		if rec.Timestamp = extract.ParseTimestamp(text(o.Find(".elOrderDate")), yahooDateLayouts...); rec.Timestamp != nil {
			rec.Fields["order_date"] = rec.Timestamp.Format(extract.OutputTimeLayout)
		}
		setField(rec.Fields, "store", text(o.Find(".elStoreName")))
		setField(rec.Fields, "delivery_status", text(o.Find(".elOrderStatus")))

		o.Find(".elItem").Each(func(_ int, it *goquery.Selection) {
			qty := extract.NormalizeCurrency(text(it.Find(".elItemQuantity")))
			if qty == "" {
				qty = "1"
			}
			rec.Items = append(rec.Items, entity.LineItem{
				Code:      strings.TrimSpace(it.AttrOr("data-item-code", "")),
				Name:      text(it.Find(".elItemName")),
				Quantity:  qty,
				UnitPrice: extract.NormalizeCurrency(text(it.Find(".elItemPrice"))),
			})
		})
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, "", err
	}

	next := strings.TrimSpace(fp.doc.Find(".elPager .elNext a[href]").First().AttrOr("href", ""))
	return records, next, nil
}

// FetchProductInfo reads one store item. key is "<store>/<item>".
func (y *Yahoo) FetchProductInfo(ctx context.Context, s *traffic.Session, key string) (*Result, error) {
	store, item, ok := strings.Cut(key, "/")
	if !ok || store == "" || item == "" {
		return nil, fmt.Errorf("%w: yahoo product key %q is not <store>/<item>", entity.ErrParseFailure, key)
	}

	res := &Result{}
	fp, err := y.fetch(ctx, s, entity.KindProduct, y.baseURL+"/"+url.PathEscape(store)+"/"+url.PathEscape(item)+".html", res)
	if err != nil {
		return nil, err
	}
	if err := expect(fp.doc, ".elName, #itemName", "item name"); err != nil {
		return nil, err
	}

	price := extract.NormalizeCurrency(text(fp.doc.Find(".elPrice, #itemPrice")))
	fields := map[string]string{"product_code": key, "name": text(fp.doc.Find(".elName, #itemName")), "store": store}
	setField(fields, "price", price)
	setField(fields, "stock", text(fp.doc.Find(".elStock")))
	setField(fields, "points", extract.NormalizeCurrency(text(fp.doc.Find(".elPoint"))))

	rec := entity.Record{ID: key, Total: price, Fields: fields}
	res.Records = append(res.Records, y.stamp(rec, entity.KindProduct, fp.artifact))
	return res, nil
}

func (y *Yahoo) SearchProduct(ctx context.Context, s *traffic.Session, query string) (*Result, error) {
	res := &Result{}
	fp, err := y.fetch(ctx, s, entity.KindSearch, y.baseURL+"/search?p="+url.QueryEscape(query), res)
	if err != nil {
		return nil, err
	}
	if err := expect(fp.doc, ".SearchResults, #searchResults", "search results"); err != nil {
		return nil, err
	}

	fp.doc.Find(".SearchResult[data-item-id]").Each(func(_ int, hit *goquery.Selection) {
		id := strings.TrimSpace(hit.AttrOr("data-item-id", ""))
		if id == "" {
			return
		}
		price := extract.NormalizeCurrency(text(hit.Find(".SearchResult__price")))
		fields := map[string]string{"product_code": id, "name": text(hit.Find(".SearchResult__name"))}
		setField(fields, "price", price)
		setField(fields, "store", text(hit.Find(".SearchResult__store")))
		rec := entity.Record{ID: id, Query: query, Total: price, Fields: fields}
		res.Records = append(res.Records, y.stamp(rec, entity.KindSearch, fp.artifact))
	})
	return res, nil
}
