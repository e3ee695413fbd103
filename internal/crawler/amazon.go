package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/extract"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

const (
	amazonOrdersPerPage = 10
	amazonDateLayout    = "2006年1月2日"
)

var asinPattern = regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`)

// Amazon crawls Amazon Japan.
type Amazon struct {
	pager
	baseURL string
}

func NewAmazon(baseURL string, artifacts repository.ArtifactStore, opts Options, logger *zap.Logger) *Amazon {
	return &Amazon{
		pager: pager{
			moduleType: "amazon",
			artifacts:  artifacts,
			opts:       opts.withDefaults(),
			logger:     logger.With(zap.String("crawler", "amazon")),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (a *Amazon) ModuleType() string { return a.moduleType }

func (a *Amazon) FetchPurchaseHistoryList(ctx context.Context, s *traffic.Session, lastKnown *entity.Record, incremental bool) (*Result, error) {
	return a.history(ctx, s, a.ordersURL(0), lastKnown, incremental, a.parseOrders)
}

func (a *Amazon) ordersURL(startIndex int) string {
	return a.baseURL + "/gp/css/order-history?startIndex=" + strconv.Itoa(startIndex)
}

func (a *Amazon) parseOrders(fp *fetchedPage, pageNo int) ([]entity.Record, string, error) {
	if err := expect(fp.doc, "#ordersContainer, .your-orders-content-container", "order list"); err != nil {
		return nil, "", err
	}

	var (
		records []entity.Record
		err     error
	)
	fp.doc.Find(".order-card, .js-order-card").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		id := text(card.Find(".yohtmlc-order-id bdi, .yohtmlc-order-id .value"))
		if id == "" {
			err = fmt.Errorf("%w: order card without order number", entity.ErrParseFailure)
			return false
		}
		rec := entity.Record{
			ID:     id,
			Total:  extract.NormalizeCurrency(text(card.Find(".yohtmlc-order-total .value"))),
			Fields: map[string]string{"order_no": id},
		}
		date := text(card.Find(".yohtmlc-order-date .value, .order-date"))
		if rec.Timestamp = extract.ParseTimestamp(date, amazonDateLayout); rec.Timestamp != nil {
			rec.Fields["order_date"] = rec.Timestamp.Format(extract.OutputTimeLayout)
		}
		setField(rec.Fields, "delivery_status", text(card.Find(".delivery-box .a-text-bold, .yohtmlc-shipment-status-primaryText")))

		card.Find(".yohtmlc-item, .item-box").Each(func(_ int, it *goquery.Selection) {
			link := it.Find("a.a-link-normal[href], .yohtmlc-product-title a[href]").First()
			item := entity.LineItem{
				Name:      text(it.Find(".yohtmlc-product-title")),
				UnitPrice: extract.NormalizeCurrency(text(it.Find(".a-color-price, .item-price"))),
				Quantity:  text(it.Find(".item-view-qty")),
			}
			if m := asinPattern.FindStringSubmatch(link.AttrOr("href", "")); m != nil {
				item.Code = m[1]
			}
			if item.Quantity == "" {
				item.Quantity = "1"
			}
			rec.Items = append(rec.Items, item)
		})
		rec.Fields["total_amount"] = rec.Total
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, "", err
	}

	next := ""
	if fp.doc.Find("ul.a-pagination li.a-last a[href]").Length() > 0 {
		next = a.ordersURL(pageNo * amazonOrdersPerPage)
	}
	return records, next, nil
}

func (a *Amazon) FetchProductInfo(ctx context.Context, s *traffic.Session, key string) (*Result, error) {
	res := &Result{}
	fp, err := a.fetch(ctx, s, entity.KindProduct, a.baseURL+"/dp/"+url.PathEscape(key), res)
	if err != nil {
		return nil, err
	}
	if err := expect(fp.doc, "#productTitle", "product title"); err != nil {
		return nil, err
	}

	price := extract.NormalizeCurrency(text(fp.doc.Find("#corePrice_feature_div .a-offscreen, #priceblock_ourprice, .a-price .a-offscreen")))
	fields := map[string]string{"product_code": key, "name": text(fp.doc.Find("#productTitle"))}
	setField(fields, "price", price)
	setField(fields, "availability", text(fp.doc.Find("#availability")))
	setField(fields, "seller", text(fp.doc.Find("#sellerProfileTriggerId, #merchant-info")))

	rec := entity.Record{ID: key, Total: price, Fields: fields}
	res.Records = append(res.Records, a.stamp(rec, entity.KindProduct, fp.artifact))
	return res, nil
}

func (a *Amazon) SearchProduct(ctx context.Context, s *traffic.Session, query string) (*Result, error) {
	res := &Result{}
	fp, err := a.fetch(ctx, s, entity.KindSearch, a.baseURL+"/s?k="+url.QueryEscape(query), res)
	if err != nil {
		return nil, err
	}
	if err := expect(fp.doc, ".s-main-slot, .s-search-results", "search results"); err != nil {
		return nil, err
	}

	fp.doc.Find("[data-component-type=s-search-result][data-asin]").Each(func(_ int, hit *goquery.Selection) {
		asin := strings.TrimSpace(hit.AttrOr("data-asin", ""))
		if asin == "" {
			return
		}
		price := extract.NormalizeCurrency(text(hit.Find(".a-price .a-offscreen")))
		fields := map[string]string{"product_code": asin, "name": text(hit.Find("h2"))}
		setField(fields, "price", price)
		rec := entity.Record{ID: asin, Query: query, Total: price, Fields: fields}
		res.Records = append(res.Records, a.stamp(rec, entity.KindSearch, fp.artifact))
	})
	return res, nil
}
