package entity

import "fmt"

// ResourceKind is the logical resource a crawl produces. It doubles as the
// logic type of an extraction configuration.
type ResourceKind string

const (
	KindPurchaseHistory ResourceKind = "purchase_history"
	KindProduct         ResourceKind = "product"
	KindSearch          ResourceKind = "search"
)

// ParseResourceKind validates a kind coming from the CLI, API or storage.
func ParseResourceKind(s string) (ResourceKind, error) {
	switch k := ResourceKind(s); k {
	case KindPurchaseHistory, KindProduct, KindSearch:
		return k, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

func (k ResourceKind) String() string { return string(k) }
