package repository

import (
	"context"
	"net/http"
	"net/url"
)

// FetchRequest is a single HTTP exchange issued by a traffic session.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Form    url.Values
	Cookies []*http.Cookie
	Proxy   string
}

// FetchResponse is the raw answer. Redirects are not followed by fetchers;
// the session does that so every hop's cookies are kept.
type FetchResponse struct {
	Status   int
	Body     []byte
	FinalURL string
	Location string
	Cookies  []*http.Cookie
}

// Fetcher is the page-fetch collaborator.
type Fetcher interface {
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}
