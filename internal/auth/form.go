package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/traffic"
	"github.com/ecscrape/scraper-service/pkg/utils"
)

// FormSite describes a site whose login is a plain HTML form.
type FormSite struct {
	ModuleType    string
	SignInURL     string
	FormSelector  string
	UserField     string
	PasswordField string
	// VerifyURL is a page only reachable when signed in. The session is
	// valid when it does not bounce to a URL containing SignInMarker and
	// the page contains SignedInSelector.
	VerifyURL        string
	SignInMarker     string
	SignedInSelector string
}

// Amazon returns the form login of Amazon Japan rooted at baseURL.
func Amazon(baseURL string) FormSite {
	base := strings.TrimRight(baseURL, "/")
	return FormSite{
		ModuleType:       "amazon",
		SignInURL:        base + "/ap/signin",
		FormSelector:     "form[name=signIn]",
		UserField:        "email",
		PasswordField:    "password",
		VerifyURL:        base + "/gp/css/order-history",
		SignInMarker:     "/ap/signin",
		SignedInSelector: "#ordersContainer, .your-orders-content-container",
	}
}

// Yahoo returns the form login of Yahoo! Shopping. Login lives on a separate
// host from the order history.
func Yahoo(loginBaseURL, shopBaseURL string) FormSite {
	login := strings.TrimRight(loginBaseURL, "/")
	shop := strings.TrimRight(shopBaseURL, "/")
	return FormSite{
		ModuleType:       "yahoo",
		SignInURL:        login + "/config/login",
		FormSelector:     "form#login_form, form[name=login_form]",
		UserField:        "login",
		PasswordField:    "passwd",
		VerifyURL:        shop + "/order/history/list",
		SignInMarker:     "/config/login",
		SignedInSelector: ".elOrderList, #orderList",
	}
}

// FormProvider restores a stored session when possible and falls back to
// submitting the login form.
type FormProvider struct {
	site   FormSite
	logger *zap.Logger
}

func NewFormProvider(site FormSite, logger *zap.Logger) *FormProvider {
	return &FormProvider{site: site, logger: logger.With(zap.String("provider", site.ModuleType))}
}

func (p *FormProvider) ModuleType() string { return p.site.ModuleType }

func (p *FormProvider) Authenticate(ctx context.Context, s *traffic.Session, creds Credentials) Result {
	if res, tried := restore(ctx, s, creds.SessionBlob, p.verify); tried {
		if res.Success {
			return res
		}
		p.logger.Info("stored session rejected, logging in again", zap.String("reason", res.FailureReason))
	}

	if creds.LoginID == "" || creds.Password == "" {
		return failed(entity.CauseAuth, "no usable session and no password")
	}
	if err := p.login(ctx, s, creds); err != nil {
		return failedErr("login", err)
	}
	if err := p.verify(ctx, s); err != nil {
		return failedErr("verify login", err)
	}
	return Result{Success: true}
}

func (p *FormProvider) login(ctx context.Context, s *traffic.Session, creds Credentials) error {
	page, err := s.Get(ctx, p.site.SignInURL)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("%w: sign-in page: %v", entity.ErrAuthFailure, err)
	}
	form := doc.Find(p.site.FormSelector).First()
	if form.Length() == 0 {
		return fmt.Errorf("%w: sign-in form %q not found", entity.ErrAuthFailure, p.site.FormSelector)
	}

	values := url.Values{}
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		typ := strings.ToLower(in.AttrOr("type", "text"))
		if typ == "submit" || typ == "button" || typ == "image" {
			return
		}
		values.Set(in.AttrOr("name", ""), in.AttrOr("value", ""))
	})
	values.Set(p.site.UserField, creds.LoginID)
	values.Set(p.site.PasswordField, creds.Password)

	action := page.FinalURL
	if a := strings.TrimSpace(form.AttrOr("action", "")); a != "" {
		if action, err = utils.ToAbsoluteURL(page.FinalURL, a); err != nil {
			return fmt.Errorf("%w: form action %q: %v", entity.ErrAuthFailure, a, err)
		}
	}

	_, err = s.PostForm(ctx, action, values)
	return err
}

func (p *FormProvider) verify(ctx context.Context, s *traffic.Session) error {
	page, err := s.Get(ctx, p.site.VerifyURL)
	if err != nil {
		return err
	}
	if p.site.SignInMarker != "" && strings.Contains(page.FinalURL, p.site.SignInMarker) {
		return fmt.Errorf("%w: %v: redirected to sign-in", entity.ErrAuthFailure, errRejected)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrAuthFailure, err)
	}
	if doc.Find(p.site.SignedInSelector).Length() == 0 {
		return fmt.Errorf("%w: %v: signed-in marker missing", entity.ErrAuthFailure, errRejected)
	}
	return nil
}
