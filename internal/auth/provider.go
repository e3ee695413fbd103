// Package auth establishes authenticated traffic sessions, either by
// restoring a stored cookie set or by submitting the site's login form.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/repository"
	"github.com/ecscrape/scraper-service/internal/traffic"
)

// Credentials are what an account offers for authentication.
type Credentials struct {
	LoginID     string
	Password    string
	SessionBlob string
}

// Result reports the authentication outcome. Restored is set when the stored
// session blob was accepted; a fresh login leaves it false so the caller
// knows to persist the new cookie set.
type Result struct {
	Success       bool
	Restored      bool
	FailureReason string
	Cause         entity.FailureCause
}

func failed(cause entity.FailureCause, reason string) Result {
	return Result{FailureReason: reason, Cause: cause}
}

// failedErr turns a session error into a failed Result, keeping network
// problems apart from rejected credentials.
func failedErr(step string, err error) Result {
	cause := entity.Classify(err)
	if cause == entity.CauseUnknown {
		cause = entity.CauseAuth
	}
	return failed(cause, step+": "+err.Error())
}

// Provider authenticates a session for one module type. Authentication
// problems are reported in the Result, never as an error.
type Provider interface {
	ModuleType() string
	Authenticate(ctx context.Context, s *traffic.Session, creds Credentials) Result
}

// Registry routes a site to its provider. Sites without a dedicated provider
// get a restore-only provider driven by their extraction configuration.
type Registry struct {
	configs repository.ConfigRepository
	logger  *zap.Logger

	mu        sync.Mutex
	providers map[string]Provider
}

func NewRegistry(configs repository.ConfigRepository, logger *zap.Logger, providers ...Provider) *Registry {
	r := &Registry{
		configs:   configs,
		logger:    logger,
		providers: make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		r.providers[strings.ToLower(p.ModuleType())] = p
	}
	return r
}

// Resolve returns the provider for site.
func (r *Registry) Resolve(site string) Provider {
	key := strings.ToLower(site)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[key]; ok {
		return p
	}
	p := NewGeneralProvider(key, r.configs, r.logger)
	r.providers[key] = p
	return p
}

// restore loads the blob into the session and checks that the site still
// accepts it. ok is false with a zero Result when there is nothing to restore.
func restore(ctx context.Context, s *traffic.Session, blob string, verify func(context.Context, *traffic.Session) error) (Result, bool) {
	if blob == "" {
		return Result{}, false
	}
	if err := s.RestoreCookies(blob); err != nil {
		return failedErr("restore session", err), true
	}
	if err := verify(ctx, s); err != nil {
		return failedErr("verify restored session", err), true
	}
	return Result{Success: true, Restored: true}, true
}

var errRejected = errors.New("site did not accept the session")
