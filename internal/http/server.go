package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"pocketmoney/internal/auth"
	"pocketmoney/internal/cache"
	"pocketmoney/internal/core"
	pmlog "pocketmoney/internal/log"
	"pocketmoney/internal/middleware/ratelimit"
	"pocketmoney/internal/middleware/security"
	"pocketmoney/internal/middleware/trace"
	"pocketmoney/internal/services"
)

const (
	childCacheSize = 256
	childCacheTTL  = 10 * time.Minute
)

// Pinger is the readiness probe of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LiveFeed serves websocket subscribers of the ledger.
type LiveFeed interface {
	http.Handler
	Clients() int
}

// Deps are the collaborators the API is built from. Tokens and Password may
// be nil, which turns every admin endpoint into a 403.
type Deps struct {
	Ledger   *services.LedgerService
	Wishes   *services.WishService
	Payouts  *services.PayoutProcessor
	Store    Pinger
	Tokens   *auth.TokenIssuer
	Password *auth.PasswordChecker
	Feed     LiveFeed
	Logger   *pmlog.Logger

	RateLimitPerMinute int
	// TrustedProxies are CIDRs, beyond loopback and private ranges, whose
	// forwarded headers name the client.
	TrustedProxies []string
}

type Server struct {
	http.Server
	ledger   *services.LedgerService
	wishes   *services.WishService
	payouts  *services.PayoutProcessor
	store    Pinger
	tokens   *auth.TokenIssuer
	password *auth.PasswordChecker
	feed     LiveFeed
	logger   *pmlog.Logger

	// name → id lookups for /balance and /child-id
	childIDs     *cache.LRUCache[int64]
	cacheManager *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware. Call Shutdown to release the
// background cleanup goroutines.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = pmlog.New(pmlog.DefaultConfig())
	}
	logger = logger.WithComponent(pmlog.ComponentHTTP)

	s := &Server{
		ledger:           deps.Ledger,
		wishes:           deps.Wishes,
		payouts:          deps.Payouts,
		store:            deps.Store,
		tokens:           deps.Tokens,
		password:         deps.Password,
		feed:             deps.Feed,
		logger:           logger,
		childIDs:         cache.NewLRUCache[int64](childCacheSize, childCacheTTL),
		cacheManager:     cache.NewManager(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
		securityDetector: security.NewDetector(),
		startedAt:        time.Now(),
	}
	for _, cidr := range deps.TrustedProxies {
		if err := s.securityDetector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, pmlog.FieldError, err)
		}
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)
	s.cacheManager.Register(s.childIDs)
	s.cacheManager.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	// Operational
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Children
	mux.HandleFunc("GET /balance/{child_name}", s.handleGetBalance)
	mux.HandleFunc("GET /child-id/{name}", s.handleGetChildID)
	mux.HandleFunc("GET /children", s.handleListChildren)
	mux.HandleFunc("POST /add-child/{name}", s.requireAdmin(s.handleAddChild))
	mux.HandleFunc("PATCH /child/{child_id}", s.requireAdmin(s.handleUpdateChild))
	mux.HandleFunc("DELETE /child/{child_id}", s.requireAdmin(s.handleDeleteChild))

	// Ledger
	mux.HandleFunc("PATCH /adjust-balance/{child_id}", s.requireAdmin(s.handleAdjustBalance))
	mux.HandleFunc("POST /deposit/{child_id}", s.handleDeposit)
	mux.HandleFunc("POST /withdraw/{child_id}", s.handleWithdraw)
	mux.HandleFunc("POST /adjust/{child_id}", s.handleAdjust)
	mux.HandleFunc("GET /history/{child_id}", s.handleHistory)
	mux.HandleFunc("GET /stats/{child_id}", s.handleStats)
	mux.HandleFunc("GET /reconcile/{child_id}", s.handleReconcile)

	// Wishes
	mux.HandleFunc("GET /wishes/{child_id}", s.handleListWishes)
	mux.HandleFunc("POST /wish/{child_id}", s.handleCreateWish)
	mux.HandleFunc("PATCH /wish/{wish_id}", s.handleUpdateWish)
	mux.HandleFunc("DELETE /wish/{wish_id}", s.handleDeleteWish)
	mux.HandleFunc("POST /wish/{wish_id}/fulfill", s.handleFulfillWish)

	// Admin
	mux.HandleFunc("POST /admin/token", s.handleIssueToken)
	mux.HandleFunc("POST /payouts/run", s.requireAdmin(s.handleRunPayout))
	mux.HandleFunc("GET /payouts", s.requireAdmin(s.handleListPayouts))

	// Live feed
	if s.feed != nil {
		mux.Handle("GET /ws/ledger", s.feed)
	}
}

// middleware applies the chain outermost first: tracing, security headers,
// probe detection, request logger, rate limiting.
func (s *Server) middleware(next http.Handler) http.Handler {
	limited := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(next)
	withRequestID := pmlog.RequestIDMiddleware(trace.RequestIDFromRequest)(limited)
	withLogger := pmlog.Middleware(s.logger)(withRequestID)
	detected := s.securityDetector.Middleware(withLogger)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(detected)
	return s.traceMiddleware.Middleware(headers)
}

// Shutdown stops background goroutines then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.cacheManager.Stop()
	})
	return s.Server.Shutdown(ctx)
}

// writeError maps err to its response and logs it: server faults as errors,
// client faults as rejections.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op, subject string, err error) {
	s.writeErrorResponse(w, r, op, err, DomainError(err, subject))
}

// writeErrorResponse logs err and writes resp, for routes whose status
// differs from the DomainError mapping.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, op string, err error, resp *JSONResponseBuilder) {
	sl := pmlog.NewStructuredLogger(pmlog.FromContext(r.Context()))
	if resp.StatusCode() >= http.StatusInternalServerError {
		sl.LogError(r.Context(), "Request failed", err, pmlog.ComponentHTTP, op,
			pmlog.NewFields().WithErrorType(errorType(err)))
	} else {
		sl.LogRejected(r.Context(), op, errorType(err), err, nil)
	}
	resp.Write(w)
}

// badRequest logs a malformed request and answers 400 with detail.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, op string, err error, detail string) {
	pmlog.NewStructuredLogger(pmlog.FromContext(r.Context())).
		LogRejected(r.Context(), op, pmlog.ErrorTypeValidation, err, nil)
	BadRequestError(detail).Write(w)
}

// pathID reads an id path value, answering 400 itself when it is malformed.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, op, name string) (int64, bool) {
	id, err := PathID(r, name)
	if err != nil {
		s.badRequest(w, r, op, err, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// parseBody parses the request body, answering 400 itself on failure.
func (s *Server) parseBody(w http.ResponseWriter, r *http.Request, op string) (*RequestBodyParser, bool) {
	p := NewRequestBodyParser(r)
	if resp := ParseBodyOrFail(p); resp != nil {
		pmlog.NewStructuredLogger(pmlog.FromContext(r.Context())).
			LogRejected(r.Context(), op, pmlog.ErrorTypeValidation, p.Parse(), nil)
		resp.Write(w)
		return nil, false
	}
	return p, true
}

// resolveChild looks a child up by name through the id cache. A cached id
// whose child was deleted or renamed is dropped and resolved again.
func (s *Server) resolveChild(ctx context.Context, name string) (core.Child, error) {
	name = strings.TrimSpace(name)
	key := childNameKey(name)
	if id, ok := s.childIDs.Get(key); ok {
		child, err := s.ledger.GetChild(ctx, id)
		switch {
		case err == nil && child.Name == name:
			return child, nil
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return core.Child{}, err
		}
		s.childIDs.Delete(key)
	}

	child, err := s.ledger.GetChildByName(ctx, name)
	if err != nil {
		return core.Child{}, err
	}
	s.childIDs.Set(key, child.ID)
	return child, nil
}
