package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"pocketmoney/internal/core"
	pmlog "pocketmoney/internal/log"
)

var errAdminNotConfigured = errors.New("admin credential not configured")

// requireAdmin lets the request through only with a valid admin bearer
// token. Every failure is the same 403 so callers learn nothing.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fmt.Errorf("%w: %v", core.ErrForbidden, errAdminNotConfigured)
		if s.tokens != nil {
			err = s.tokens.Verify(bearerToken(r))
		}
		if err != nil {
			pmlog.NewStructuredLogger(pmlog.FromContext(r.Context()).WithComponent(pmlog.ComponentAuth)).
				LogRejected(r.Context(), r.Method+" "+r.URL.Path, pmlog.ErrorTypeAuth, err,
					pmlog.NewFields().WithClientIP(s.securityDetector.ExtractClientIP(r)))
			ForbiddenError().Write(w)
			return
		}
		next(w, r)
	}
}

// handleIssueToken exchanges the admin password for a capability token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	p, ok := s.parseBody(w, r, pmlog.OpIssue)
	if !ok {
		return
	}
	if s.tokens == nil || !s.password.Check(p.Get("password")) {
		s.writeError(w, r, pmlog.OpIssue, "Admin", fmt.Errorf("%w: password mismatch", core.ErrForbidden))
		return
	}

	token, err := s.tokens.Issue()
	if err != nil {
		s.writeError(w, r, pmlog.OpIssue, "Admin", err)
		return
	}
	pmlog.FromContext(r.Context()).WithComponent(pmlog.ComponentAuth).InfoContext(r.Context(), "Admin token issued",
		pmlog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		"expires_at", token.ExpiresAt.Format(time.RFC3339))

	NewJSONResponse().Body(token).Write(w)
}

// handleRunPayout triggers one payout cycle now. Cycle dedup makes a repeat
// in the same window credit nothing.
func (s *Server) handleRunPayout(w http.ResponseWriter, r *http.Request) {
	if s.payouts == nil {
		ServiceUnavailableError("Payouts not configured").Write(w)
		return
	}
	result, err := s.payouts.Run(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, r, pmlog.OpPayout, "Payout", err)
		return
	}
	NewJSONResponse().Body(result).Write(w)
}

func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	if s.payouts == nil {
		ServiceUnavailableError("Payouts not configured").Write(w)
		return
	}
	limit, err := QueryInt(r, "limit", 0)
	if err != nil {
		s.badRequest(w, r, pmlog.OpList, err, err.Error())
		return
	}
	runs, err := s.payouts.Runs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, pmlog.OpList, "Payout", err)
		return
	}
	NewJSONResponse().Body(runs).Write(w)
}
