// Package server exposes the reporting operations over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/prodhub/api"
	"github.com/agentic-research/prodhub/internal/ratelimit"
	"github.com/agentic-research/prodhub/internal/report"
	"github.com/agentic-research/prodhub/internal/router"
	"github.com/agentic-research/prodhub/internal/sandbox"
)

// Server wires the report service into an HTTP router.
type Server struct {
	svc     *report.Service
	general *ratelimit.Limiter
	strict  *ratelimit.Limiter
	log     *slog.Logger
}

// New builds a Server. The strict limiter guards the ad-hoc query
// endpoint; the general limiter covers everything else under /api.
func New(svc *report.Service, general, strict *ratelimit.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, general: general, strict: strict, log: log}
}

// Handler returns the fully routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limit(s.general))
			r.Get("/records", s.handleRecords)
			r.Get("/items", s.handleItems)
			r.Get("/summary", s.handleSummary)
			r.Get("/summary/monthly", s.handleMonthly)
			r.Get("/summary/top-items", s.handleTopItems)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/clear", s.handleCacheClear)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limit(s.strict))
			r.Post("/query", s.handleQuery)
		})
	})
	return r
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientKey(r),
			"request_id", r.Context().Value(requestIDKey),
			"elapsed", time.Since(start).Round(time.Millisecond))
	})
}

// clientKey identifies the caller for rate limiting: the first
// X-Forwarded-For hop when present, the bare remote IP otherwise.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) limit(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !l.Allow(key) {
				retry := l.RetryAfter(key)
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
				s.writeError(w, http.StatusTooManyRequests, "rate-limited",
					"too many requests, retry later")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(key)))
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := oj.Marshal(v)
	_, _ = w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, status int, reason, msg string) {
	s.writeJSON(w, status, api.Error{Status: "error", Reason: reason, Message: msg})
}

// writeServiceError maps service failures onto HTTP statuses. Validation
// problems are the caller's fault; everything else is ours.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var reject *sandbox.RejectError
	switch {
	case errors.As(err, &reject):
		status := http.StatusBadRequest
		if reject.Reason == sandbox.ReasonTimeout {
			status = http.StatusGatewayTimeout
		}
		s.writeError(w, status, reject.Reason, reject.Error())
	case errors.Is(err, router.ErrInvalidCursor):
		s.writeError(w, http.StatusBadRequest, "invalid-cursor", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.svc.Records(r.Context(), report.RecordsQuery{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		ItemCode: q.Get("item_code"),
		LotNo:    q.Get("lot_no"),
		Limit:    intParam(r, "limit"),
		Cursor:   q.Get("cursor"),
		Offset:   intParam(r, "offset"),
	})
	if err != nil {
		if errors.Is(err, router.ErrInvalidCursor) {
			s.writeServiceError(w, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.SearchItems(r.Context(), r.URL.Query().Get("q"), intParam(r, "limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": items, "count": len(items)})
}

func (s *Server) rangeParams(r *http.Request) (string, string) {
	q := r.URL.Query()
	return q.Get("date_from"), q.Get("date_to")
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, to := s.rangeParams(r)
	sum, err := s.svc.Summary(r.Context(), from, to)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	from, to := s.rangeParams(r)
	trend, err := s.svc.MonthlyTrend(r.Context(), from, to)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": trend, "count": len(trend)})
}

func (s *Server) handleTopItems(w http.ResponseWriter, r *http.Request) {
	from, to := s.rangeParams(r)
	top, err := s.svc.TopItems(r.Context(), from, to, intParam(r, "limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"data": top, "count": len(top)})
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "too-large", "request body too large")
		return
	}
	if err := oj.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid-json", "body must be a JSON object with a query field")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "invalid-request", "query is required")
		return
	}

	res, err := s.svc.RunQuery(r.Context(), req.Query)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_version": s.svc.StoreVersion(),
	})
}
