// Package httpapi exposes a read-only status surface over the engine's
// in-memory state: candle history for debugging indicator behavior, and a
// rule's active/warm-up status. Routing uses go-chi, and the whole mux sits
// behind a token-bucket limiter from golang.org/x/time/rate, mirroring the
// request-shedding posture the ingestion side applies to a slow consumer.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/p9labs/alertengine/internal/alertindex"
	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/domain"
)

// Server serves the read-only HTTP status API.
type Server struct {
	logger  *zap.Logger
	candles *candlestore.Store
	index   *alertindex.Index
	warmup  int
	server  *http.Server
}

// New builds a Server. warmupDepth must match the EvaluationEngine's
// configured warm-up depth so /rules/{id}/status reports consistent readiness.
func New(logger *zap.Logger, candles *candlestore.Store, index *alertindex.Index, warmupDepth int,
	addr string, limitPerSecond float64, burst int) *Server {

	s := &Server{logger: logger.Named("httpapi"), candles: candles, index: index, warmup: warmupDepth}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(limitPerSecond, burst))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/candles", s.handleCandles)
	r.Get("/rules/{id}/status", s.handleRuleStatus)

	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

// Serve starts the HTTP server in the background.
func (s *Server) Serve() {
	s.logger.Info("http api listening", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http api stopped", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func rateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NewSymbol(r.URL.Query().Get("symbol"))
	tf := domain.Timeframe(r.URL.Query().Get("timeframe"))
	if symbol == "" || !tf.Valid() {
		http.Error(w, "symbol and a valid timeframe are required", http.StatusBadRequest)
		return
	}

	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	candles := s.candles.Last(symbol, tf, count)
	writeJSON(w, http.StatusOK, candles)
}

type ruleStatus struct {
	RuleID    domain.RuleID `json:"ruleId"`
	Found     bool          `json:"found"`
	Active    bool          `json:"active,omitempty"`
	WarmingUp bool          `json:"warmingUp,omitempty"`
	Series    []seriesReady `json:"series,omitempty"`
}

type seriesReady struct {
	Timeframe domain.Timeframe `json:"timeframe"`
	Ready     bool             `json:"ready"`
	Candles   int              `json:"candles"`
}

func (s *Server) handleRuleStatus(w http.ResponseWriter, r *http.Request) {
	id := domain.RuleID(chi.URLParam(r, "id"))
	rule, ok := s.index.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ruleStatus{RuleID: id, Found: false})
		return
	}

	status := ruleStatus{RuleID: id, Found: true, Active: rule.Active}
	for _, tf := range rule.DependsOnSeries() {
		n := s.candles.Len(rule.Symbol, tf)
		ready := s.candles.Ready(rule.Symbol, tf, s.warmup)
		status.Series = append(status.Series, seriesReady{Timeframe: tf, Ready: ready, Candles: n})
		if !ready {
			status.WarmingUp = true
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
