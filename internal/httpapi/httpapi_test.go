package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/alertindex"
	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/domain"
)

func newTestServer(t *testing.T) (*Server, *alertindex.Index, *candlestore.Store) {
	t.Helper()
	idx := alertindex.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go idx.Run(ctx)

	store := candlestore.New(zap.NewNop(), 64)
	s := New(zap.NewNop(), store, idx, 3, "127.0.0.1:0", 1000, 1000)
	return s, idx, store
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestRuleStatusNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/rules/missing/status", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestRuleStatusWarmingUp(t *testing.T) {
	s, idx, store := newTestServer(t)
	idx.Upsert(domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		RSI: &domain.RSIRule{Timeframe: domain.Timeframe1h, Period: 14},
	})
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/rules/r1/status", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got ruleStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !got.WarmingUp {
		t.Fatalf("want warmingUp with no 1h candles against warm-up depth 3, got %+v", got)
	}

	_ = store // only exercised via the handler's candlestore.Ready call
}

func TestCandlesRequiresSymbolAndTimeframe(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/candles", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}
