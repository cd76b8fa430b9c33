package candlestore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

func candle(open, high, low, close float64) domain.Candle {
	return domain.Candle{Open: open, High: high, Low: low, Close: close, Volume: 1}
}

func TestAppendAndLastPreservesOrder(t *testing.T) {
	s := New(zap.NewNop(), 3)
	sym := domain.NewSymbol("btcusdt")

	s.Append(sym, domain.Timeframe1m, candle(1, 1, 1, 1))
	s.Append(sym, domain.Timeframe1m, candle(2, 2, 2, 2))
	s.Append(sym, domain.Timeframe1m, candle(3, 3, 3, 3))

	last := s.Last(sym, domain.Timeframe1m, 3)
	if len(last) != 3 {
		t.Fatalf("want 3 candles, got %d", len(last))
	}
	if last[0].Open != 1 || last[2].Open != 3 {
		t.Fatalf("unexpected order: %+v", last)
	}
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	s := New(zap.NewNop(), 2)
	sym := domain.NewSymbol("ethusdt")

	s.Append(sym, domain.Timeframe1m, candle(1, 1, 1, 1))
	s.Append(sym, domain.Timeframe1m, candle(2, 2, 2, 2))
	s.Append(sym, domain.Timeframe1m, candle(3, 3, 3, 3))

	if s.Len(sym, domain.Timeframe1m) != 2 {
		t.Fatalf("want len 2, got %d", s.Len(sym, domain.Timeframe1m))
	}
	last := s.Last(sym, domain.Timeframe1m, 2)
	if last[0].Open != 2 || last[1].Open != 3 {
		t.Fatalf("want oldest evicted, got %+v", last)
	}
}

func TestReadyReflectsMinCandles(t *testing.T) {
	s := New(zap.NewNop(), 10)
	sym := domain.NewSymbol("solusdt")

	if s.Ready(sym, domain.Timeframe1m, 3) {
		t.Fatal("should not be ready with no candles")
	}
	s.Append(sym, domain.Timeframe1m, candle(1, 1, 1, 1))
	s.Append(sym, domain.Timeframe1m, candle(1, 1, 1, 1))
	if s.Ready(sym, domain.Timeframe1m, 3) {
		t.Fatal("should not be ready with 2 of 3 candles")
	}
	s.Append(sym, domain.Timeframe1m, candle(1, 1, 1, 1))
	if !s.Ready(sym, domain.Timeframe1m, 3) {
		t.Fatal("should be ready with 3 of 3 candles")
	}
}

func TestWarmUpFetchesAndDropsOpenCandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			[1609459200000,"100.0","105.0","95.0","102.0","10.0",1609459259999,"0","0","0","0","0"],
			[1609459260000,"102.0","110.0","101.0","108.0","12.0",1609459319999,"0","0","0","0","0"],
			[1609459320000,"108.0","109.0","107.0","108.5","3.0",1609459379999,"0","0","0","0","0"]
		]`))
	}))
	defer srv.Close()

	s := New(zap.NewNop(), 10, WithBaseURL(srv.URL))
	sym := domain.NewSymbol("btcusdt")

	err := s.WarmUp(context.Background(), sym, domain.Timeframe1m, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len(sym, domain.Timeframe1m) != 2 {
		t.Fatalf("want 2 closed candles retained (last row dropped), got %d", s.Len(sym, domain.Timeframe1m))
	}
	last := s.Last(sym, domain.Timeframe1m, 2)
	if last[1].Close != 108 {
		t.Fatalf("want last retained close 108 (open candle dropped), got %v", last[1].Close)
	}
	if last[0].OpenTime.Equal(time.Time{}) {
		t.Fatal("expected open time to be parsed")
	}
}

func TestWarmUpRejectsUnsupportedTimeframe(t *testing.T) {
	s := New(zap.NewNop(), 10)
	err := s.WarmUp(context.Background(), domain.NewSymbol("btcusdt"), domain.Timeframe("3m"), 10)
	if err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestWarmUpPropagatesUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(zap.NewNop(), 10, WithBaseURL(srv.URL))
	err := s.WarmUp(context.Background(), domain.NewSymbol("btcusdt"), domain.Timeframe1h, 10)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}
