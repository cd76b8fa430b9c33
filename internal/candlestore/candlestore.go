// Package candlestore implements C2: the bounded per-symbol, per-timeframe
// history of closed candles that IndicatorKernel reads from, plus the warm-up
// backfill against Binance's klines REST endpoint.
package candlestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/apperrors"
	"github.com/p9labs/alertengine/internal/domain"
)

// Store holds bounded candle history for every symbol/timeframe pair the
// engine tracks. Capacity is fixed at construction; once full, pushing a new
// candle evicts the oldest.
type Store struct {
	logger   *zap.Logger
	capacity int

	mu     sync.RWMutex
	series map[domain.Symbol]map[domain.Timeframe]*ring

	httpClient *http.Client
	baseURL    string
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithBaseURL overrides the Binance klines REST base, for tests.
func WithBaseURL(url string) Option {
	return func(s *Store) { s.baseURL = url }
}

// New creates a Store retaining up to capacity closed candles per series.
func New(logger *zap.Logger, capacity int, opts ...Option) *Store {
	s := &Store{
		logger:   logger.Named("candlestore"),
		capacity: capacity,
		series:   make(map[domain.Symbol]map[domain.Timeframe]*ring),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: "https://api.binance.com",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ringFor(symbol domain.Symbol, tf domain.Timeframe) *ring {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTF, ok := s.series[symbol]
	if !ok {
		byTF = make(map[domain.Timeframe]*ring)
		s.series[symbol] = byTF
	}
	r, ok := byTF[tf]
	if !ok {
		r = newRing(s.capacity)
		byTF[tf] = r
	}
	return r
}

// Append records a newly closed candle for symbol/tf, evicting the oldest if
// the series is at capacity. Called by EvaluationEngine for every
// domain.ClosedBucket reported by PriceCache.
func (s *Store) Append(symbol domain.Symbol, tf domain.Timeframe, c domain.Candle) {
	s.ringFor(symbol, tf).push(c)
}

// Last returns up to n of the most recent closed candles, oldest first.
func (s *Store) Last(symbol domain.Symbol, tf domain.Timeframe, n int) []domain.Candle {
	s.mu.RLock()
	byTF, ok := s.series[symbol]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	r, ok := byTF[tf]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.last(n)
}

// Len reports how many closed candles are currently retained for symbol/tf.
func (s *Store) Len(symbol domain.Symbol, tf domain.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTF, ok := s.series[symbol]
	if !ok {
		return 0
	}
	r, ok := byTF[tf]
	if !ok {
		return 0
	}
	return r.len()
}

// Ready reports whether the series holds at least minCandles, the warm-up
// gate EvaluationEngine checks before evaluating any indicator predicate
// depending on that timeframe (spec §4.3 / §4.6 warm-up semantics).
func (s *Store) Ready(symbol domain.Symbol, tf domain.Timeframe, minCandles int) bool {
	return s.Len(symbol, tf) >= minCandles
}

// binanceKline is one row of Binance's /api/v3/klines array-of-arrays response.
type binanceKline []interface{}

// WarmUp backfills a symbol/timeframe series from Binance's public klines
// endpoint, fetching up to limit of the most recently closed candles. The
// final (possibly still-open) candle Binance returns is dropped: CandleStore
// only ever holds closed candles, current state lives in PriceCache (C1).
func (s *Store) WarmUp(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) error {
	interval, err := binanceInterval(tf)
	if err != nil {
		return apperrors.New(apperrors.KindConfiguration, err)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		s.baseURL, symbol.String(), interval, limit+1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.New(apperrors.KindTransientUpstream, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindTransientUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.KindTransientUpstream,
			fmt.Errorf("binance klines %s %s: status %d", symbol, tf, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.New(apperrors.KindTransientUpstream, err)
	}

	var rows []binanceKline
	if err := json.Unmarshal(body, &rows); err != nil {
		return apperrors.New(apperrors.KindDataGap, err)
	}
	if len(rows) == 0 {
		return apperrors.New(apperrors.KindDataGap, fmt.Errorf("no klines returned for %s %s", symbol, tf))
	}

	// Drop the last row: Binance includes the still-forming candle.
	if len(rows) > 1 {
		rows = rows[:len(rows)-1]
	}

	r := s.ringFor(symbol, tf)
	for _, row := range rows {
		c, err := convertBinanceKline(row)
		if err != nil {
			s.logger.Warn("skipping malformed kline row",
				zap.String("symbol", symbol.String()), zap.String("timeframe", string(tf)), zap.Error(err))
			continue
		}
		r.push(c)
	}

	s.logger.Info("warm-up complete",
		zap.String("symbol", symbol.String()),
		zap.String("timeframe", string(tf)),
		zap.Int("candles", r.len()),
	)
	return nil
}

func binanceInterval(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.Timeframe1m:
		return "1m", nil
	case domain.Timeframe5m:
		return "5m", nil
	case domain.Timeframe15m:
		return "15m", nil
	case domain.Timeframe30m:
		return "30m", nil
	case domain.Timeframe1h:
		return "1h", nil
	case domain.Timeframe4h:
		return "4h", nil
	case domain.Timeframe12h:
		return "12h", nil
	case domain.Timeframe1d:
		return "1d", nil
	case domain.Timeframe1w:
		return "1w", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", tf)
	}
}

func convertBinanceKline(row binanceKline) (domain.Candle, error) {
	if len(row) < 7 {
		return domain.Candle{}, fmt.Errorf("kline row has %d fields, want >= 7", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("open time field not numeric")
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("close time field not numeric")
	}

	open, err := parseKlineFloat(row[1])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := parseKlineFloat(row[2])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := parseKlineFloat(row[3])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := parseKlineFloat(row[4])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := parseKlineFloat(row[5])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("volume: %w", err)
	}

	return domain.Candle{
		OpenTime:  time.UnixMilli(int64(openMs)).UTC(),
		CloseTime: time.UnixMilli(int64(closeMs)).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func parseKlineFloat(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("field not a string")
	}
	return strconv.ParseFloat(s, 64)
}
