package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

// BinanceConnector streams Binance USDⓈ-M Futures 24hr mini-ticker data,
// using the same read-loop/ping-loop shape as a plain trade/depth connector
// but subscribed to `@miniTicker` instead of `@trade`/`@depth`, since the
// engine's predicates need the 24h OHLCV aggregates a mini-ticker carries
// and have no use for raw trade prints.
type BinanceConnector struct {
	baseURL string
	logger  *zap.Logger
}

// NewBinanceConnector creates a connector against Binance's public futures
// combined-stream endpoint.
func NewBinanceConnector(logger *zap.Logger) *BinanceConnector {
	return &BinanceConnector{
		baseURL: "wss://fstream.binance.com/stream?streams=",
		logger:  logger.Named("ingestion.binance"),
	}
}

func (c *BinanceConnector) Name() string { return "binance" }

type binanceMiniTickerEnvelope struct {
	Stream string                `json:"stream"`
	Data   binanceMiniTickerData `json:"data"`
}

type binanceMiniTickerData struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

// Run dials the combined mini-ticker stream for symbols and forwards
// normalized ticks to out until the connection drops or ctx is canceled.
func (c *BinanceConnector) Run(ctx context.Context, symbols []domain.Symbol, out chan<- domain.TickEvent) error {
	if len(symbols) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym.String()) + "@miniTicker"
	}
	url := c.baseURL + strings.Join(streams, "/")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	headers := http.Header{}
	headers.Set("User-Agent", "alertengine/1.0")

	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return fmt.Errorf("binance dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(655350)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	c.logger.Info("connected to binance mini-ticker stream", zap.Int("symbols", len(symbols)))

	errCh := make(chan error, 1)
	go c.pingLoop(ctx, conn)

	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance read: %w", err)
		}

		tick, ok, err := c.parseTick(message)
		if err != nil {
			c.logger.Debug("dropping unparseable mini-ticker message", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		tick.Resync = first
		first = false

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *BinanceConnector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *BinanceConnector) parseTick(message []byte) (domain.TickEvent, bool, error) {
	var envelope binanceMiniTickerEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return domain.TickEvent{}, false, err
	}
	if envelope.Data.EventType != "24hrMiniTicker" {
		return domain.TickEvent{}, false, nil
	}

	closePrice, err := strconv.ParseFloat(envelope.Data.Close, 64)
	if err != nil {
		return domain.TickEvent{}, false, fmt.Errorf("close: %w", err)
	}
	open, err := strconv.ParseFloat(envelope.Data.Open, 64)
	if err != nil {
		return domain.TickEvent{}, false, fmt.Errorf("open: %w", err)
	}
	high, err := strconv.ParseFloat(envelope.Data.High, 64)
	if err != nil {
		return domain.TickEvent{}, false, fmt.Errorf("high: %w", err)
	}
	low, err := strconv.ParseFloat(envelope.Data.Low, 64)
	if err != nil {
		return domain.TickEvent{}, false, fmt.Errorf("low: %w", err)
	}
	volume, err := strconv.ParseFloat(envelope.Data.Volume, 64)
	if err != nil {
		return domain.TickEvent{}, false, fmt.Errorf("volume: %w", err)
	}

	var pctChange float64
	if open != 0 {
		pctChange = (closePrice - open) / open * 100
	}

	return domain.TickEvent{
		Symbol:       domain.NewSymbol(envelope.Data.Symbol),
		Price:        closePrice,
		Volume:       volume,
		Timestamp:    time.UnixMilli(envelope.Data.EventTime).UTC(),
		Open24h:      open,
		High24h:      high,
		Low24h:       low,
		Volume24h:    volume,
		PercentChg24: pctChange,
	}, true, nil
}
