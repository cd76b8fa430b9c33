package ingestion

import (
	"context"

	"github.com/p9labs/alertengine/internal/domain"
)

// Connector is one upstream exchange's tick-stream driver (C5). Each
// exchange implements the same read-loop/ping-loop/reconnect shape; this
// interface is what lets the engine add another exchange by implementing one
// more Connector without touching Source's reconnect/backpressure logic.
type Connector interface {
	// Name identifies the connector for logs and metrics labels.
	Name() string
	// Run connects, streams normalized ticks onto out until ctx is canceled
	// or the connection is lost, and returns. Source supervises Run with
	// backoff and restarts it whenever it returns before ctx is canceled.
	Run(ctx context.Context, symbols []domain.Symbol, out chan<- domain.TickEvent) error
}
