// Package metricsink persists post-performance observations to a time-series
// store. Samples are append-only; one observation fans out to one row per
// metric so dashboards can aggregate without unpacking maps.
package metricsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/wrenlabs/syndicate/provider"
)

// Sample is one metrics observation for a published post.
type Sample struct {
	RemoteID    string
	NetworkType string
	Timestamp   time.Time
	Metrics     provider.Metrics
}

// Sink receives performance samples. Write appends; Close releases the
// connection.
type Sink interface {
	Write(ctx context.Context, s Sample) error
	Close() error
}

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// ClickHouseSink writes samples with the native protocol's batch API.
type ClickHouseSink struct {
	conn driver.Conn
}

// Open connects to ClickHouse and verifies the connection.
func Open(ctx context.Context, cfg Config) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	slog.Info("connected to clickhouse", slog.Any("addr", cfg.Addr), slog.String("database", cfg.Database))
	return &ClickHouseSink{conn: conn}, nil
}

// EnsureSchema creates the samples table when missing.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS performance_samples (
			remote_id String,
			network_type LowCardinality(String),
			ts DateTime,
			metric LowCardinality(String),
			value Int64
		) ENGINE = MergeTree()
		ORDER BY (network_type, remote_id, ts)`)
	if err != nil {
		return fmt.Errorf("create performance_samples: %w", err)
	}
	return nil
}

// Write appends one row per metric in the sample.
func (s *ClickHouseSink) Write(ctx context.Context, sample Sample) error {
	if len(sample.Metrics) == 0 {
		return nil
	}
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO performance_samples (remote_id, network_type, ts, metric, value)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for name, value := range sample.Metrics {
		if err := batch.Append(sample.RemoteID, sample.NetworkType, ts, name, value); err != nil {
			return fmt.Errorf("append sample row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error { return s.conn.Close() }
