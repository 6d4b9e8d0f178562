package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	boterrors "github.com/ducminhle1904/adaptive-dip-bot/internal/errors"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/events"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
)

const (
	component = "archive"

	DefaultTable         = "price_points"
	DefaultBatchSize     = 500
	DefaultFlushInterval = 10 * time.Second
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one archived price observation
type Row struct {
	Asset     string
	Price     float64
	Change24h float64
	Source    string
	Timestamp time.Time
}

// batchWriter sends rows in a single insert
type batchWriter interface {
	WriteBatch(ctx context.Context, rows []Row) error
}

type connWriter struct {
	conn  driver.Conn
	table string
}

func (w *connWriter) WriteBatch(ctx context.Context, rows []Row) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table+" (asset, price, change_24h, source, ts)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Asset, r.Price, r.Change24h, r.Source, r.Timestamp); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Config tunes the archive buffer
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
}

// PriceArchive buffers price updates from the event bus and inserts them
// into ClickHouse in batches. Failed batches are logged and dropped; the
// archive is never on the trading path.
type PriceArchive struct {
	writer        batchWriter
	logger        *logger.Logger
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	buf     []Row
	written int64
	failed  int64
}

// Migrate creates the archive table when missing
func Migrate(ctx context.Context, conn driver.Conn, table string) error {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			asset      String,
			price      Float64,
			change_24h Float64,
			source     LowCardinality(String),
			ts         DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (asset, ts)
	`)
}

// NewPriceArchive creates an archive writing through conn
func NewPriceArchive(conn driver.Conn, cfg Config, log *logger.Logger) (*PriceArchive, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, boterrors.NewConfigurationError(component, "init", fmt.Sprintf("invalid table name %q", cfg.Table))
	}
	return newPriceArchive(&connWriter{conn: conn, table: cfg.Table}, cfg, log), nil
}

func newPriceArchive(w batchWriter, cfg Config, log *logger.Logger) *PriceArchive {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PriceArchive{
		writer:        w,
		logger:        log,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		buf:           make([]Row, 0, cfg.BatchSize),
	}
}

// Subscribe attaches the archive to the bus for price updates
func (a *PriceArchive) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe("clickhouse-archive", a.batchSize*2, a.Handle, events.EventTypePriceUpdate)
}

// Handle buffers a price update and flushes once the batch is full
func (a *PriceArchive) Handle(event events.Event) error {
	update, ok := event.(*events.PriceUpdate)
	if !ok {
		return nil
	}

	a.mu.Lock()
	a.buf = append(a.buf, Row{
		Asset:     update.Asset,
		Price:     update.Price,
		Change24h: update.Change24h,
		Source:    update.Source,
		Timestamp: update.Timestamp,
	})
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(context.Background())
	}
	return nil
}

// Flush writes the buffered rows
func (a *PriceArchive) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return nil
	}
	rows := a.buf
	a.buf = make([]Row, 0, a.batchSize)
	a.mu.Unlock()

	if err := a.writer.WriteBatch(ctx, rows); err != nil {
		a.mu.Lock()
		a.failed += int64(len(rows))
		a.mu.Unlock()
		return boterrors.NewPersistenceError(component, "flush", err).WithContext("rows", len(rows))
	}

	a.mu.Lock()
	a.written += int64(len(rows))
	a.mu.Unlock()
	return nil
}

// Run flushes on an interval until ctx is done, then flushes once more
func (a *PriceArchive) Run(ctx context.Context) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.logger.LogError("archive final flush", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.LogError("archive flush", err)
			}
		}
	}
}

// Stats returns rows written, rows dropped on failed inserts and rows pending
func (a *PriceArchive) Stats() (written, failed int64, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written, a.failed, len(a.buf)
}
