package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/capmigrate/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

const (
	defaultBatchSize     = 2000
	defaultFlushInterval = 100 * time.Millisecond
)

var eventIDCounter atomic.Uint64

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// InsertStats reports what an InsertBuffer has written so far.
type InsertStats struct {
	Queued  int64
	Written int64
	Dropped int64
}

// InsertBuffer batches account records and writes them to DuckDB on a
// background goroutine. Add never waits on DuckDB unless the flush queue is full.
type InsertBuffer struct {
	writer        model.AccountWriter
	mu            sync.Mutex
	pending       []*AccountRecord
	flushChan     chan []*AccountRecord
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once

	queued  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix seconds of the last backpressure log
}

// NewInsertBuffer creates a buffer that flushes to writer.
func NewInsertBuffer(writer model.AccountWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := defaultBatchSize
	flushInterval := defaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]*AccountRecord, 0, batchSize),
		flushChan:     make(chan []*AccountRecord, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// Add queues a record for batch insertion.
func (b *InsertBuffer) Add(record *AccountRecord) {
	if record == nil {
		return
	}
	if record.EventID == "" {
		record.EventID = nextEventID()
	}
	b.queued.Add(1)

	b.mu.Lock()
	b.pending = append(b.pending, record)
	var batch []*AccountRecord
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]*AccountRecord, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch)
	}
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]*AccountRecord, 0, b.maxBatch)
	b.mu.Unlock()

	b.enqueue(batch)
}

// enqueue hands a batch to the flush worker, or writes it inline when the
// queue is full.
func (b *InsertBuffer) enqueue(batch []*AccountRecord) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		b.flushBatch(batch)
	}
}

// logBackpressure logs at most once every 10 seconds.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes so far", count)
	}
}

func (b *InsertBuffer) flushBatch(batch []*AccountRecord) {
	if len(batch) == 0 {
		return
	}
	n, err := b.writer.InsertAccountBatch(batch)
	if err != nil {
		log.Printf("duckdb: flush error: %v", err)
	}
	b.written.Add(int64(n))
	b.dropped.Add(int64(len(batch) - n))
}

// Stop writes everything still pending and waits for the flush worker.
// Calling Stop more than once is safe.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop's final drain must land before flushChan closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

// Stats returns a snapshot of the buffer counters.
func (b *InsertBuffer) Stats() InsertStats {
	return InsertStats{
		Queued:  b.queued.Load(),
		Written: b.written.Load(),
		Dropped: b.dropped.Load(),
	}
}

// InsertAccountBatch writes records in one transaction. If the transaction
// fails, it retries record by record and reports how many made it.
func (s *Store) InsertAccountBatch(records []*AccountRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	batchErr := s.insertBatchTx(ctx, records)
	if batchErr == nil {
		return len(records), nil
	}

	written := 0
	for _, r := range records {
		if err := s.insertBatchTx(ctx, []*AccountRecord{r}); err != nil {
			log.Printf("duckdb: dropping account (source=%s player=%s): %v", r.MigrationSource, r.PlayerName, err)
			continue
		}
		written++
	}
	if written < len(records) {
		return written, fmt.Errorf("duckdb: %d/%d accounts dropped: %w", len(records)-written, len(records), batchErr)
	}
	return written, nil
}

func (s *Store) insertBatchTx(ctx context.Context, records []*AccountRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO migrated_accounts (event_id, player_name, migration_source, balance, labels, migrated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		labels := []byte("{}")
		if len(r.Labels) > 0 {
			data, err := json.Marshal(r.Labels)
			if err != nil {
				return fmt.Errorf("marshal labels: %w", err)
			}
			labels = data
		}

		migratedAt := r.MigratedAt
		if migratedAt.IsZero() {
			migratedAt = time.Now().UTC()
		}
		eventID := r.EventID
		if eventID == "" {
			eventID = nextEventID()
		}

		if _, err := stmt.ExecContext(ctx,
			eventID, r.PlayerName, r.MigrationSource, r.Balance, string(labels), migratedAt,
		); err != nil {
			return fmt.Errorf("account insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func nextEventID() string {
	n := eventIDCounter.Add(1)
	return fmt.Sprintf("%x-%x", time.Now().UTC().UnixNano(), n)
}
