// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and a
// background worker, so evaluations never block on the audit store. When
// the channel is full the record is dropped and counted; audit is
// best-effort and must not alter decisions.
type AuditService struct {
	store         audit.Store
	recordChan    chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	dropCount     atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.recordChan = make(chan audit.Record, size)
		s.channelSize = size
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:         store,
		recordChan:    make(chan audit.Record, defaultChannelSize),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record hands a record to the background worker without blocking. A full
// channel drops the record and bumps the drop counter.
func (s *AuditService) Record(rec audit.Record) {
	select {
	case s.recordChan <- rec:
	default:
		drops := s.dropCount.Add(1)
		s.logger.Warn("audit record dropped",
			"correlation_id", rec.CorrelationID,
			"total_drops", drops,
		)
	}
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for health reporting).
func (s *AuditService) ChannelDepth() int {
	return len(s.recordChan)
}

// ChannelCapacity returns the channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *AuditService) Stop() {
	close(s.recordChan)
	s.wg.Wait()
}

// worker collects and flushes audit records until the channel closes or the
// context is cancelled.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.recordChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain whatever is already buffered, then flush with a
			// bounded deadline.
			for {
				select {
				case rec, ok := <-s.recordChan:
					if !ok {
						s.finalFlush(batch)
						return
					}
					batch = append(batch, rec)
				default:
					s.finalFlush(batch)
					return
				}
			}
		}
	}
}

// finalFlush writes the remaining batch with its own deadline; the caller's
// context may already be cancelled at shutdown.
func (s *AuditService) finalFlush(batch []audit.Record) {
	if len(batch) == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(flushCtx, batch)
}

// flush writes a batch of records to the store.
// Errors are logged but not propagated.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
