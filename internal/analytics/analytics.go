// Package analytics batches per-request and per-log-line rows for
// asynchronous flush to an external sink, so request handling never blocks
// on analytics storage.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RequestRow is one completed request's accounting record.
type RequestRow struct {
	DeploymentID string
	FunctionID   string
	Region       string

	Method     string
	StatusCode int

	BytesIn  int
	BytesOut int

	CPUTimeMicros int64
	MemoryBytes   int64

	ReceivedAt time.Time
}

// LogRow is one log record for a deployment, such as the error, timeout or
// memory-limit outcome the dispatcher records for a failed request.
type LogRow struct {
	DeploymentID string
	FunctionID   string

	Level   string
	Message string

	RequestID string
	EmittedAt time.Time
}

// RequestSink persists a batch of RequestRows.
type RequestSink interface {
	InsertRequests(ctx context.Context, rows []RequestRow) error
}

// LogSink persists a batch of LogRows.
type LogSink interface {
	InsertLogs(ctx context.Context, rows []LogRow) error
}

// maxBatch caps how many rows of one kind accumulate before a flush is
// forced, independent of the ticker interval, so a traffic spike cannot
// grow the pending slices unbounded between ticks.
const maxBatch = 500

// BatchInserter accumulates rows in memory and flushes them to the
// configured sinks on a fixed interval, guarded by a single mutex since the
// two slices are always flushed together.
type BatchInserter struct {
	requests RequestSink
	logs     LogSink
	log      *logrus.Entry

	interval time.Duration

	mu         sync.Mutex
	pendingReq []RequestRow
	pendingLog []LogRow
}

// New creates a BatchInserter. Either sink may be nil, in which case rows
// of that kind are dropped on flush rather than erroring.
func New(requests RequestSink, logs LogSink, interval time.Duration, log *logrus.Entry) *BatchInserter {
	return &BatchInserter{requests: requests, logs: logs, interval: interval, log: log}
}

// AddRequest queues a request row for the next flush, forcing an immediate
// flush if the pending batch has reached maxBatch.
func (b *BatchInserter) AddRequest(row RequestRow) {
	b.mu.Lock()
	b.pendingReq = append(b.pendingReq, row)
	full := len(b.pendingReq) >= maxBatch
	b.mu.Unlock()
	if full {
		b.Flush(context.Background())
	}
}

// AddLog queues a log row for the next flush, forcing an immediate flush if
// the pending batch has reached maxBatch.
func (b *BatchInserter) AddLog(row LogRow) {
	b.mu.Lock()
	b.pendingLog = append(b.pendingLog, row)
	full := len(b.pendingLog) >= maxBatch
	b.mu.Unlock()
	if full {
		b.Flush(context.Background())
	}
}

// Run flushes queued rows every interval until ctx is done, then performs
// one final flush before returning.
func (b *BatchInserter) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Flush sends any queued rows to their sinks immediately, clearing the
// queue regardless of whether the sink call succeeds so one bad batch does
// not grow unbounded.
func (b *BatchInserter) Flush(ctx context.Context) {
	b.mu.Lock()
	reqs := b.pendingReq
	logRows := b.pendingLog
	b.pendingReq = nil
	b.pendingLog = nil
	b.mu.Unlock()

	if len(reqs) > 0 && b.requests != nil {
		if err := b.requests.InsertRequests(ctx, reqs); err != nil {
			b.log.WithError(err).WithField("rows", len(reqs)).Warn("analytics request flush failed")
		}
	}
	if len(logRows) > 0 && b.logs != nil {
		if err := b.logs.InsertLogs(ctx, logRows); err != nil {
			b.log.WithError(err).WithField("rows", len(logRows)).Warn("analytics log flush failed")
		}
	}
}
