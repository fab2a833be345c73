package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type recordingSink struct {
	mu   sync.Mutex
	reqs [][]RequestRow
	logs [][]LogRow
}

func (s *recordingSink) InsertRequests(ctx context.Context, rows []RequestRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, rows)
	return nil
}

func (s *recordingSink) InsertLogs(ctx context.Context, rows []LogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, rows)
	return nil
}

func (s *recordingSink) reqCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func testLog() *logrus.Entry {
	log := logrus.New()
	return log.WithField("test", true)
}

func TestFlushSendsQueuedRows(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink, sink, time.Hour, testLog())

	b.AddRequest(RequestRow{DeploymentID: "d1", StatusCode: 200})
	b.AddLog(LogRow{DeploymentID: "d1", Message: "hi"})

	b.Flush(context.Background())

	if sink.reqCount() != 1 || len(sink.reqs[0]) != 1 {
		t.Fatalf("expected one request batch of 1 row, got %v", sink.reqs)
	}
	if len(sink.logs) != 1 || len(sink.logs[0]) != 1 {
		t.Fatalf("expected one log batch of 1 row, got %v", sink.logs)
	}
}

func TestFlushWithNoRowsDoesNothing(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink, sink, time.Hour, testLog())
	b.Flush(context.Background())
	if sink.reqCount() != 0 || len(sink.logs) != 0 {
		t.Fatal("expected no sink calls when nothing was queued")
	}
}

func TestFlushClearsQueueEvenOnNilSinks(t *testing.T) {
	b := New(nil, nil, time.Hour, testLog())
	b.AddRequest(RequestRow{DeploymentID: "d1"})
	b.Flush(context.Background())
	b.AddRequest(RequestRow{DeploymentID: "d2"})
	sink := &recordingSink{}
	b.requests = sink
	b.Flush(context.Background())
	if sink.reqCount() != 1 || len(sink.reqs[0]) != 1 || sink.reqs[0][0].DeploymentID != "d2" {
		t.Fatalf("expected only d2 to remain queued, got %v", sink.reqs)
	}
}

func TestRunFlushesOnContextCancel(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink, sink, time.Hour, testLog())
	b.AddRequest(RequestRow{DeploymentID: "d1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if sink.reqCount() != 1 {
		t.Fatalf("expected final flush on shutdown, got %d batches", sink.reqCount())
	}
}

func TestAddRequestForcesFlushAtBatchCap(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink, sink, time.Hour, testLog())

	for i := 0; i < maxBatch; i++ {
		b.AddRequest(RequestRow{DeploymentID: "d1"})
	}

	deadline := time.Now().Add(time.Second)
	for sink.reqCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.reqCount() != 1 {
		t.Fatalf("expected a forced flush once the batch cap was reached, got %d batches", sink.reqCount())
	}
}

func TestConcurrentAdds(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink, sink, time.Hour, testLog())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.AddRequest(RequestRow{DeploymentID: "d1"})
		}(i)
	}
	wg.Wait()

	b.Flush(context.Background())
	if len(sink.reqs[0]) != 100 {
		t.Fatalf("expected 100 queued rows, got %d", len(sink.reqs[0]))
	}
}
