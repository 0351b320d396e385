package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/w1ctl/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	err := Retry(context.Background(), cfg, 5, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected calls=%d", calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), BackoffConfig{}, 2, func(int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("unexpected err=%v calls=%d", err, calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, BackoffConfig{InitialDelay: time.Hour}, 3, func(int) error {
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSequencerSkipsZero(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(^uint32(0) - 1)
	if got := s.Next(); got != ^uint32(0) {
		t.Fatalf("unexpected seq=%d", got)
	}
	if got := s.Next(); got != 1 {
		t.Fatalf("expected wrap to 1, got %d", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(0)
	var mu sync.Mutex
	seen := make(map[uint32]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seq := s.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 800 {
		t.Fatalf("expected 800 unique seqs, got %d", len(seen))
	}
}

func TestPendingTableLifecycle(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable(2)
	now := time.Unix(1700000000, 0)
	replies, err := table.Open(7, "search", now, now.Add(time.Second))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := table.Open(7, "again", now, now); !errors.Is(err, ErrDuplicateSeq) {
		t.Fatalf("expected ErrDuplicateSeq, got %v", err)
	}
	if !table.Deliver(Frame{Seq: 7, Data: []byte{1}}) {
		t.Fatalf("deliver to open seq failed")
	}
	if table.Deliver(Frame{Seq: 8}) {
		t.Fatalf("deliver to unknown seq should fail")
	}
	got := <-replies
	if got.Seq != 7 || len(got.Data) != 1 {
		t.Fatalf("unexpected frame %+v", got)
	}
	item, ok := table.Get(7)
	if !ok || item.Frames != 1 || item.Label != "search" {
		t.Fatalf("unexpected pending item %+v", item)
	}
	if _, ok := table.Close(7); !ok {
		t.Fatalf("close missing seq")
	}
	if _, open := <-replies; open {
		t.Fatalf("reply channel should be closed")
	}
	if table.Len() != 0 {
		t.Fatalf("table should be empty")
	}
}

func TestPendingTableDropsWhenFull(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable(1)
	if _, err := table.Open(1, "read", time.Time{}, time.Time{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	table.Deliver(Frame{Seq: 1})
	if table.Deliver(Frame{Seq: 1}) {
		t.Fatalf("second frame should be dropped")
	}
	item, _ := table.Get(1)
	if item.Dropped != 1 || item.LastError == "" {
		t.Fatalf("drop not recorded: %+v", item)
	}
}

func TestPendingTableExpire(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable(1)
	now := time.Unix(1700000000, 0)
	_, _ = table.Open(3, "a", now, now.Add(time.Second))
	_, _ = table.Open(1, "b", now, now.Add(time.Second))
	_, _ = table.Open(2, "c", now, now.Add(time.Minute))
	_, _ = table.Open(4, "events", now, time.Time{})
	table.MarkError(3, errors.New("timeout"))

	expired := table.Expire(now.Add(2 * time.Second))
	if len(expired) != 2 || expired[0].Seq != 1 || expired[1].Seq != 3 {
		t.Fatalf("unexpected expired set %+v", expired)
	}
	if expired[1].LastError != "timeout" {
		t.Fatalf("unexpected last error %q", expired[1].LastError)
	}
	list := table.List()
	if len(list) != 2 || list[0].Seq != 2 || list[1].Seq != 4 {
		t.Fatalf("unexpected remaining %+v", list)
	}
}
