package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/w1ctl/internal/protocol/connector"
)

var ErrDuplicateSeq = errors.New("session: sequence already pending")

// Frame is one raw connector payload received from the socket.
type Frame struct {
	Transport connector.TransportHeader
	Seq       uint32
	Data      []byte
}

// PendingRequest tracks one request awaiting kernel replies.
type PendingRequest struct {
	Seq       uint32
	Label     string
	SentAt    time.Time
	Deadline  time.Time
	Frames    int
	Dropped   int
	LastError string

	replies chan Frame
}

// PendingTable routes reply frames to the request that owns their seq.
type PendingTable struct {
	mu     sync.Mutex
	buffer int
	items  map[uint32]*PendingRequest
}

// NewPendingTable creates a table whose per-request reply queue holds buffer frames.
func NewPendingTable(buffer int) *PendingTable {
	if buffer < 1 {
		buffer = 1
	}
	return &PendingTable{
		buffer: buffer,
		items:  make(map[uint32]*PendingRequest),
	}
}

// Open registers seq and returns the channel its replies arrive on. The channel
// is closed by Close or Expire.
func (t *PendingTable) Open(seq uint32, label string, sentAt, deadline time.Time) (<-chan Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[seq]; ok {
		return nil, ErrDuplicateSeq
	}
	item := &PendingRequest{
		Seq:      seq,
		Label:    label,
		SentAt:   sentAt,
		Deadline: deadline,
		replies:  make(chan Frame, t.buffer),
	}
	t.items[seq] = item
	return item.replies, nil
}

// Deliver hands f to the request waiting on f.Seq. It reports false when no
// request owns the seq or its queue is full.
func (t *PendingTable) Deliver(f Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[f.Seq]
	if !ok {
		return false
	}
	select {
	case item.replies <- f:
		item.Frames++
		return true
	default:
		item.Dropped++
		item.LastError = "reply queue full"
		return false
	}
}

// MarkError records the last failure seen for seq.
func (t *PendingTable) MarkError(seq uint32, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if item, ok := t.items[seq]; ok {
		item.LastError = err.Error()
	}
}

// Close removes seq and closes its reply channel.
func (t *PendingTable) Close(seq uint32) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[seq]
	if !ok {
		return PendingRequest{}, false
	}
	delete(t.items, seq)
	close(item.replies)
	return snapshot(item), true
}

// Expire closes every request whose deadline is at or before now.
func (t *PendingTable) Expire(now time.Time) []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingRequest
	for seq, item := range t.items {
		if item.Deadline.IsZero() || item.Deadline.After(now) {
			continue
		}
		delete(t.items, seq)
		close(item.replies)
		out = append(out, snapshot(item))
	}
	sortBySeq(out)
	return out
}

func (t *PendingTable) Get(seq uint32) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[seq]
	if !ok {
		return PendingRequest{}, false
	}
	return snapshot(item), true
}

func (t *PendingTable) List() []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingRequest, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, snapshot(item))
	}
	sortBySeq(out)
	return out
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func snapshot(item *PendingRequest) PendingRequest {
	out := *item
	out.replies = nil
	return out
}

func sortBySeq(items []PendingRequest) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Seq < items[j].Seq
	})
}
