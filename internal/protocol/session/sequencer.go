package session

import "sync/atomic"

// Sequencer hands out connector sequence numbers. Zero is skipped so an unset
// seq is never mistaken for a live request.
type Sequencer struct {
	last atomic.Uint32
}

func NewSequencer(start uint32) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint32 {
	for {
		seq := s.last.Add(1)
		if seq != 0 {
			return seq
		}
	}
}
