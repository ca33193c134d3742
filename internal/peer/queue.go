package peer

import "github.com/pion/webrtc/v4"

// MaxPendingCandidates bounds the per-peer queue of early candidates.
const MaxPendingCandidates = 50

// CandidateQueue holds remote candidates that arrived before the remote
// description. Candidates past the limit are dropped.
type CandidateQueue struct {
	items   []webrtc.ICECandidateInit
	limit   int
	dropped int
}

func NewCandidateQueue(limit int) *CandidateQueue {
	if limit <= 0 {
		limit = MaxPendingCandidates
	}
	return &CandidateQueue{limit: limit}
}

// Push appends c and reports whether it was kept.
func (q *CandidateQueue) Push(c webrtc.ICECandidateInit) bool {
	if len(q.items) >= q.limit {
		q.dropped++
		return false
	}
	q.items = append(q.items, c)
	return true
}

// Drain empties the queue and returns its contents in arrival order.
func (q *CandidateQueue) Drain() []webrtc.ICECandidateInit {
	items := q.items
	q.items = nil
	return items
}

func (q *CandidateQueue) Reset() {
	q.items = nil
}

func (q *CandidateQueue) Len() int { return len(q.items) }

// Dropped counts candidates rejected since creation.
func (q *CandidateQueue) Dropped() int { return q.dropped }
