package peer

import (
	"fmt"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func TestCandidateQueueBounded(t *testing.T) {
	q := NewCandidateQueue(MaxPendingCandidates)
	for i := range 60 {
		kept := q.Push(webrtc.ICECandidateInit{Candidate: fmt.Sprint(i)})
		assert.Equal(t, i < 50, kept, i)
	}
	assert.Equal(t, 50, q.Len())
	assert.Equal(t, 10, q.Dropped())

	items := q.Drain()
	assert.Len(t, items, 50)
	assert.Equal(t, "0", items[0].Candidate)
	assert.Equal(t, "49", items[49].Candidate)
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain())
}

func TestPhaseTransitions(t *testing.T) {
	assert.True(t, Stable.CanAdvance(OfferSent))
	assert.True(t, OfferSent.CanAdvance(Stable))
	assert.True(t, Stable.CanAdvance(OfferReceived))
	assert.True(t, OfferReceived.CanAdvance(AnswerSent))
	assert.True(t, AnswerSent.CanAdvance(Stable))

	assert.False(t, Stable.CanAdvance(AnswerSent))
	assert.False(t, OfferSent.CanAdvance(AnswerSent))
	assert.False(t, AnswerSent.CanAdvance(OfferSent))
	assert.False(t, Stable.CanAdvance(Stable))
}
