package looptest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineQueuesNestedPosts(t *testing.T) {
	var e Inline
	var order []string

	e.Post(func() {
		order = append(order, "a")
		e.Post(func() { order = append(order, "c") })
		order = append(order, "b")
	})

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestClockAdvanceFiresDueTimers(t *testing.T) {
	c := &Clock{}
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "one") })
	stopped := c.AfterFunc(time.Second, func() { fired = append(fired, "stopped") })
	stopped.Stop()

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"one"}, fired)

	c.Advance(time.Second)
	assert.Equal(t, []string{"one", "two"}, fired)
	assert.Empty(t, c.Pending())
}

func TestClockEvery(t *testing.T) {
	c := &Clock{}
	n := 0
	tk := c.Every(10*time.Second, func() { n++ })

	c.Advance(35 * time.Second)
	assert.Equal(t, 3, n)

	tk.Stop()
	c.Advance(time.Minute)
	assert.Equal(t, 3, n)
}

func TestClockFireNext(t *testing.T) {
	c := &Clock{}
	assert.False(t, c.FireNext())

	hit := false
	c.AfterFunc(4*time.Second, func() { hit = true })
	require.Len(t, c.Pending(), 1)
	assert.Equal(t, 4*time.Second, c.Pending()[0].Delay)

	require.True(t, c.FireNext())
	assert.True(t, hit)
	assert.Equal(t, 4*time.Second, c.Now())
}
