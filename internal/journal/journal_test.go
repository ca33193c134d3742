package journal

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	w.Now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, w.Record(Inbound, signaling.TypeRoomState, []byte(`{"type":"room_state","user_id":"me"}`)))
	require.NoError(t, w.Record(Outbound, signaling.TypeRequestOffer, []byte(`{"type":"request_offer","target":"p"}`)))
	assert.Equal(t, 2, w.Count())

	entries, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, Inbound, entries[0].Dir)
	assert.Equal(t, signaling.TypeRoomState, entries[0].Kind)
	assert.True(t, entries[0].At.Equal(base.Add(time.Second)))

	msg, err := entries[1].Message()
	require.NoError(t, err)
	assert.Equal(t, "p", msg.Target)
}

func TestCreateAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.journal")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Record(Outbound, "ping", []byte(`{"type":"ping"}`)))
	require.NoError(t, w.Close())

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ping", entries[0].Kind)

	_, err = Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	got := Summarize([]Entry{
		{Dir: Inbound, Kind: "offer"},
		{Dir: Outbound, Kind: "answer"},
		{Dir: Inbound, Kind: "offer"},
		{Dir: Outbound, Kind: "offer"},
	})
	assert.Equal(t, []Summary{
		{Kind: "offer", Inbound: 2, Outbound: 1},
		{Kind: "answer", Outbound: 1},
	}, got)
}
