// Package presenter tracks who is presenting and decides which peers must
// (re)negotiate when that changes.
package presenter

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/BioHazard786/huddle/internal/loop"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/peer"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine is the part of the peer registry the coordinator drives.
type Engine interface {
	EnsurePeer(id string) (*peer.Record, error)
	CreateOfferFor(id string)
	HasRemoteStream(id string) bool
	DropRemoteStream(id string)
	ClosePeer(id string)
	DetachLocalTracks()
	IDs() []string
}

// Listener is told about table and local share changes.
type Listener interface {
	PresentersChanged(entries []Entry)
	ShareStateChanged(state media.ShareState)
}

// Jitter returns a random delay in [150ms, 400ms) used before asking a
// presenter that just asked us for an offer to offer back.
func Jitter() time.Duration {
	return 150*time.Millisecond + time.Duration(rand.Int64N(int64(250*time.Millisecond)))
}

type Deps struct {
	Engine   Engine
	Outbox   signaling.Outbox
	Exec     loop.Executor
	Sched    loop.Scheduler
	Provider media.Provider
	Listener Listener
	// Jitter defaults to the package Jitter.
	Jitter func() time.Duration
}

// Coordinator is confined to the session loop.
type Coordinator struct {
	deps  Deps
	log   zerolog.Logger
	table *Table

	selfID   string
	selfName string
	share    media.ShareState
	stream   media.Stream
	starting bool

	// requests holds pending symmetric request_offer timers per presenter.
	requests map[string]loop.Timer
}

func NewCoordinator(maxPresenters int, deps Deps) *Coordinator {
	if deps.Jitter == nil {
		deps.Jitter = Jitter
	}
	return &Coordinator{
		deps:     deps,
		log:      log.With().Str("module", "presenter").Logger(),
		table:    NewTable(maxPresenters),
		requests: make(map[string]loop.Timer),
	}
}

// SetSelf records the local participant identity.
func (c *Coordinator) SetSelf(id, name string) {
	c.selfID, c.selfName = id, name
}

func (c *Coordinator) Table() *Table                { return c.table }
func (c *Coordinator) ShareState() media.ShareState { return c.share }

// LocalTracks returns the tracks to publish, nil when idle.
func (c *Coordinator) LocalTracks() []webrtc.TrackLocal {
	if c.stream == nil || !c.share.Active() {
		return nil
	}
	return c.stream.Tracks()
}

// Presenting reports whether the local participant holds a presenter slot.
func (c *Coordinator) Presenting() bool {
	return c.share.Active() || (c.selfID != "" && c.table.Has(c.selfID))
}

// CanShare reports whether the local participant may start sharing.
func (c *Coordinator) CanShare() bool {
	return c.Presenting() || !c.table.Full()
}

func (c *Coordinator) changed() {
	if c.deps.Listener != nil {
		c.deps.Listener.PresentersChanged(c.table.Entries())
	}
}

// RegisterPresenterStart adds id to the table.
func (c *Coordinator) RegisterPresenterStart(id, name string, kind media.Kind) error {
	if err := c.table.Add(Entry{ID: id, Name: name, Kind: kind}); err != nil {
		return err
	}
	c.changed()
	return nil
}

// RegisterPresenterStop removes id and forgets its remote stream.
func (c *Coordinator) RegisterPresenterStop(id string) {
	removed := c.table.Remove(id)
	c.deps.Engine.DropRemoteStream(id)
	c.cancelRequest(id)
	if removed {
		c.changed()
	}
}

// RequestOfferFrom asks presenter id to send us an offer.
func (c *Coordinator) RequestOfferFrom(id string) {
	if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeRequestOffer, Target: id}); err != nil {
		c.log.Warn().Str("peer", id).Err(err).Msg("failed to request offer")
	}
}

// StartSharing acquires local media of kind and announces it. The cap is
// checked before the provider is touched; done runs on the loop.
func (c *Coordinator) StartSharing(ctx context.Context, kind media.Kind, done func(error)) {
	if kind != media.Screen && kind != media.Camera {
		done(media.ErrUnknownKind)
		return
	}
	if !c.CanShare() {
		c.log.Info().Int("presenters", c.table.Len()).Int("max", c.table.Max()).Msg("share rejected, room at presenter limit")
		done(ErrPresenterLimit)
		return
	}
	if c.starting {
		done(ErrShareInProgress)
		return
	}
	c.starting = true

	provider, exec := c.deps.Provider, c.deps.Exec
	exec.Go(func() {
		stream, err := provider.Acquire(ctx, kind)
		exec.Post(func() {
			c.starting = false
			if err != nil {
				done(err)
				return
			}
			done(c.publish(kind, stream))
		})
	})
}

func (c *Coordinator) publish(kind media.Kind, stream media.Stream) error {
	// the table may have filled while media was being acquired
	if !c.CanShare() {
		stream.Close()
		return ErrPresenterLimit
	}

	if c.stream != nil {
		c.stream.Close()
	}
	c.stream = stream
	c.share = media.Sharing(kind)
	if c.selfID != "" {
		c.table.Add(Entry{ID: c.selfID, Name: c.selfName, Kind: kind})
	}
	if c.deps.Listener != nil {
		c.deps.Listener.ShareStateChanged(c.share)
	}
	c.changed()

	c.announce(kind)
	return nil
}

// announce tells the room we present and offers to every known peer.
func (c *Coordinator) announce(kind media.Kind) {
	msg := &signaling.Message{Type: signaling.TypeScreenShareStarted, ShareType: kind.String()}
	if err := c.deps.Outbox.Send(msg); err != nil {
		c.log.Warn().Err(err).Msg("failed to announce share")
	}
	for _, id := range c.deps.Engine.IDs() {
		c.deps.Engine.CreateOfferFor(id)
	}
}

// StopSharing releases local media and tells the room.
func (c *Coordinator) StopSharing() {
	if !c.share.Active() {
		return
	}
	c.release()
	if err := c.deps.Outbox.Send(&signaling.Message{Type: signaling.TypeScreenShareStopped}); err != nil {
		c.log.Warn().Err(err).Msg("failed to announce share stop")
	}
	if c.selfID != "" && c.table.Remove(c.selfID) {
		c.changed()
	}
}

func (c *Coordinator) release() {
	c.deps.Engine.DetachLocalTracks()
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.share = media.Idle()
	if c.deps.Listener != nil {
		c.deps.Listener.ShareStateChanged(c.share)
	}
}

// OnRoomState handles the snapshot received on (re)joining the room.
func (c *Coordinator) OnRoomState(msg *signaling.Message) {
	if c.selfID == "" {
		// without our own id every participant could be us
		c.log.Warn().Msg("room state carries no user id, not linking peers")
		if snapshot, ok := msg.PresenterSnapshot(); ok {
			c.table.Replace(snapshot)
		}
		c.changed()
		return
	}

	for _, p := range msg.Participants {
		if p.UserID == c.selfID {
			continue
		}
		if _, err := c.deps.Engine.EnsurePeer(p.UserID); err != nil {
			c.log.Warn().Err(err).Msg("cannot track participant")
		}
	}

	if snapshot, ok := msg.PresenterSnapshot(); ok {
		c.table.Replace(snapshot)
	}

	if kind, ok := c.share.Kind(); ok {
		// rejoined while sharing; the room forgot us
		if err := c.table.Add(Entry{ID: c.selfID, Name: c.selfName, Kind: kind}); err != nil {
			c.log.Warn().Msg("room filled up while reconnecting, stopping share")
			c.release()
		} else {
			c.announce(kind)
		}
	}
	c.changed()

	for _, e := range c.table.Entries() {
		if e.ID == c.selfID {
			continue
		}
		if _, err := c.deps.Engine.EnsurePeer(e.ID); err != nil {
			continue
		}
		c.RequestOfferFrom(e.ID)
	}
}

// OnUserJoined offers to a newcomer when presenting.
func (c *Coordinator) OnUserJoined(id string) {
	if id == "" || id == c.selfID {
		return
	}
	if _, err := c.deps.Engine.EnsurePeer(id); err != nil {
		c.log.Warn().Err(err).Msg("cannot track participant")
		return
	}
	if c.share.Active() {
		c.deps.Engine.CreateOfferFor(id)
	}
}

// OnUserLeft forgets everything held for id.
func (c *Coordinator) OnUserLeft(id string) {
	c.cancelRequest(id)
	if c.table.Remove(id) {
		c.changed()
	}
	c.deps.Engine.ClosePeer(id)
}

// OnShareStarted registers the presenter and asks for their stream, even
// when presenting ourselves.
func (c *Coordinator) OnShareStarted(msg *signaling.Message) {
	id := msg.Sender()
	kind, err := media.ParseShareKind(msg.ShareType)
	if err != nil {
		c.log.Warn().Str("share_type", msg.ShareType).Msg("unknown share type, assuming screen")
		kind = media.Screen
	}

	if snapshot, ok := msg.PresenterSnapshot(); ok {
		c.table.Replace(snapshot)
		c.changed()
	} else if err := c.RegisterPresenterStart(id, msg.Username, kind); err != nil {
		c.log.Warn().Str("peer", id).Err(err).Msg("presenter not tracked")
	}

	if id == "" || id == c.selfID {
		return
	}
	if _, err := c.deps.Engine.EnsurePeer(id); err != nil {
		c.log.Warn().Err(err).Msg("cannot track presenter")
		return
	}
	c.RequestOfferFrom(id)
}

// OnShareStopped prefers the server's snapshot and falls back to removing
// the sender locally.
func (c *Coordinator) OnShareStopped(msg *signaling.Message) {
	id := msg.Sender()
	if snapshot, ok := msg.PresenterSnapshot(); ok {
		c.table.Replace(snapshot)
		c.deps.Engine.DropRemoteStream(id)
		c.cancelRequest(id)
		c.changed()
		return
	}
	c.log.Debug().Str("peer", id).Msg("share stop without snapshot, removing locally")
	c.RegisterPresenterStop(id)
}

// OnRequestOffer offers to the requester when presenting. A requester that
// presents too, and whose stream we lack, is asked back after a jitter.
func (c *Coordinator) OnRequestOffer(from string) {
	if !c.share.Active() {
		c.log.Debug().Str("peer", from).Msg("request_offer while not presenting")
		return
	}
	c.deps.Engine.CreateOfferFor(from)

	if !c.table.Has(from) || c.deps.Engine.HasRemoteStream(from) {
		return
	}
	if _, pending := c.requests[from]; pending {
		return
	}
	c.requests[from] = c.deps.Sched.AfterFunc(c.deps.Jitter(), func() {
		delete(c.requests, from)
		if c.table.Has(from) && !c.deps.Engine.HasRemoteStream(from) {
			c.RequestOfferFrom(from)
		}
	})
}

func (c *Coordinator) cancelRequest(id string) {
	if t, ok := c.requests[id]; ok {
		t.Stop()
		delete(c.requests, id)
	}
}

// Close releases local media and pending timers without notifying the room.
func (c *Coordinator) Close() {
	for id := range c.requests {
		c.cancelRequest(id)
	}
	if c.share.Active() {
		c.release()
	}
}
