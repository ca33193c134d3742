package session

import (
	"github.com/BioHazard786/huddle/internal/signaling"
)

// route dispatches one inbound frame. It runs on the loop.
func (s *Session) route(msg *signaling.Message) {
	if s.ended {
		s.log.Debug().Str("type", msg.Type).Msg("frame after session end dropped")
		return
	}
	from := msg.Sender()

	switch msg.Type {
	case signaling.TypeRoomState:
		s.handleRoomState(msg)

	case signaling.TypeUserJoined:
		s.handleUserJoined(msg)

	case signaling.TypeUserLeft:
		s.handleUserLeft(msg)

	case signaling.TypeRequestOffer, signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate,
		signaling.TypeViewerAudioOffer, signaling.TypeViewerAudioAnswer, signaling.TypeViewerAudioStopped:
		if from == "" {
			s.log.Warn().Str("type", msg.Type).Msg("relayed frame without sender dropped")
			return
		}
		s.handleRelayed(from, msg)

	case signaling.TypeScreenShareStarted:
		s.presenters.OnShareStarted(msg)

	case signaling.TypeScreenShareStopped:
		s.presenters.OnShareStopped(msg)

	case signaling.TypeChat:
		s.obs.ChatReceived(Chat{From: from, Username: msg.Username, Message: msg.Message, Timestamp: msg.Timestamp})

	case signaling.TypeAnnotation, signaling.TypeFileShared,
		signaling.TypeWhiteboardDraw, signaling.TypeWhiteboardClear,
		signaling.TypeWhiteboardStarted, signaling.TypeWhiteboardStopped:
		s.obs.RoomEvent(msg)

	case signaling.TypeError:
		text := msg.Error
		if text == "" {
			text = msg.Message
		}
		s.obs.ServerError(text)

	case signaling.TypeKicked:
		s.end(Kicked, msg.Reason)

	case signaling.TypeRoomEnded:
		s.end(RoomEnded, msg.Reason)

	case signaling.TypePong, signaling.TypePing:

	default:
		s.log.Debug().Str("type", msg.Type).Msg("unknown message type dropped")
	}
}

func (s *Session) handleRelayed(from string, msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeRequestOffer:
		s.presenters.OnRequestOffer(from)
	case signaling.TypeOffer:
		s.peers.HandleOffer(from, msg.SDP)
	case signaling.TypeAnswer:
		s.peers.HandleAnswer(from, msg.SDP)
	case signaling.TypeICECandidate:
		s.handleCandidate(from, msg)
	case signaling.TypeViewerAudioOffer:
		s.voice.HandleOffer(from, msg.SDP)
	case signaling.TypeViewerAudioAnswer:
		s.voice.HandleAnswer(from, msg.SDP)
	case signaling.TypeViewerAudioStopped:
		s.voice.HandleStopped(from)
	}
}

// handleCandidate offers a candidate to both link sets; the frame does not
// say which one it belongs to. Candidates only the audio channel knows are
// kept out of the main queue.
func (s *Session) handleCandidate(from string, msg *signaling.Message) {
	if msg.Candidate == nil {
		s.log.Warn().Str("peer", from).Msg("ice_candidate without candidate dropped")
		return
	}
	audio := s.voice.HandleCandidate(from, *msg.Candidate)
	if _, known := s.peers.Get(from); known || !audio {
		s.peers.HandleCandidate(from, *msg.Candidate)
	}
}

// handleRoomState (re)initializes the room view. On a rejoin every link is
// rebuilt: the others dropped theirs when the relay announced us leaving.
func (s *Session) handleRoomState(msg *signaling.Message) {
	rejoined := s.joined
	if rejoined {
		s.voice.Close()
		s.peers.CloseAll()
	}
	s.joined = true

	self := msg.UserID
	if self == "" {
		self = s.room.SelfID
	}
	name := msg.Username
	if name == "" {
		name = s.opts.Username
	}
	s.room = RoomInfo{
		RoomID:   msg.RoomID,
		RoomName: msg.RoomName,
		HostID:   msg.HostID,
		SelfID:   self,
		IsHost:   msg.IsHost || (self != "" && self == msg.HostID),
		Rejoined: rejoined,
	}
	s.syncParticipants(msg.Participants)

	s.log.Info().Str("room", s.room.RoomID).Str("self", self).Int("participants", len(s.participants)).Bool("rejoined", rejoined).Msg("joined room")
	s.obs.RoomJoined(s.room, s.participantList())

	s.presenters.SetSelf(self, name)
	s.presenters.OnRoomState(msg)
}

func (s *Session) syncParticipants(list []signaling.Participant) {
	clear(s.participants)
	for _, p := range list {
		s.participants[p.UserID] = p
	}
}

func (s *Session) handleUserJoined(msg *signaling.Message) {
	id := msg.Sender()
	if id == "" || id == s.room.SelfID {
		return
	}
	p := signaling.Participant{UserID: id, Username: msg.Username}
	if len(msg.Participants) > 0 {
		s.syncParticipants(msg.Participants)
	}
	s.participants[id] = p

	s.obs.ParticipantJoined(p)
	s.presenters.OnUserJoined(id)
}

func (s *Session) handleUserLeft(msg *signaling.Message) {
	id := msg.Sender()
	if id == "" || id == s.room.SelfID {
		return
	}
	p, ok := s.participants[id]
	if !ok {
		p = signaling.Participant{UserID: id, Username: msg.Username}
	}
	delete(s.participants, id)
	if len(msg.Participants) > 0 {
		s.syncParticipants(msg.Participants)
	}

	s.voice.RemoveParticipant(id)
	s.presenters.OnUserLeft(id)
	s.obs.ParticipantLeft(p)
}
