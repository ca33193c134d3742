package relay

import (
	"github.com/BioHazard786/huddle/internal/signaling"
)

// Room is one live room. Only the hub goroutine touches it.
type Room struct {
	ID     string
	HostID string

	// order keeps join order for snapshots.
	order      []string
	clients    map[string]*Client
	presenters []signaling.Presenter
}

func newRoom(id string) *Room {
	return &Room{ID: id, clients: make(map[string]*Client)}
}

func (r *Room) add(c *Client) {
	if len(r.clients) == 0 && r.HostID == "" {
		r.HostID = c.ID
	}
	r.clients[c.ID] = c
	r.order = append(r.order, c.ID)
}

func (r *Room) remove(id string) bool {
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.stopPresenting(id)
	return true
}

func (r *Room) empty() bool { return len(r.clients) == 0 }

func (r *Room) participants() []signaling.Participant {
	out := make([]signaling.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, signaling.Participant{UserID: id, Username: r.clients[id].Name})
	}
	return out
}

func (r *Room) presenting(id string) bool {
	for _, p := range r.presenters {
		if p.UserID == id {
			return true
		}
	}
	return false
}

// startPresenting registers id. It reports false when the room is at max
// and id is not presenting yet.
func (r *Room) startPresenting(c *Client, shareType string, max int) bool {
	for i, p := range r.presenters {
		if p.UserID == c.ID {
			r.presenters[i].ShareType = shareType
			return true
		}
	}
	if len(r.presenters) >= max {
		return false
	}
	r.presenters = append(r.presenters, signaling.Presenter{UserID: c.ID, Username: c.Name, ShareType: shareType})
	return true
}

func (r *Room) stopPresenting(id string) bool {
	for i, p := range r.presenters {
		if p.UserID == id {
			r.presenters = append(r.presenters[:i], r.presenters[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) snapshot() []signaling.Presenter {
	return append([]signaling.Presenter{}, r.presenters...)
}
