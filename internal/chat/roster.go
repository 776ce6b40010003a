package chat

import (
	"encoding/json"

	"github.com/wsxxll/webchat/internal/protocol"
)

// Roster is the set of other room members in join order.
type Roster struct {
	order []string
	users map[string]protocol.UserInfo
}

func NewRoster() *Roster {
	return &Roster{users: make(map[string]protocol.UserInfo)}
}

// Reset replaces the roster with ids, skipping self.
func (r *Roster) Reset(self string, ids []string, infos map[string]json.RawMessage) {
	r.order = r.order[:0]
	r.users = make(map[string]protocol.UserInfo, len(ids))
	for _, id := range ids {
		if id == self || id == "" {
			continue
		}
		r.Add(protocol.DecodeUserInfo(id, infos[id]))
	}
}

// Add inserts u or refreshes its profile. It reports whether u is new.
func (r *Roster) Add(u protocol.UserInfo) bool {
	_, ok := r.users[u.ID]
	r.users[u.ID] = u
	if !ok {
		r.order = append(r.order, u.ID)
	}
	return !ok
}

func (r *Roster) Remove(id string) (protocol.UserInfo, bool) {
	u, ok := r.users[id]
	if !ok {
		return protocol.UserInfo{}, false
	}
	delete(r.users, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return u, true
}

func (r *Roster) Get(id string) (protocol.UserInfo, bool) {
	u, ok := r.users[id]
	return u, ok
}

// IDs returns member ids in join order.
func (r *Roster) IDs() []string {
	return append([]string(nil), r.order...)
}

// Users returns member profiles in join order.
func (r *Roster) Users() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.users[id])
	}
	return out
}

func (r *Roster) Len() int { return len(r.order) }
