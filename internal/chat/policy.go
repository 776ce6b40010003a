package chat

import "github.com/wsxxll/webchat/internal/utils"

// Policy decides which room the client joins and whether the user may
// switch rooms.
type Policy interface {
	Room() string
	CanSwitch() bool
}

// ManualPolicy joins a room named by the user. /join and /leave are allowed.
type ManualPolicy struct {
	Name string
}

func (p ManualPolicy) Room() string    { return p.Name }
func (p ManualPolicy) CanSwitch() bool { return true }

// AutoPolicy joins the room of the local network segment.
type AutoPolicy struct {
	// Discover returns the segment; utils.LocalSegment when nil.
	Discover func() string
}

func (p AutoPolicy) Room() string {
	discover := p.Discover
	if discover == nil {
		discover = utils.LocalSegment
	}
	return utils.LANRoom(discover())
}

func (p AutoPolicy) CanSwitch() bool { return false }
