package sandbox

import "fmt"

// ObjectID is the reference identity of a host object. Zero is reserved for
// the nil handle.
type ObjectID uint64

// Handle is the single boundary type host objects take when they cross into
// sandboxed code: an identity plus an opaque payload the host interprets.
// Programs never see host pointers directly.
type Handle struct {
	id      ObjectID
	payload any
}

// Nil is the sentinel a blacklisted handle is replaced with.
var Nil = Handle{}

func NewHandle(id ObjectID, payload any) Handle {
	if id == 0 {
		return Nil
	}
	return Handle{id: id, payload: payload}
}

func (h Handle) ID() ObjectID   { return h.id }
func (h Handle) Payload() any   { return h.payload }
func (h Handle) IsNil() bool    { return h.id == 0 }
func (h Handle) String() string { return fmt.Sprintf("object#%d", h.id) }
