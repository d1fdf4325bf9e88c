package system

import (
	"slices"
	"time"

	coresys "github.com/vmhost/server/internal/core/system"
	"github.com/vmhost/server/internal/handler"
	"github.com/vmhost/server/internal/net"
	"github.com/vmhost/server/internal/net/packet"
	"go.uber.org/zap"
)

// SessionSource delivers newly accepted feed sessions.
type SessionSource interface {
	NewSessions() <-chan *net.Session
}

// InputSystem drains frame queues from all feed sessions and dispatches them
// through the packet registry. Runs in the input phase, after Update, so
// subscriptions changed during Update already see this frame's input.
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	deps       *handler.Deps
	sessions   map[uint64]*net.Session
	order      []uint64 // accept order
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(source SessionSource, registry *packet.Registry, deps *handler.Deps, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		source:     source,
		registry:   registry,
		deps:       deps,
		sessions:   make(map[uint64]*net.Session),
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

// Add starts tracking sess and greets it.
func (s *InputSystem) Add(sess *net.Session) {
	if _, ok := s.sessions[sess.ID]; ok {
		return
	}
	s.sessions[sess.ID] = sess
	s.order = append(s.order, sess.ID)
	handler.SendHello(sess, s.deps)
}

// Sessions returns the number of tracked sessions.
func (s *InputSystem) Sessions() int { return len(s.sessions) }

func (s *InputSystem) Update(_ time.Duration) {
	if s.source != nil {
	accept:
		for {
			select {
			case sess := <-s.source.NewSessions():
				s.Add(sess)
			default:
				break accept
			}
		}
	}

	var gone []uint64
	for _, id := range s.order {
		sess := s.sessions[id]
		s.drain(sess)
		sess.FlushOutput()

		switch {
		case sess.IsClosed():
			gone = append(gone, id)
		case sess.State() == packet.StateDisconnecting && len(sess.OutQueue) == 0:
			// Closed once the writer has taken the final reply.
			sess.Close()
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		s.log.Info("feed disconnected", zap.Uint64("session", id))
		delete(s.sessions, id)
	}
	if len(gone) > 0 {
		s.order = slices.DeleteFunc(s.order, func(id uint64) bool {
			_, ok := s.sessions[id]
			return !ok
		})
	}
}

// drain dispatches up to maxPerTick queued frames. Frames still queued on a
// closed session are processed too, so input sent just before a disconnect
// is not lost.
func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
				s.log.Debug("feed dispatch failed",
					zap.Uint64("session", sess.ID),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

// CloseAll disconnects every feed, used on shutdown.
func (s *InputSystem) CloseAll() {
	for _, id := range s.order {
		s.sessions[id].Close()
	}
	clear(s.sessions)
	s.order = s.order[:0]
}
