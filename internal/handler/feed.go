package handler

import (
	"github.com/vmhost/server/internal/net"
	"github.com/vmhost/server/internal/net/packet"
	"github.com/vmhost/server/internal/runtime"
	"github.com/vmhost/server/internal/sandbox"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// FeedRuntime is the part of the runtime manager feed frames drive.
type FeedRuntime interface {
	DispatchInput(action string, ev runtime.InputEvent) int
	RunEvent(name string, vars ...runtime.Var) int
	RunEventOn(entity runtime.EntityRef, name string, vars ...runtime.Var) int
}

// Targets resolves the target name of a C_EVENT frame.
type Targets interface {
	Lookup(name string) (sandbox.Handle, bool)
}

// Deps holds shared dependencies injected into all feed handlers.
type Deps struct {
	Runtime   FeedRuntime
	Targets   Targets
	TokenHash []byte // bcrypt hash of the feed token
	Charset   *packet.Charset
	Log       *zap.Logger
}

// maxEventVars bounds the variable list of one C_EVENT frame.
const maxEventVars = 32

// RegisterAll registers all feed handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_AUTH,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleAuth(sess.(*net.Session), r, deps)
		},
	)

	authed := []packet.SessionState{packet.StateAuthenticated}
	reg.Register(packet.C_BUTTON, authed, func(sess any, r *packet.Reader) {
		HandleButton(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_AXIS, authed, func(sess any, r *packet.Reader) {
		HandleAxis(sess.(*net.Session), r, deps)
	})
	reg.Register(packet.C_EVENT, authed, func(sess any, r *packet.Reader) {
		HandleEvent(sess.(*net.Session), r, deps)
	})

	// Ping works before auth so clients can measure latency while connecting.
	reg.Register(packet.C_PING,
		[]packet.SessionState{packet.StateHandshake, packet.StateAuthenticated},
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
}

// SendHello greets a new feed connection.
func SendHello(sess *net.Session, deps *Deps) {
	w := packet.NewWriterWithOpcode(packet.S_HELLO, deps.Charset)
	w.WriteC(packet.APIVersion)
	sess.Send(w.Bytes())
}

// HandleAuth processes C_AUTH.
// Format: [opcode][token\0][client name\0]
func HandleAuth(sess *net.Session, r *packet.Reader, deps *Deps) {
	token := r.ReadS()
	client := r.ReadS()

	w := packet.NewWriterWithOpcode(packet.S_AUTH, deps.Charset)
	if err := bcrypt.CompareHashAndPassword(deps.TokenHash, []byte(token)); err != nil {
		deps.Log.Warn("feed auth rejected",
			zap.Uint64("session", sess.ID),
			zap.String("ip", sess.IP),
			zap.String("client", client),
		)
		w.WriteC(packet.AuthDenied)
		sess.Send(w.Bytes())
		// Closed by the input system once the reply is flushed.
		sess.SetState(packet.StateDisconnecting)
		return
	}

	sess.Client = client
	sess.SetState(packet.StateAuthenticated)
	w.WriteC(packet.AuthOK)
	sess.Send(w.Bytes())
	deps.Log.Info("feed authenticated", zap.Uint64("session", sess.ID), zap.String("client", client))
}

// HandleButton processes C_BUTTON.
// Format: [opcode][action\0][pressed C][hand C]
func HandleButton(sess *net.Session, r *packet.Reader, deps *Deps) {
	action := r.ReadS()
	ev := runtime.InputEvent{
		Kind: runtime.InputButton,
		Bool: r.ReadC() != 0,
		Hand: readHand(r),
	}
	n := deps.Runtime.DispatchInput(action, ev)
	sendDelivery(sess, deps, packet.C_BUTTON, n)
}

// HandleAxis processes C_AXIS.
// Format: [opcode][action\0][value F][hand C]
func HandleAxis(sess *net.Session, r *packet.Reader, deps *Deps) {
	action := r.ReadS()
	ev := runtime.InputEvent{
		Kind:  runtime.InputAxis,
		Float: r.ReadF(),
		Hand:  readHand(r),
	}
	n := deps.Runtime.DispatchInput(action, ev)
	sendDelivery(sess, deps, packet.C_AXIS, n)
}

// HandleEvent processes C_EVENT. An empty target broadcasts to every loaded
// program. Variable values arrive as strings.
// Format: [opcode][event\0][target\0][count C]{[symbol\0][value\0]}
func HandleEvent(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := r.ReadS()
	target := r.ReadS()
	count := int(r.ReadC())
	if name == "" || count > maxEventVars {
		deps.Log.Debug("malformed feed event",
			zap.Uint64("session", sess.ID),
			zap.String("event", name),
			zap.Int("vars", count),
		)
		sendDelivery(sess, deps, packet.C_EVENT, 0)
		return
	}
	vars := make([]runtime.Var, 0, count)
	for range count {
		vars = append(vars, runtime.Var{Symbol: r.ReadS(), Value: r.ReadS()})
	}

	var n int
	if target == "" {
		n = deps.Runtime.RunEvent(name, vars...)
	} else if h, ok := deps.Targets.Lookup(target); ok {
		if ref, ok := h.Payload().(runtime.EntityRef); ok {
			n = deps.Runtime.RunEventOn(ref, name, vars...)
		}
	}
	sendDelivery(sess, deps, packet.C_EVENT, n)
}

// HandlePing processes C_PING.
// Format: [opcode][nonce D]
func HandlePing(sess *net.Session, r *packet.Reader, deps *Deps) {
	w := packet.NewWriterWithOpcode(packet.S_PONG, deps.Charset)
	w.WriteD(r.ReadD())
	sess.Send(w.Bytes())
}

func sendDelivery(sess *net.Session, deps *Deps, opcode byte, invoked int) {
	w := packet.NewWriterWithOpcode(packet.S_DELIVERY, deps.Charset)
	w.WriteC(opcode)
	w.WriteH(uint16(min(invoked, 0xFFFF)))
	sess.Send(w.Bytes())
}

func readHand(r *packet.Reader) runtime.Hand {
	switch h := runtime.Hand(r.ReadC()); h {
	case runtime.HandLeft, runtime.HandRight:
		return h
	default:
		return runtime.HandNone
	}
}
