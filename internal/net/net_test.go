package net

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/vmhost/server/internal/net/packet"
	"go.uber.org/zap/zaptest"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{packet.C_PING, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 6 {
		t.Fatalf("frame size = %d", buf.Len())
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{packet.C_PING, 1, 2, 3}) {
		t.Errorf("payload = %v", got)
	}

	if err := WriteFrame(&buf, nil); err == nil {
		t.Error("empty payload accepted")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{2, 0})); err == nil {
		t.Error("zero-length frame accepted")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{9, 0, 1})); err == nil {
		t.Error("truncated frame accepted")
	}
}

func TestSessionQueues(t *testing.T) {
	t.Parallel()
	client, server := net.Pipe()
	defer client.Close()

	sess := NewSession(server, 1, SessionOptions{InQueueSize: 4, OutQueueSize: 4}, zaptest.NewLogger(t))
	sess.Start()
	defer sess.Close()

	if sess.State() != packet.StateHandshake {
		t.Fatalf("initial state = %v", sess.State())
	}

	go WriteFrame(client, []byte{packet.C_PING, 9, 0, 0, 0})
	select {
	case got := <-sess.InQueue:
		if got[0] != packet.C_PING {
			t.Errorf("inbound = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame not queued")
	}

	sess.Send([]byte{packet.S_PONG, 9, 0, 0, 0})
	sess.FlushOutput()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := ReadFrame(client)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != packet.S_PONG {
		t.Errorf("outbound = %v", got)
	}

	sess.Close()
	if !sess.IsClosed() || sess.State() != packet.StateDisconnecting {
		t.Error("close did not settle state")
	}
	select {
	case <-sess.Done():
	default:
		t.Error("Done not closed")
	}
	sess.Send([]byte{packet.S_PONG})
	if len(sess.outBuf) != 0 {
		t.Error("closed session buffered output")
	}
}
