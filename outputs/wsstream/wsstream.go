// Package wsstream implements a network streamer output type that pushes
// the interleaved packet stream to a WebSocket endpoint as binary
// messages, one wire-framed packet per message.
package wsstream

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/wire"
)

// TypeID is the registry id of this output type.
const TypeID = "wsstream"

// Register adds the wsstream output type to the registry. Settings:
// "url" (string, required) — ws:// or wss:// endpoint.
func Register(reg *output.Registry) error {
	return reg.RegisterType(&output.Descriptor{
		TypeID: TypeID,
		Caps:   output.CapVideo | output.CapAudio | output.CapEncoded,
		New:    newSender,
	})
}

// Sender is the wsstream transport backend.
type Sender struct {
	log   *slog.Logger
	owner *output.Output
	url   string

	mu        sync.Mutex
	conn      *websocket.Conn
	buf       []byte
	writeErrs int
}

func newSender(s *output.Settings, owner *output.Output) (output.Handler, error) {
	url := s.String("url", "")
	if url == "" {
		return nil, fmt.Errorf("wsstream: url setting is required")
	}
	return &Sender{
		log:   slog.Default().With("component", "wsstream", "output", owner.Name()),
		owner: owner,
		url:   url,
	}, nil
}

// Start dials the endpoint and begins data capture.
func (s *Sender) Start() bool {
	if !s.owner.CanBeginCapture(0) {
		return false
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		s.log.Error("dial", "url", s.url, "error", err)
		s.owner.SignalStartFailure(output.CodeConnectFailed)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.writeErrs = 0
	s.mu.Unlock()

	if !s.owner.BeginCapture(0) {
		s.closeConn()
		return false
	}

	s.log.Info("streaming", "url", s.url)
	return true
}

// Stop ends data capture and closes the connection.
func (s *Sender) Stop() {
	s.owner.EndCapture()
	s.closeConn()
}

// Destroy releases the connection if Stop was never called.
func (s *Sender) Destroy() {
	s.closeConn()
}

func (s *Sender) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
}

// EncodedPacket sends one wire-framed packet as a binary message. It runs
// under the owner's interleave lock and never calls back into the output;
// a failed write tears the connection down and later packets are dropped.
func (s *Sender) EncodedPacket(pkt *media.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}

	s.buf = wire.AppendPacket(s.buf[:0], pkt)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, s.buf); err != nil {
		if s.writeErrs == 0 {
			s.log.Error("write", "error", err)
		}
		s.writeErrs++
		s.conn.Close()
		s.conn = nil
	}
}
