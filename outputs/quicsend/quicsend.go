// Package quicsend implements a network streamer output type that dials
// a QUIC server and pushes the interleaved packet stream over a single
// bidirectional stream as wire-framed packets.
package quicsend

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/wire"
)

// TypeID is the registry id of this output type.
const TypeID = "quicsend"

// ALPN is the application protocol negotiated on the QUIC connection.
const ALPN = "outlet"

// dialTimeout bounds the QUIC handshake plus stream open in Start.
const dialTimeout = 10 * time.Second

// Register adds the quicsend output type to the registry. Settings:
// "address" (string, required), "insecure" (bool, default false) — skip
// server certificate verification, for self-signed peers.
func Register(reg *output.Registry) error {
	return reg.RegisterType(&output.Descriptor{
		TypeID: TypeID,
		Caps:   output.CapVideo | output.CapAudio | output.CapEncoded,
		New:    newSender,
	})
}

// Sender is the quicsend transport backend.
type Sender struct {
	log      *slog.Logger
	owner    *output.Output
	address  string
	insecure bool

	mu        sync.Mutex
	conn      quic.Connection
	stream    quic.Stream
	buf       []byte
	writeErrs int
}

func newSender(s *output.Settings, owner *output.Output) (output.Handler, error) {
	address := s.String("address", "")
	if address == "" {
		return nil, fmt.Errorf("quicsend: address setting is required")
	}
	return &Sender{
		log:      slog.Default().With("component", "quicsend", "output", owner.Name()),
		owner:    owner,
		address:  address,
		insecure: s.Bool("insecure", false),
	}, nil
}

// Start dials the server, opens the packet stream, and begins data
// capture.
func (s *Sender) Start() bool {
	if !s.owner.CanBeginCapture(0) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tlsConf := &tls.Config{
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: s.insecure,
	}

	conn, err := quic.DialAddr(ctx, s.address, tlsConf, nil)
	if err != nil {
		s.log.Error("dial", "address", s.address, "error", err)
		s.owner.SignalStartFailure(output.CodeConnectFailed)
		return false
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		s.log.Error("open stream", "error", err)
		conn.CloseWithError(0, "stream open failed")
		s.owner.SignalStartFailure(output.CodeConnectFailed)
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.stream = stream
	s.writeErrs = 0
	s.mu.Unlock()

	if !s.owner.BeginCapture(0) {
		s.closeConn()
		return false
	}

	s.log.Info("streaming", "address", s.address)
	return true
}

// Stop ends data capture and closes the stream and connection.
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
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	if s.conn != nil {
		s.conn.CloseWithError(0, "done")
		s.conn = nil
	}
}

// EncodedPacket writes one wire-framed packet to the stream. It runs
// under the owner's interleave lock and never calls back into the
// output; a failed write tears the connection down and later packets are
// dropped.
func (s *Sender) EncodedPacket(pkt *media.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return
	}

	s.buf = wire.AppendPacket(s.buf[:0], pkt)
	if _, err := s.stream.Write(s.buf); err != nil {
		if s.writeErrs == 0 {
			s.log.Error("write", "error", err)
		}
		s.writeErrs++
		s.stream = nil
		if s.conn != nil {
			s.conn.CloseWithError(1, "write failed")
			s.conn = nil
		}
	}
}
