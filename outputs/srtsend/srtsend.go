// Package srtsend implements a network streamer output type that dials a
// remote SRT listener in caller mode and pushes the interleaved packet
// stream as wire-framed packets.
package srtsend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/wire"
)

// TypeID is the registry id of this output type.
const TypeID = "srtsend"

// srtPayloadSize is the per-write chunk size: 1316 bytes = 7 MPEG-TS
// packets, the standard SRT payload size.
const srtPayloadSize = 1316

// dialTimeout bounds the synchronous SRT handshake in Start.
const dialTimeout = 10 * time.Second

// Register adds the srtsend output type to the registry. Settings:
// "address" (string, required), "stream_id" (string, optional),
// "latency_ms" (int, default 120).
func Register(reg *output.Registry) error {
	return reg.RegisterType(&output.Descriptor{
		TypeID: TypeID,
		Caps:   output.CapVideo | output.CapAudio | output.CapEncoded,
		Defaults: func(s *output.Settings) {
			s.SetDefault("latency_ms", int64(120))
		},
		New: newSender,
	})
}

// Sender is the srtsend transport backend.
type Sender struct {
	log      *slog.Logger
	owner    *output.Output
	address  string
	streamID string
	latency  time.Duration

	mu        sync.Mutex
	conn      *srtgo.Conn
	buf       []byte
	writeErrs int
}

func newSender(s *output.Settings, owner *output.Output) (output.Handler, error) {
	address := s.String("address", "")
	if address == "" {
		return nil, fmt.Errorf("srtsend: address setting is required")
	}
	return &Sender{
		log:      slog.Default().With("component", "srtsend", "output", owner.Name()),
		owner:    owner,
		address:  address,
		streamID: s.String("stream_id", ""),
		latency:  time.Duration(s.Int("latency_ms", 120)) * time.Millisecond,
	}, nil
}

// Start dials the remote listener synchronously (with a timeout) and
// begins data capture.
func (s *Sender) Start() bool {
	if !s.owner.CanBeginCapture(0) {
		return false
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = s.latency
	cfg.StreamID = s.streamID

	s.log.Info("dialing", "address", s.address, "stream_id", s.streamID)

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			s.log.Error("dial", "address", s.address, "error", res.err)
			s.owner.SignalStartFailure(output.CodeConnectFailed)
			return false
		}
		conn = res.conn
	case <-timer.C:
		// Drain the dial result in the background and close any leaked
		// connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		s.log.Error("dial timed out", "address", s.address, "timeout", dialTimeout)
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

	s.log.Info("streaming", "address", s.address)
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
		s.conn.Close()
		s.conn = nil
	}
}

// EncodedPacket frames one packet and writes it in SRT-payload-sized
// chunks. It runs under the owner's interleave lock and never calls back
// into the output; a failed write tears the connection down and later
// packets are dropped.
func (s *Sender) EncodedPacket(pkt *media.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}

	s.buf = wire.AppendPacket(s.buf[:0], pkt)
	for chunk := s.buf; len(chunk) > 0; {
		n := len(chunk)
		if n > srtPayloadSize {
			n = srtPayloadSize
		}
		if _, err := s.conn.Write(chunk[:n]); err != nil {
			if s.writeErrs == 0 {
				s.log.Error("write", "error", err)
			}
			s.writeErrs++
			s.conn.Close()
			s.conn = nil
			return
		}
		chunk = chunk[n:]
	}
}
