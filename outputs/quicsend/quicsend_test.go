package quicsend

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/outlet/certs"
	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/wire"
)

type stubEncoder struct {
	kind media.TrackKind
	fn   output.PacketFunc
}

func (e *stubEncoder) Kind() media.TrackKind { return e.kind }

func (e *stubEncoder) Start(fn output.PacketFunc) func() {
	e.fn = fn
	return func() { e.fn = nil }
}

func (e *stubEncoder) emit(pkt *media.Packet) {
	if e.fn != nil {
		e.fn(pkt)
	}
}

// startCollector runs a QUIC listener that accepts one connection, reads
// wire-framed packets off its first stream, and reports them on a
// channel.
func startCollector(t *testing.T) (string, <-chan *media.Packet) {
	t.Helper()

	cert, err := certs.Generate(time.Hour)
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{ALPN},
	}

	ln, err := quic.ListenAddr("127.0.0.1:0", tlsConf, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	packets := make(chan *media.Packet, 64)
	go func() {
		defer close(packets)
		conn, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		r := quicvarint.NewReader(stream)
		for {
			pkt, err := wire.ReadPacket(r)
			if err != nil {
				return
			}
			packets <- pkt
		}
	}()

	return ln.Addr().String(), packets
}

func TestNewRequiresAddress(t *testing.T) {
	t.Parallel()

	reg := output.NewRegistry(nil)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := reg.New(TypeID, "push", nil)
	if !errors.Is(err, output.ErrConstructionFailed) {
		t.Fatalf("got %v, want ErrConstructionFailed", err)
	}
}

func TestStreamsPackets(t *testing.T) {
	t.Parallel()

	addr, packets := startCollector(t)

	reg := output.NewRegistry(nil)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := output.NewSettings()
	s.Set("address", addr)
	s.Set("insecure", true)
	o, err := reg.New(TypeID, "push", s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Destroy()

	venc := &stubEncoder{kind: media.TrackVideo}
	aenc := &stubEncoder{kind: media.TrackAudio}
	o.SetVideoEncoder(venc)
	o.SetAudioEncoder(aenc)

	if !o.Start() {
		t.Fatal("Start failed")
	}

	venc.emit(&media.Packet{Kind: media.TrackVideo, Data: []byte{1, 2, 3}, DTS: 0, PTS: 0, TimebaseDen: 1000, Keyframe: true})
	aenc.emit(&media.Packet{Kind: media.TrackAudio, Data: []byte{4, 5}, DTS: 0, PTS: 0, TimebaseDen: 1000})
	venc.emit(&media.Packet{Kind: media.TrackVideo, Data: []byte{6}, DTS: 33, PTS: 33, TimebaseDen: 1000})

	// Collect before Stop: closing the connection can discard stream data
	// still in flight.
	var got []*media.Packet
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case pkt, ok := <-packets:
			if !ok {
				if len(got) < 2 {
					t.Fatalf("stream closed after %d packets", len(got))
				}
			} else {
				got = append(got, pkt)
			}
		case <-timeout:
			t.Fatalf("timed out with %d packets", len(got))
		}
	}

	first := got[0]
	if first.Kind != media.TrackVideo || !first.Keyframe {
		t.Fatalf("first packet = %+v, want video keyframe", first)
	}
	if first.DTS != 0 {
		t.Fatalf("first DTS = %d, want 0", first.DTS)
	}
	if string(first.Data) != "\x01\x02\x03" {
		t.Fatalf("first payload = %v", first.Data)
	}
	if got[1].Kind != media.TrackAudio {
		t.Fatalf("second packet kind = %v, want audio", got[1].Kind)
	}

	o.Stop()
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	reg := output.NewRegistry(nil)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := output.NewSettings()
	// Nothing is listening here; the handshake fails fast with a closed
	// UDP socket on loopback, but allow the dial timeout regardless.
	s.Set("address", "127.0.0.1:1")
	s.Set("insecure", true)
	o, err := reg.New(TypeID, "push", s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Destroy()

	var code output.Code
	var seen bool
	o.Listen(func(ev output.Event) {
		if ev.Kind == output.EventStart {
			code, seen = ev.Code, true
		}
	})

	venc := &stubEncoder{kind: media.TrackVideo}
	aenc := &stubEncoder{kind: media.TrackAudio}
	o.SetVideoEncoder(venc)
	o.SetAudioEncoder(aenc)

	if o.Start() {
		t.Fatal("Start succeeded against a dead endpoint")
	}
	if !seen || code != output.CodeConnectFailed {
		t.Fatalf("got code %d (seen=%v), want CodeConnectFailed", code, seen)
	}
}
