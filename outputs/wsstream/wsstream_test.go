package wsstream

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
	"github.com/zsiec/outlet/outputs/wire"
)

type stubEncoder struct {
	kind media.TrackKind
	mu   sync.Mutex
	fns  map[int]output.PacketFunc
	next int
}

func newStubEncoder(kind media.TrackKind) *stubEncoder {
	return &stubEncoder{kind: kind, fns: make(map[int]output.PacketFunc)}
}

func (e *stubEncoder) Kind() media.TrackKind { return e.kind }

func (e *stubEncoder) Start(fn output.PacketFunc) (stop func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.fns[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.fns, id)
		e.mu.Unlock()
	}
}

func (e *stubEncoder) emit(pkt *media.Packet) {
	e.mu.Lock()
	fns := make([]output.PacketFunc, 0, len(e.fns))
	for _, fn := range e.fns {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(pkt)
	}
}

// collector accepts one WebSocket connection and decodes every binary
// message it receives into a packet.
type collector struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	packets []*media.Packet
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		pkt, err := wire.ReadPacket(bytes.NewReader(data))
		if err != nil {
			return
		}
		c.mu.Lock()
		c.packets = append(c.packets, pkt)
		c.mu.Unlock()
	}
}

func (c *collector) received() []*media.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*media.Packet, len(c.packets))
	copy(out, c.packets)
	return out
}

func TestSenderStreamsPackets(t *testing.T) {
	t.Parallel()

	col := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(col.handler))
	defer srv.Close()

	reg := output.NewRegistry(nil)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := output.NewSettings()
	s.Set("url", "ws"+strings.TrimPrefix(srv.URL, "http"))
	o, err := reg.New(TypeID, "push", s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Destroy()

	venc := newStubEncoder(media.TrackVideo)
	aenc := newStubEncoder(media.TrackAudio)
	o.SetVideoEncoder(venc)
	o.SetAudioEncoder(aenc)

	if !o.Start() {
		t.Fatal("Start failed")
	}

	venc.emit(&media.Packet{Kind: media.TrackVideo, Data: []byte{0x65}, DTS: 3000, PTS: 3000, TimebaseDen: 90000, Keyframe: true})
	aenc.emit(&media.Packet{Kind: media.TrackAudio, Data: []byte{0xaa}, DTS: 1600, PTS: 1600, TimebaseDen: 48000})

	// One head pop per accepted packet: the video anchor is on the wire.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if got := col.received(); len(got) >= 1 {
			if got[0].Kind != media.TrackVideo || got[0].DTS != 0 || !got[0].Keyframe {
				t.Fatalf("first wire packet = %+v, want keyframe video dts 0", got[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no packets reached the server")
		}
		time.Sleep(10 * time.Millisecond)
	}

	o.Stop()
	if o.Active() {
		t.Fatal("still active after Stop")
	}
}

func TestNewRequiresURL(t *testing.T) {
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

func TestStartConnectFailed(t *testing.T) {
	t.Parallel()

	reg := output.NewRegistry(nil)
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s := output.NewSettings()
	s.Set("url", "ws://127.0.0.1:1/unreachable")
	o, err := reg.New(TypeID, "push", s)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer o.Destroy()

	o.SetVideoEncoder(newStubEncoder(media.TrackVideo))
	o.SetAudioEncoder(newStubEncoder(media.TrackAudio))

	var mu sync.Mutex
	var code output.Code
	var seen bool
	o.Listen(func(ev output.Event) {
		if ev.Kind == output.EventStart {
			mu.Lock()
			code, seen = ev.Code, true
			mu.Unlock()
		}
	})

	if o.Start() {
		t.Fatal("Start succeeded against unreachable endpoint")
	}
	mu.Lock()
	defer mu.Unlock()
	if !seen || code != output.CodeConnectFailed {
		t.Fatalf("got code %d (seen=%v), want CodeConnectFailed", code, seen)
	}
}
