// Package media defines the packet and raw-frame types that flow from
// encoders and sources through the output core to transport sinks.
package media

// TrackKind identifies which elementary stream a packet or encoder
// belongs to.
type TrackKind int

// The two stream kinds an output can carry.
const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// String returns "video" or "audio".
func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "audio"
}

// Packet is one compressed audio or video frame as produced by an encoder.
// DTS and PTS are expressed in the encoder's own timebase, given by
// TimebaseDen ticks per second. Encoders may start their counters at an
// arbitrary value; the output core normalizes them before delivery.
type Packet struct {
	Kind        TrackKind
	Data        []byte
	DTS         int64
	PTS         int64
	TimebaseDen int64
	Keyframe    bool
}

// Clone returns a deep copy of the packet. The output core clones every
// packet it accepts so buffered packets stay valid after the encoder
// recycles its buffers.
func (p *Packet) Clone() *Packet {
	out := *p
	out.Data = make([]byte, len(p.Data))
	copy(out.Data, p.Data)
	return &out
}

// VideoScaleSpec directs a raw video source to convert frames before
// delivery. The output core passes it through unmodified.
type VideoScaleSpec struct {
	Width       int
	Height      int
	PixelFormat string
}

// AudioConvertSpec directs a raw audio source to convert samples before
// delivery. The output core passes it through unmodified.
type AudioConvertSpec struct {
	SampleRate int
	Channels   int
	Format     string
}

// VideoFrame is one raw (unencoded) picture delivered during raw capture.
type VideoFrame struct {
	Timestamp int64 // microseconds
	Planes    [][]byte
	Linesize  []int
}

// AudioData is a block of raw (unencoded) audio samples, one slice per
// channel plane.
type AudioData struct {
	Timestamp int64 // microseconds
	Frames    int
	Planes    [][]byte
}
