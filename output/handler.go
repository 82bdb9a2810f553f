package output

import "github.com/zsiec/outlet/media"

// Capability flags declared by an output type and used as capture request
// flags. A zero request to BeginCapture inherits the type's full
// capability set; a non-zero request is intersected with it.
type Capability uint32

// Capability bits.
const (
	CapVideo Capability = 1 << iota
	CapAudio
	CapEncoded
)

// CapAV requests both streams.
const CapAV = CapVideo | CapAudio

// Descriptor describes a registered output type. New constructs the
// transport backend for one instance; it may mutate the settings it is
// given (they are already the instance's private copy). Defaults, when
// non-nil, seeds type defaults via Settings.SetDefault.
type Descriptor struct {
	TypeID   string
	Caps     Capability
	Defaults func(s *Settings)
	New      func(s *Settings, owner *Output) (Handler, error)
}

// Handler is the transport-specific backend of an output instance. Start
// is expected to prepare the transport and call the owner's BeginCapture;
// Stop tears the transport down and calls EndCapture. Destroy releases
// whatever the constructor allocated and is called exactly once.
//
// Handlers additionally implement PacketSink, RawVideoSink, or
// RawAudioSink depending on the capabilities they declare; BeginCapture
// refuses to wire a stream kind whose sink is missing.
type Handler interface {
	Start() bool
	Stop()
	Destroy()
}

// PacketSink consumes interleaved encoder packets. It is invoked while
// the owning output's interleave lock is held and must not re-enter any
// operation on that output, nor block indefinitely.
type PacketSink interface {
	EncodedPacket(pkt *media.Packet)
}

// RawVideoSink consumes unencoded video frames during raw capture.
type RawVideoSink interface {
	RawVideo(frame *media.VideoFrame)
}

// RawAudioSink consumes unencoded audio during raw capture.
type RawAudioSink interface {
	RawAudio(audio *media.AudioData)
}

// Updater is optionally implemented by handlers that react to settings
// changes after construction.
type Updater interface {
	Update(s *Settings)
}

// Pauser is optionally implemented by handlers that support pausing.
type Pauser interface {
	Pause()
}

// PacketFunc receives encoder packets on the encoder's goroutine. The
// packet is only valid for the duration of the call; implementations that
// retain it must clone it first.
type PacketFunc func(pkt *media.Packet)

// VideoFunc receives raw video frames on the source's goroutine.
type VideoFunc func(frame *media.VideoFrame)

// AudioFunc receives raw audio on the source's goroutine.
type AudioFunc func(audio *media.AudioData)

// Encoder is the packet-producing collaborator for encoded capture. Start
// attaches a packet callback and returns a detach function; an encoder
// may feed several outputs at once, each with its own callback. Detaching
// stops future delivery but does not tear the encoder down.
type Encoder interface {
	Kind() media.TrackKind
	Start(fn PacketFunc) (stop func())
}

// VideoSource delivers raw frames for unencoded video capture. The spec
// is an opaque conversion directive passed through unmodified; nil means
// deliver frames in their native format.
type VideoSource interface {
	ConnectVideo(spec *media.VideoScaleSpec, fn VideoFunc) (disconnect func())
}

// AudioSource delivers raw samples for unencoded audio capture.
type AudioSource interface {
	ConnectAudio(spec *media.AudioConvertSpec, fn AudioFunc) (disconnect func())
}
