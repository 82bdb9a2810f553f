// Package output manages the lifecycle of media outputs and the
// interleaving engine that merges independently-timestamped encoded audio
// and video packet streams into one ordered, zero-based timeline before
// handing them to a transport backend.
package output

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/zsiec/outlet/media"
)

// Output is one live output instance: a named, configured binding of at
// most one video and one audio stream to a transport backend. All
// exported methods are safe for concurrent use and nil-safe, mirroring
// the boolean/no-op error policy of the exposed surface.
type Output struct {
	id       uuid.UUID
	name     string
	desc     *Descriptor
	registry *Registry
	handler  Handler
	log      *slog.Logger
	events   notifier

	// stateMu guards lifecycle flags, bound sources/encoders, conversion
	// specs, the settings pointer, and the hook detach funcs. It is never
	// held while emitting events or calling into the handler.
	stateMu      sync.Mutex
	valid        bool
	active       bool
	settings     *Settings
	videoEncoder Encoder
	audioEncoder Encoder
	videoSource  VideoSource
	audioSource  AudioSource
	scaleSpec    *media.VideoScaleSpec
	convertSpec  *media.AudioConvertSpec
	stopVideo    func()
	stopAudio    func()

	// mu is the interleave mutex: it guards the pending queue, the
	// per-session offset state, and the sink, and is held for the full
	// normalize-insert-maybe-deliver sequence.
	mu            sync.Mutex
	sink          PacketSink
	pending       []*envelope
	receivedVideo bool
	receivedAudio bool
	firstVideoTS  int64
	videoOffset   int64
	audioOffset   int64
}

// ID returns the instance identity assigned at creation.
func (o *Output) ID() uuid.UUID {
	return o.id
}

// Name returns the human-readable name given at creation.
func (o *Output) Name() string {
	return o.name
}

// TypeID returns the registered type id this instance was created from.
func (o *Output) TypeID() string {
	return o.desc.TypeID
}

// Active reports whether a capture session is in progress.
func (o *Output) Active() bool {
	if o == nil {
		return false
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.active
}

// Valid reports whether the output has not been destroyed.
func (o *Output) Valid() bool {
	if o == nil {
		return false
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.valid
}

// Listen registers a lifecycle event listener. Listeners receive exactly
// two event kinds: Start (with a result code) and Stop.
func (o *Output) Listen(fn ListenerFunc) {
	o.events.subscribe(fn)
}

// Settings returns the instance's settings. The value is shared with the
// handler and safe for concurrent use; callers wanting a private copy
// should Clone it.
func (o *Output) Settings() *Settings {
	if o == nil {
		return nil
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.settings
}

// Update merges the given settings into the instance's settings and
// forwards them to the handler if it implements Updater.
func (o *Output) Update(settings *Settings) {
	if o == nil {
		return
	}
	o.stateMu.Lock()
	if !o.valid {
		o.stateMu.Unlock()
		return
	}
	o.settings.Apply(settings)
	s := o.settings
	o.stateMu.Unlock()

	if u, ok := o.handler.(Updater); ok {
		u.Update(s)
	}
}

// Start asks the transport backend to start. The backend validates its
// configuration, prepares the transport, and calls BeginCapture.
func (o *Output) Start() bool {
	if o == nil || !o.Valid() {
		return false
	}
	return o.handler.Start()
}

// Stop asks the transport backend to stop. The backend tears the
// transport down and calls EndCapture.
func (o *Output) Stop() {
	if o == nil || !o.Valid() {
		return
	}
	o.handler.Stop()
}

// CanPause reports whether the backend supports pausing.
func (o *Output) CanPause() bool {
	if o == nil {
		return false
	}
	_, ok := o.handler.(Pauser)
	return ok
}

// Pause forwards to the backend if it supports pausing.
func (o *Output) Pause() {
	if o == nil {
		return
	}
	if p, ok := o.handler.(Pauser); ok {
		p.Pause()
	}
}

// SetVideoEncoder binds the video encoder used for encoded capture.
// Binding an encoder of the wrong kind is a caller error and is silently
// ignored. Rebinding the current encoder is a no-op.
func (o *Output) SetVideoEncoder(enc Encoder) {
	if o == nil {
		return
	}
	if enc != nil && enc.Kind() != media.TrackVideo {
		return
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.videoEncoder = enc
}

// SetAudioEncoder binds the audio encoder used for encoded capture, with
// the same kind-mismatch policy as SetVideoEncoder.
func (o *Output) SetAudioEncoder(enc Encoder) {
	if o == nil {
		return
	}
	if enc != nil && enc.Kind() != media.TrackAudio {
		return
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.audioEncoder = enc
}

// VideoEncoder returns the bound video encoder, if any.
func (o *Output) VideoEncoder() Encoder {
	if o == nil {
		return nil
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.videoEncoder
}

// AudioEncoder returns the bound audio encoder, if any.
func (o *Output) AudioEncoder() Encoder {
	if o == nil {
		return nil
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.audioEncoder
}

// SetMedia binds the raw sources used for unencoded capture. Either may
// be nil.
func (o *Output) SetMedia(video VideoSource, audio AudioSource) {
	if o == nil {
		return
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.videoSource = video
	o.audioSource = audio
}

// VideoSource returns the bound raw video source, if any.
func (o *Output) VideoSource() VideoSource {
	if o == nil {
		return nil
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.videoSource
}

// AudioSource returns the bound raw audio source, if any.
func (o *Output) AudioSource() AudioSource {
	if o == nil {
		return nil
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.audioSource
}

// SetVideoConversion stores the directive handed to the raw video source
// at the next BeginCapture. Nil requests are ignored.
func (o *Output) SetVideoConversion(spec *media.VideoScaleSpec) {
	if o == nil || spec == nil {
		return
	}
	dup := *spec
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.scaleSpec = &dup
}

// SetAudioConversion stores the directive handed to the raw audio source
// at the next BeginCapture. Nil requests are ignored.
func (o *Output) SetAudioConversion(spec *media.AudioConvertSpec) {
	if o == nil || spec == nil {
		return
	}
	dup := *spec
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.convertSpec = &dup
}

// resolveFlags intersects the capture request with the type's declared
// capabilities. A zero request inherits the full capability set.
func (o *Output) resolveFlags(flags Capability) (encoded, hasVideo, hasAudio bool) {
	encoded = o.desc.Caps&CapEncoded != 0
	if flags == 0 {
		flags = o.desc.Caps
	} else {
		flags &= o.desc.Caps
	}
	return encoded, flags&CapVideo != 0, flags&CapAudio != 0
}

// canBeginLocked checks that every requested stream kind has its source
// bound and that the handler exposes the sink the hook would feed.
// Callers hold stateMu.
func (o *Output) canBeginLocked(encoded, hasVideo, hasAudio bool) bool {
	if encoded && (hasVideo || hasAudio) {
		if _, ok := o.handler.(PacketSink); !ok {
			return false
		}
	}

	if hasVideo {
		if encoded {
			if o.videoEncoder == nil {
				return false
			}
		} else {
			if o.videoSource == nil {
				return false
			}
			if _, ok := o.handler.(RawVideoSink); !ok {
				return false
			}
		}
	}

	if hasAudio {
		if encoded {
			if o.audioEncoder == nil {
				return false
			}
		} else {
			if o.audioSource == nil {
				return false
			}
			if _, ok := o.handler.(RawAudioSink); !ok {
				return false
			}
		}
	}

	return true
}

// CanBeginCapture reports whether BeginCapture with the same flags would
// succeed, without side effects.
func (o *Output) CanBeginCapture(flags Capability) bool {
	if o == nil {
		return false
	}
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if !o.valid || o.active {
		return false
	}
	encoded, hasVideo, hasAudio := o.resolveFlags(flags)
	return o.canBeginLocked(encoded, hasVideo, hasAudio)
}

// BeginCapture wires encoder or raw-source callbacks to the handler and
// marks the output active. It returns false without side effects if the
// output is destroyed, already active, or a requested stream kind has no
// bound source. On success it emits a Start event with CodeSuccess.
func (o *Output) BeginCapture(flags Capability) bool {
	if o == nil {
		return false
	}
	o.stateMu.Lock()
	if !o.valid || o.active {
		o.stateMu.Unlock()
		return false
	}

	encoded, hasVideo, hasAudio := o.resolveFlags(flags)
	if !o.canBeginLocked(encoded, hasVideo, hasAudio) {
		o.stateMu.Unlock()
		return false
	}

	o.hookLocked(encoded, hasVideo, hasAudio)
	o.active = true
	o.stateMu.Unlock()

	o.log.Info("capture started",
		"encoded", encoded, "video", hasVideo, "audio", hasAudio)
	o.events.emit(Event{Kind: EventStart, Output: o, Code: CodeSuccess})
	return true
}

// hookLocked resets the interleave session state and attaches the
// encoder or raw-source callbacks. Callers hold stateMu.
func (o *Output) hookLocked(encoded, hasVideo, hasAudio bool) {
	if encoded {
		sink := o.handler.(PacketSink)

		o.mu.Lock()
		o.sink = sink
		o.pending = nil
		o.receivedVideo = false
		o.receivedAudio = false
		o.firstVideoTS = 0
		o.videoOffset = 0
		o.audioOffset = 0
		o.mu.Unlock()

		// With both streams live, packets go through the interleave
		// buffer; a single stream is passed straight through.
		var fn PacketFunc
		if hasVideo && hasAudio {
			fn = o.interleavePacket
		} else {
			fn = sink.EncodedPacket
		}

		if hasVideo {
			o.stopVideo = o.videoEncoder.Start(fn)
		}
		if hasAudio {
			o.stopAudio = o.audioEncoder.Start(fn)
		}
		return
	}

	if hasVideo {
		sink := o.handler.(RawVideoSink)
		o.stopVideo = o.videoSource.ConnectVideo(o.scaleSpec, sink.RawVideo)
	}
	if hasAudio {
		sink := o.handler.(RawAudioSink)
		o.stopAudio = o.audioSource.ConnectAudio(o.convertSpec, sink.RawAudio)
	}
}

// EndCapture detaches whichever callbacks BeginCapture wired, marks the
// output inactive, and emits a Stop event. It is a no-op when inactive.
// Packets already inside the interleave lock complete normally; pending
// buffered packets are retained until Destroy.
func (o *Output) EndCapture() {
	if o == nil {
		return
	}
	o.stateMu.Lock()
	if !o.active {
		o.stateMu.Unlock()
		return
	}
	if o.stopVideo != nil {
		o.stopVideo()
		o.stopVideo = nil
	}
	if o.stopAudio != nil {
		o.stopAudio()
		o.stopAudio = nil
	}
	o.active = false
	o.stateMu.Unlock()

	o.log.Info("capture stopped")
	o.events.emit(Event{Kind: EventStop, Output: o})
}

// SignalStartFailure emits a Start event carrying the given non-success
// code without altering the active flag. Transport backends use it to
// report asynchronous start failures detected after BeginCapture already
// returned true.
func (o *Output) SignalStartFailure(code Code) {
	if o == nil {
		return
	}
	o.log.Warn("start failed", "code", int(code))
	o.events.emit(Event{Kind: EventStart, Output: o, Code: code})
}

// Destroy stops active capture, removes the output from the registry,
// frees all buffered packets, and releases the handler and settings. It
// is idempotent; destroyed handles no-op.
func (o *Output) Destroy() {
	if o == nil {
		return
	}
	o.stateMu.Lock()
	if !o.valid {
		o.stateMu.Unlock()
		return
	}
	o.valid = false
	active := o.active
	o.stateMu.Unlock()

	if active {
		o.handler.Stop()
		// The handler's Stop normally calls EndCapture itself; make sure
		// the hooks are gone even if it did not.
		o.EndCapture()
	}

	o.registry.remove(o.id)

	o.mu.Lock()
	dropped := len(o.pending)
	o.pending = nil
	o.sink = nil
	o.mu.Unlock()

	o.handler.Destroy()

	o.stateMu.Lock()
	o.settings = nil
	o.stateMu.Unlock()

	o.log.Info("output destroyed", "dropped_packets", dropped)
}
