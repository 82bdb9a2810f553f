// Package synth provides deterministic synthetic encoders for exercising
// outputs without a real capture or encode pipeline. Each encoder emits
// packets with monotonically increasing timestamps at a configurable
// rate, so transports and the interleaver can be driven end to end from
// the command line and from tests.
package synth

import (
	"sync"
	"time"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
)

// videoTimebase is the 90 kHz clock conventional for video streams.
const videoTimebase = 90000

// VideoConfig controls a synthetic video encoder.
type VideoConfig struct {
	FPS         int           // frames per second, default 30
	GOP         int           // keyframe every GOP frames, default equal to FPS
	PayloadSize int           // bytes per packet, default 4096
	Interval    time.Duration // wall-clock pacing override, default 1s/FPS
}

// AudioConfig controls a synthetic audio encoder.
type AudioConfig struct {
	SampleRate  int           // samples per second, default 48000
	FrameSize   int           // samples per packet, default 1024
	PayloadSize int           // bytes per packet, default 512
	Interval    time.Duration // wall-clock pacing override, default FrameSize/SampleRate
}

// Encoder is a deterministic packet source implementing output.Encoder.
type Encoder struct {
	kind        media.TrackKind
	timebaseDen int64
	step        int64
	gop         int64
	payloadSize int
	interval    time.Duration

	mu   sync.Mutex
	seq  int64
	fn   output.PacketFunc
	stop chan struct{}
	done chan struct{}
}

// NewVideo creates a synthetic video encoder on a 90 kHz timebase.
func NewVideo(cfg VideoConfig) *Encoder {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.GOP <= 0 {
		cfg.GOP = cfg.FPS
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = 4096
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / time.Duration(cfg.FPS)
	}
	return &Encoder{
		kind:        media.TrackVideo,
		timebaseDen: videoTimebase,
		step:        videoTimebase / int64(cfg.FPS),
		gop:         int64(cfg.GOP),
		payloadSize: cfg.PayloadSize,
		interval:    cfg.Interval,
	}
}

// NewAudio creates a synthetic audio encoder on a sample-rate timebase.
// Every audio packet is a sync point, so they all carry the keyframe
// flag.
func NewAudio(cfg AudioConfig) *Encoder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 1024
	}
	if cfg.PayloadSize <= 0 {
		cfg.PayloadSize = 512
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second * time.Duration(cfg.FrameSize) / time.Duration(cfg.SampleRate)
	}
	return &Encoder{
		kind:        media.TrackAudio,
		timebaseDen: int64(cfg.SampleRate),
		step:        int64(cfg.FrameSize),
		gop:         1,
		payloadSize: cfg.PayloadSize,
		interval:    cfg.Interval,
	}
}

// Kind reports which track this encoder produces.
func (e *Encoder) Kind() media.TrackKind { return e.kind }

// Start begins emitting packets to fn at the configured rate and returns
// a function that stops the encoder and waits for the emit loop to exit.
// The sequence counter carries across Start calls, so timestamps keep
// increasing over restarts.
func (e *Encoder) Start(fn output.PacketFunc) func() {
	e.mu.Lock()
	if e.stop != nil {
		// already running
		stop := e.stop
		done := e.done
		e.mu.Unlock()
		return func() {
			select {
			case <-stop:
			default:
				close(stop)
			}
			<-done
		}
	}
	e.fn = fn
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop = stop
	e.done = done
	e.mu.Unlock()

	go e.emitLoop(stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			e.mu.Lock()
			e.fn = nil
			e.stop = nil
			e.done = nil
			e.mu.Unlock()
		})
	}
}

func (e *Encoder) emitLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.emitOne()
		}
	}
}

func (e *Encoder) emitOne() {
	e.mu.Lock()
	fn := e.fn
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	if fn == nil {
		return
	}
	fn(e.makePacket(seq))
}

// makePacket builds the packet for a given sequence number. The payload
// is a deterministic function of the sequence so receivers can verify
// integrity byte for byte.
func (e *Encoder) makePacket(seq int64) *media.Packet {
	data := make([]byte, e.payloadSize)
	for i := range data {
		data[i] = byte(seq + int64(i))
	}
	ts := seq * e.step
	return &media.Packet{
		Kind:        e.kind,
		Data:        data,
		DTS:         ts,
		PTS:         ts,
		TimebaseDen: e.timebaseDen,
		Keyframe:    seq%e.gop == 0,
	}
}
