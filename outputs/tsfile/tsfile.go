// Package tsfile implements a file-writer output type that muxes the
// interleaved packet stream into an MPEG-TS file. Video is assumed to be
// an H.264 elementary stream and audio ADTS AAC.
package tsfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/asticode/go-astits"

	"github.com/zsiec/outlet/media"
	"github.com/zsiec/outlet/output"
)

// TypeID is the registry id of this output type.
const TypeID = "tsfile"

const (
	videoPID = 256
	audioPID = 257

	tsClock = 90000

	// pcrOffset keeps presentation timestamps comfortably ahead of the
	// program clock reference.
	pcrOffset = 400 * time.Millisecond
)

// Register adds the tsfile output type to the registry. Settings:
// "path" (string, required) — destination file.
func Register(reg *output.Registry) error {
	return reg.RegisterType(&output.Descriptor{
		TypeID: TypeID,
		Caps:   output.CapVideo | output.CapAudio | output.CapEncoded,
		Defaults: func(s *output.Settings) {
			s.SetDefault("path", "capture.ts")
		},
		New: newWriter,
	})
}

// Writer is the tsfile transport backend.
type Writer struct {
	log   *slog.Logger
	owner *output.Output
	path  string

	mu         sync.Mutex
	f          *os.File
	mux        *astits.Muxer
	pcrCounter int
	writeErrs  int
}

func newWriter(s *output.Settings, owner *output.Output) (output.Handler, error) {
	path := s.String("path", "")
	if path == "" {
		return nil, fmt.Errorf("tsfile: path setting is required")
	}
	return &Writer{
		log:   slog.Default().With("component", "tsfile", "output", owner.Name()),
		owner: owner,
		path:  path,
	}, nil
}

// Start opens the destination file, prepares the muxer, and begins data
// capture.
func (w *Writer) Start() bool {
	if !w.owner.CanBeginCapture(0) {
		return false
	}

	f, err := os.Create(w.path)
	if err != nil {
		w.log.Error("create file", "path", w.path, "error", err)
		w.owner.SignalStartFailure(output.CodeBadPath)
		return false
	}

	mux := astits.NewMuxer(context.Background(), f)
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		w.log.Error("add video stream", "error", err)
		f.Close()
		return false
	}
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: audioPID,
		StreamType:    astits.StreamTypeAACAudio,
	}); err != nil {
		w.log.Error("add audio stream", "error", err)
		f.Close()
		return false
	}
	mux.SetPCRPID(videoPID)

	w.mu.Lock()
	w.f = f
	w.mux = mux
	w.pcrCounter = 0
	w.writeErrs = 0
	w.mu.Unlock()

	if !w.owner.BeginCapture(0) {
		w.closeFile()
		return false
	}

	w.log.Info("recording", "path", w.path)
	return true
}

// Stop ends data capture and closes the file.
func (w *Writer) Stop() {
	w.owner.EndCapture()
	w.closeFile()
}

// Destroy releases the file if Stop was never called.
func (w *Writer) Destroy() {
	w.closeFile()
}

func (w *Writer) closeFile() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		w.f.Close()
		w.f = nil
		w.mux = nil
	}
}

// EncodedPacket muxes one interleaved packet into the file. It runs under
// the owner's interleave lock, so it only takes its own mutex and never
// calls back into the output.
func (w *Writer) EncodedPacket(pkt *media.Packet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mux == nil {
		return
	}

	var err error
	if pkt.Kind == media.TrackVideo {
		err = w.writeVideoLocked(pkt)
	} else {
		err = w.writeAudioLocked(pkt)
	}
	if err != nil {
		if w.writeErrs == 0 {
			w.log.Error("mux write", "error", err)
		}
		w.writeErrs++
	}
}

func (w *Writer) writeVideoLocked(pkt *media.Packet) error {
	dts := clock90(pkt.DTS, pkt.TimebaseDen)
	pts := clock90(pkt.PTS, pkt.TimebaseDen)
	off := int64(pcrOffset.Seconds() * tsClock)

	var af *astits.PacketAdaptationField
	if pkt.Keyframe {
		af = &astits.PacketAdaptationField{RandomAccessIndicator: true}
	}

	// Send a PCR once in a while.
	if w.pcrCounter == 0 {
		if af == nil {
			af = &astits.PacketAdaptationField{}
		}
		af.HasPCR = true
		af.PCR = &astits.ClockReference{Base: dts}
		w.pcrCounter = 3
	}
	w.pcrCounter--

	oh := &astits.PESOptionalHeader{MarkerBits: 2}
	if dts == pts {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		oh.PTS = &astits.ClockReference{Base: pts + off}
	} else {
		oh.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		oh.DTS = &astits.ClockReference{Base: dts + off}
		oh.PTS = &astits.ClockReference{Base: pts + off}
	}

	_, err := w.mux.WriteData(&astits.MuxerData{
		PID:             videoPID,
		AdaptationField: af,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: oh,
				StreamID:       224, // video
			},
			Data: pkt.Data,
		},
	})
	return err
}

func (w *Writer) writeAudioLocked(pkt *media.Packet) error {
	pts := clock90(pkt.PTS, pkt.TimebaseDen)
	off := int64(pcrOffset.Seconds() * tsClock)

	_, err := w.mux.WriteData(&astits.MuxerData{
		PID:             audioPID,
		AdaptationField: &astits.PacketAdaptationField{RandomAccessIndicator: true},
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
					PTS:             &astits.ClockReference{Base: pts + off},
				},
				PacketLength: uint16(len(pkt.Data) + 8),
				StreamID:     192, // audio
			},
			Data: pkt.Data,
		},
	})
	return err
}

// clock90 converts a timestamp from its native timebase to the 90kHz
// MPEG-TS clock.
func clock90(ts, den int64) int64 {
	return ts * tsClock / den
}
