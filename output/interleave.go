package output

import "github.com/zsiec/outlet/media"

// microsecondDen is the fixed time unit packet timestamps are converted
// to for cross-stream ordering, independent of each encoder's timebase.
const microsecondDen = 1_000_000

// convertDTS scales a decode timestamp from its native timebase to
// microseconds. Integer truncation is fine: for a fixed timebase, larger
// dts values never map to smaller converted timestamps.
func convertDTS(dts, timebaseDen int64) int64 {
	return dts * microsecondDen / timebaseDen
}

// envelope is one owned, normalized packet awaiting ordered delivery.
type envelope struct {
	pkt      *media.Packet
	inputTS  int64 // microseconds, pre-offset
	outputTS int64 // microseconds, post-offset
}

// prepareEnvelope normalizes one encoder packet against the session's
// offset state, returning nil if the packet is rejected. Audio and video
// must both start at timestamp 0 on the output timeline, but the encoders
// are rarely at 0 when capture begins: the first video packet's dts is
// captured as the video offset and anchors the session, and the first
// accepted audio packet's dts becomes the audio offset. Audio that
// precedes the first video timestamp is dropped, since downstream muxers
// cannot represent it. Callers hold mu.
func (o *Output) prepareEnvelope(pkt *media.Packet) *envelope {
	if pkt.TimebaseDen <= 0 {
		return nil
	}

	inputTS := convertDTS(pkt.DTS, pkt.TimebaseDen)

	var offset int64
	if pkt.Kind == media.TrackVideo {
		if !o.receivedVideo {
			o.firstVideoTS = inputTS
			o.videoOffset = pkt.DTS
			o.receivedVideo = true
		}
		offset = o.videoOffset
	} else {
		if !o.receivedVideo || inputTS < o.firstVideoTS {
			return nil
		}
		if !o.receivedAudio {
			o.audioOffset = pkt.DTS
			o.receivedAudio = true
		}
		offset = o.audioOffset
	}

	out := pkt.Clone()
	out.DTS -= offset
	out.PTS -= offset
	return &envelope{
		pkt:      out,
		inputTS:  inputTS,
		outputTS: convertDTS(out.DTS, out.TimebaseDen),
	}
}

// interleavePacket is the encoder callback wired when both an audio and a
// video encoder are live. It normalizes the packet, inserts it into the
// pending queue in outputTS order, and — once both streams have delivered
// at least one accepted packet — pops exactly one head packet to the
// sink. The whole sequence runs under the interleave mutex, so the two
// encoder goroutines never interleave their buffer operations.
func (o *Output) interleavePacket(pkt *media.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()

	env := o.prepareEnvelope(pkt)
	if env == nil {
		return
	}

	// Insert before the first pending packet with a strictly greater
	// output timestamp, so equal timestamps keep arrival order.
	idx := len(o.pending)
	for i, cur := range o.pending {
		if env.outputTS < cur.outputTS {
			idx = i
			break
		}
	}
	o.pending = append(o.pending, nil)
	copy(o.pending[idx+1:], o.pending[idx:])
	o.pending[idx] = env

	if o.receivedVideo && o.receivedAudio {
		o.sendInterleaved()
	}
}

// sendInterleaved pops the queue head and delivers it to the sink. The
// sink runs under the interleave mutex and must not re-enter the output.
// Callers hold mu and guarantee the queue is non-empty.
func (o *Output) sendInterleaved() {
	env := o.pending[0]
	o.pending[0] = nil
	o.pending = o.pending[1:]
	o.sink.EncodedPacket(env.pkt)
}
