// Package wire implements the length-delimited packet framing shared by
// the network output types (WebSocket, SRT, QUIC). All integer fields use
// QUIC variable-length encoding; signed timestamps are zigzag-mapped so
// packets adjusted below zero survive the trip.
package wire

import (
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/outlet/media"
)

// Frame layout, in order:
//
//	kind      varint (0 video, 1 audio)
//	flags     varint (bit 0: keyframe)
//	dts       varint, zigzag
//	pts       varint, zigzag
//	timebase  varint (ticks per second)
//	length    varint
//	payload   length bytes
const flagKeyframe = 0x1

// maxPayload rejects absurd length prefixes before allocating.
const maxPayload = 64 << 20

// AppendPacket appends the framed packet to buf and returns the result.
func AppendPacket(buf []byte, pkt *media.Packet) []byte {
	buf = quicvarint.Append(buf, uint64(pkt.Kind))

	var flags uint64
	if pkt.Keyframe {
		flags |= flagKeyframe
	}
	buf = quicvarint.Append(buf, flags)

	buf = quicvarint.Append(buf, zigzag(pkt.DTS))
	buf = quicvarint.Append(buf, zigzag(pkt.PTS))
	buf = quicvarint.Append(buf, uint64(pkt.TimebaseDen))
	buf = quicvarint.Append(buf, uint64(len(pkt.Data)))
	return append(buf, pkt.Data...)
}

// ReadPacket decodes one framed packet from r.
func ReadPacket(r quicvarint.Reader) (*media.Packet, error) {
	kind, err := quicvarint.Read(r)
	if err != nil {
		return nil, err
	}
	if kind > uint64(media.TrackAudio) {
		return nil, fmt.Errorf("wire: unknown track kind %d", kind)
	}

	flags, err := quicvarint.Read(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read flags: %w", err)
	}
	dts, err := quicvarint.Read(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read dts: %w", err)
	}
	pts, err := quicvarint.Read(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read pts: %w", err)
	}
	den, err := quicvarint.Read(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read timebase: %w", err)
	}
	length, err := quicvarint.Read(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read length: %w", err)
	}
	if length > maxPayload {
		return nil, fmt.Errorf("wire: payload length %d exceeds limit", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	return &media.Packet{
		Kind:        media.TrackKind(kind),
		Data:        data,
		DTS:         unzigzag(dts),
		PTS:         unzigzag(pts),
		TimebaseDen: int64(den),
		Keyframe:    flags&flagKeyframe != 0,
	}, nil
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
