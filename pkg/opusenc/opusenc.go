// Package opusenc packs recorded speech into Opus packets for storage or
// upload.
package opusenc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/hraban/opus.v2"
)

// FrameDuration is the duration of one Opus packet.
const FrameDuration = 20 * time.Millisecond

// maxPacketBytes bounds one encoded packet (RFC 6716 recommends 4000).
const maxPacketBytes = 4000

// ErrPacketTooLarge is returned when a stored packet does not fit the
// length prefix.
var ErrPacketTooLarge = errors.New("opusenc: packet too large")

// Encoder turns mono PCM into 20ms Opus packets. It buffers partial frames
// between calls. An Encoder is not safe for concurrent use.
type Encoder struct {
	enc     *opus.Encoder
	frame   int
	pending []int16
	out     []byte
}

// NewEncoder creates a voice-tuned mono encoder. A bitrate of 0 keeps the
// library default.
func NewEncoder(sampleRate, bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set bitrate %d: %w", bitrate, err)
		}
	}
	frame := sampleRate * int(FrameDuration/time.Millisecond) / 1000
	return &Encoder{
		enc:     enc,
		frame:   frame,
		pending: make([]int16, 0, frame),
		out:     make([]byte, maxPacketBytes),
	}, nil
}

// FrameSamples returns the number of samples per packet.
func (e *Encoder) FrameSamples() int {
	return e.frame
}

// Encode appends pcm to the pending samples and returns one packet per
// complete frame.
func (e *Encoder) Encode(pcm []int16) ([][]byte, error) {
	var packets [][]byte
	for len(pcm) > 0 {
		n := min(e.frame-len(e.pending), len(pcm))
		e.pending = append(e.pending, pcm[:n]...)
		pcm = pcm[n:]

		if len(e.pending) < e.frame {
			break
		}
		p, err := e.encodePending()
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// Flush encodes any partial frame padded with silence.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	for len(e.pending) < e.frame {
		e.pending = append(e.pending, 0)
	}
	return e.encodePending()
}

func (e *Encoder) encodePending() ([]byte, error) {
	n, err := e.enc.Encode(e.pending, e.out)
	e.pending = e.pending[:0]
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	p := make([]byte, n)
	copy(p, e.out[:n])
	return p, nil
}

// EncodeAll encodes a complete utterance, padding the last frame.
func EncodeAll(sampleRate, bitrate int, pcm []int16) ([][]byte, error) {
	e, err := NewEncoder(sampleRate, bitrate)
	if err != nil {
		return nil, err
	}
	packets, err := e.Encode(pcm)
	if err != nil {
		return nil, err
	}
	last, err := e.Flush()
	if err != nil {
		return nil, err
	}
	if last != nil {
		packets = append(packets, last)
	}
	return packets, nil
}

// Decode turns packets back into mono PCM.
func Decode(sampleRate int, packets [][]byte) ([]int16, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// 120ms is the longest Opus frame.
	buf := make([]int16, sampleRate*120/1000)
	var out []int16
	for i, p := range packets {
		n, err := dec.Decode(p, buf)
		if err != nil {
			return out, fmt.Errorf("decode packet %d: %w", i, err)
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

// WritePackets stores packets as a sequence of big-endian uint16 length
// prefixes, each followed by the packet bytes.
func WritePackets(w io.Writer, packets [][]byte) error {
	bw := bufio.NewWriter(w)
	var hdr [2]byte
	for _, p := range packets {
		if len(p) > 0xFFFF {
			return ErrPacketTooLarge
		}
		binary.BigEndian.PutUint16(hdr[:], uint16(len(p)))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(p); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadPackets reads packets written by WritePackets.
func ReadPackets(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var (
		hdr     [2]byte
		packets [][]byte
	)
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return packets, nil
			}
			return packets, fmt.Errorf("read packet header: %w", err)
		}
		p := make([]byte, binary.BigEndian.Uint16(hdr[:]))
		if _, err := io.ReadFull(br, p); err != nil {
			return packets, fmt.Errorf("read packet: %w", err)
		}
		packets = append(packets, p)
	}
}
