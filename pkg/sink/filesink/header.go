// SPDX-License-Identifier: GPL-2.0-or-later

package filesink

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

const (
	version    = 0
	headerSize = 27

	// Offsets of the fields that are patched on finish.
	startTimeOffset = 11
	endTimeOffset   = 19
)

// Header meta file header.
type Header struct {
	VideoWidth      uint16
	VideoHeight     uint16
	PixelFormat     uint8
	AudioSampleRate uint32
	AudioChannels   uint8
	StartTime       int64 // Nanoseconds.
	EndTime         int64 // Nanoseconds.
}

// Marshal header.
func (h Header) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize))
	w := bitio.NewWriter(buf)

	w.TryWriteBits(version, 8)
	w.TryWriteBits(uint64(h.VideoWidth), 16)
	w.TryWriteBits(uint64(h.VideoHeight), 16)
	w.TryWriteBits(uint64(h.PixelFormat), 8)
	w.TryWriteBits(uint64(h.AudioSampleRate), 32)
	w.TryWriteBits(uint64(h.AudioChannels), 8)
	w.TryWriteBits(uint64(h.StartTime), 64)
	w.TryWriteBits(uint64(h.EndTime), 64)

	// bytes.Buffer writes cannot fail.
	w.Close() //nolint:errcheck

	return buf.Bytes()
}

// ErrUnsupportedVersion unsupported version.
var ErrUnsupportedVersion = errors.New("unsupported version")

// Unmarshal header from reader.
func (h *Header) Unmarshal(in io.Reader) (int, error) {
	raw := make([]byte, headerSize)
	n, err := io.ReadFull(in, raw)
	if err != nil {
		return 0, err
	}

	r := bitio.NewReader(bytes.NewReader(raw))
	v := r.TryReadBits(8)
	if r.TryError == nil && v != version {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	h.VideoWidth = uint16(r.TryReadBits(16))
	h.VideoHeight = uint16(r.TryReadBits(16))
	h.PixelFormat = uint8(r.TryReadBits(8))
	h.AudioSampleRate = uint32(r.TryReadBits(32))
	h.AudioChannels = uint8(r.TryReadBits(8))
	h.StartTime = int64(r.TryReadBits(64))
	h.EndTime = int64(r.TryReadBits(64))
	if r.TryError != nil {
		return 0, r.TryError
	}

	return n, nil
}

func marshalInt64(v int64) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 8))
	w := bitio.NewWriter(buf)
	w.TryWriteBits(uint64(v), 64)
	w.Close() //nolint:errcheck
	return buf.Bytes()
}
