// SPDX-License-Identifier: GPL-2.0-or-later

package filesink

import (
	"bytes"

	"github.com/icza/bitio"
)

// Sample flags.
const (
	FlagIsAudio      = uint8(0x1)
	FlagIsCompressed = uint8(0x2)
	FlagIsSync       = uint8(0x4)
)

const sampleSize = 29

// Sample meta record.
type Sample struct {
	IsAudio      bool
	IsCompressed bool
	IsSync       bool

	PTS      int64
	Duration int64
	Offset   uint64
	Size     uint32
}

// Marshal sample.
func (s Sample) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, sampleSize))
	w := bitio.NewWriter(buf)

	w.TryWriteBits(0, 5)
	w.TryWriteBool(s.IsSync)
	w.TryWriteBool(s.IsCompressed)
	w.TryWriteBool(s.IsAudio)
	w.TryWriteBits(uint64(s.PTS), 64)
	w.TryWriteBits(uint64(s.Duration), 64)
	w.TryWriteBits(s.Offset, 64)
	w.TryWriteBits(uint64(s.Size), 32)
	w.Close() //nolint:errcheck

	return buf.Bytes()
}

// Unmarshal sample, buf must be at least 29 bytes.
func (s *Sample) Unmarshal(buf []byte) error {
	r := bitio.NewReader(bytes.NewReader(buf[:sampleSize]))

	r.TryReadBits(5)
	s.IsSync = r.TryReadBool()
	s.IsCompressed = r.TryReadBool()
	s.IsAudio = r.TryReadBool()
	s.PTS = int64(r.TryReadBits(64))
	s.Duration = int64(r.TryReadBits(64))
	s.Offset = r.TryReadBits(64)
	s.Size = uint32(r.TryReadBits(32))

	return r.TryError
}
