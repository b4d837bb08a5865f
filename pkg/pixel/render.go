// SPDX-License-Identifier: GPL-2.0-or-later

package pixel

import (
	"capture/pkg/media"
	"errors"
	"fmt"
)

// ErrReleasedHandle the frame handle was released before rendering.
var ErrReleasedHandle = errors.New("frame handle already released")

// Render copies the frame into dst, swapping the red and
// blue channels if the pixel formats differ.
func Render(dst *Buffer, src *media.FrameHandle) error {
	data := src.Data()
	if data == nil {
		return ErrReleasedHandle
	}
	if src.Width() != dst.Width || src.Height() != dst.Height {
		return fmt.Errorf("%w: frame %vx%v, buffer %vx%v",
			ErrInvalidSize, src.Width(), src.Height(), dst.Width, dst.Height)
	}

	rowSize := dst.Width * dst.Format.BytesPerPixel()
	if len(data) < (src.Height()-1)*src.Stride()+rowSize {
		return fmt.Errorf("%w: frame data too short: %v", ErrInvalidSize, len(data))
	}

	swap := src.Format() != dst.Format
	for y := 0; y < dst.Height; y++ {
		srcRow := data[y*src.Stride() : y*src.Stride()+rowSize]
		dstRow := dst.Data[y*dst.Stride : y*dst.Stride+rowSize]
		if !swap {
			copy(dstRow, srcRow)
			continue
		}
		for x := 0; x < rowSize; x += 4 {
			dstRow[x] = srcRow[x+2]
			dstRow[x+1] = srcRow[x+1]
			dstRow[x+2] = srcRow[x]
			dstRow[x+3] = srcRow[x+3]
		}
	}
	return nil
}

// Transform modifies the pixels of a buffer in place.
type Transform func(*Buffer)

// LUT per channel lookup table.
type LUT struct {
	R [256]uint8
	G [256]uint8
	B [256]uint8
}

// NewLUT builds a table that applies curve to all three color channels.
func NewLUT(curve func(uint8) uint8) LUT {
	var lut LUT
	for i := 0; i < 256; i++ {
		v := curve(uint8(i))
		lut.R[i] = v
		lut.G[i] = v
		lut.B[i] = v
	}
	return lut
}

// Transform returns the table as a Transform. Alpha is left untouched.
func (l LUT) Transform() Transform {
	return func(buf *Buffer) {
		r, b := 0, 2
		if buf.Format == media.PixelFormatBGRA {
			r, b = 2, 0
		}
		rowSize := buf.Width * buf.Format.BytesPerPixel()
		for y := 0; y < buf.Height; y++ {
			row := buf.Data[y*buf.Stride : y*buf.Stride+rowSize]
			for x := 0; x < rowSize; x += 4 {
				row[x+r] = l.R[row[x+r]]
				row[x+1] = l.G[row[x+1]]
				row[x+b] = l.B[row[x+b]]
			}
		}
	}
}
