// SPDX-License-Identifier: GPL-2.0-or-later

package filesink

import (
	"fmt"
	"io"
	"os"
)

// Reader reads a single meta file.
type Reader struct {
	in io.ReadSeeker

	headerSize  int
	fileSize    int
	sampleCount int
}

// NewReader creates a new reader.
func NewReader(in io.ReadSeeker, fileSize int) (*Reader, *Header, error) {
	var header Header
	headerSize, err := header.Unmarshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("unmarshal header: %w", err)
	}

	r := Reader{
		in:          in,
		headerSize:  headerSize,
		fileSize:    fileSize,
		sampleCount: (fileSize - headerSize) / sampleSize,
	}

	return &r, &header, nil
}

// ReadAllSamples reads and returns all samples in the file.
func (r *Reader) ReadAllSamples() ([]Sample, error) {
	// Seek to end of the header.
	_, err := r.in.Seek(int64(r.headerSize), io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, sampleSize)
	samples := make([]Sample, r.sampleCount)
	for i := 0; i < r.sampleCount; i++ {
		if _, err := io.ReadFull(r.in, buf); err != nil {
			return nil, err
		}
		if err := samples[i].Unmarshal(buf); err != nil {
			return nil, err
		}
	}

	return samples, nil
}

// ReadRecording reads the header and samples of the recording at path.
func ReadRecording(path string) (*Header, []Sample, error) {
	file, err := os.Open(path + ".meta")
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}

	r, header, err := NewReader(file, int(stat.Size()))
	if err != nil {
		return nil, nil, err
	}

	samples, err := r.ReadAllSamples()
	if err != nil {
		return nil, nil, fmt.Errorf("read samples: %w", err)
	}
	return header, samples, nil
}
