// SPDX-License-Identifier: GPL-2.0-or-later

// Recinfo is a CLI utility that prints information about recordings.
package main

import (
	"capture/pkg/media"
	"capture/pkg/sink/filesink"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const usage = `print information about recordings
example: recinfo [-v] ./storage/recordings`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("recinfo", flag.ContinueOnError)
	flags.SetOutput(out)
	verbose := flags.Bool("v", false, "print every sample")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(out, usage)
		return nil
	}

	recordings, err := findRecordings(flags.Arg(0))
	if err != nil {
		return err
	}

	n := len(recordings)
	fmt.Fprintf(out, "Found %v recordings.\n", n)

	for i, recording := range recordings {
		fmt.Fprintf(out, "[%v/%v]", i+1, n)
		info, err := readInfo(recording)
		if err != nil {
			fmt.Fprintf(out, "[ERR] %v %v\n", recording, err)
			continue
		}
		fmt.Fprintf(out, "[OK] %v %v\n", recording, info)
		if *verbose {
			for _, s := range info.samples {
				fmt.Fprintf(out, "    %v\n", formatSample(s))
			}
		}
	}
	return nil
}

// Returns every recording path without extension that has both files.
func findRecordings(root string) ([]string, error) {
	var recordings []string
	walkFunc := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta") {
			return nil
		}

		recording := strings.TrimSuffix(path, ".meta")
		_, err = os.Stat(recording + ".mdat")
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%v %w", path, err)
		}

		recordings = append(recordings, recording)
		return nil
	}
	if err := filepath.WalkDir(root, walkFunc); err != nil {
		return nil, err
	}
	return recordings, nil
}

// ErrTruncated sample outside of the mdat file.
var ErrTruncated = errors.New("mdat truncated")

type recordingInfo struct {
	header  *filesink.Header
	samples []filesink.Sample
	video   int
	audio   int
}

func readInfo(recording string) (*recordingInfo, error) {
	header, samples, err := filesink.ReadRecording(recording)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(recording + ".mdat")
	if err != nil {
		return nil, err
	}

	info := &recordingInfo{header: header, samples: samples}
	mdatSize := uint64(stat.Size())
	for _, s := range samples {
		if s.Offset > mdatSize || uint64(s.Size) > mdatSize-s.Offset {
			return nil, fmt.Errorf("%w: sample at %v", ErrTruncated, time.Duration(s.PTS))
		}
		if s.IsAudio {
			info.audio++
		} else {
			info.video++
		}
	}
	return info, nil
}

func (i recordingInfo) String() string {
	h := i.header
	var b strings.Builder
	if h.VideoWidth != 0 {
		fmt.Fprintf(&b, "video: %vx%v %v, ",
			h.VideoWidth, h.VideoHeight, media.PixelFormat(h.PixelFormat))
	}
	if h.AudioChannels != 0 {
		fmt.Fprintf(&b, "audio: %vHz %vch, ", h.AudioSampleRate, h.AudioChannels)
	}
	fmt.Fprintf(&b, "%v - %v, samples: %v video %v audio",
		time.Duration(h.StartTime), time.Duration(h.EndTime), i.video, i.audio)
	return b.String()
}

func formatSample(s filesink.Sample) string {
	track := media.TrackVideo
	if s.IsAudio {
		track = media.TrackAudio
	}
	var flags string
	if s.IsCompressed {
		flags += " compressed"
	}
	if s.IsSync {
		flags += " sync"
	}
	return fmt.Sprintf("%v pts=%v dur=%v offset=%v size=%v%v",
		track, time.Duration(s.PTS), time.Duration(s.Duration), s.Offset, s.Size, flags)
}
