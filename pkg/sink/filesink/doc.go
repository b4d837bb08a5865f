// SPDX-License-Identifier: GPL-2.0-or-later

// Package filesink writes sessions to disk in a simple two file format.
package filesink

// Requirements.
//   1. Data must remain valid in case of a system failure.
//   2. Samples should be readable as soon as they are written.
//   3. Raw frames, compressed frames and audio share one timeline.
//
//
//
// <path>.mdat: File with continuous chunks of raw media data.
//   []byte
//
// <path>.meta: File that contains all metadata required to read the samples.
//   version         uint8
//   videoWidth      uint16
//   videoHeight     uint16
//   pixelFormat     uint8
//   audioSampleRate uint32
//   audioChannels   uint8
//   startTime       int64 // Patched on finish.
//   endTime         int64 // Patched on finish.
//   samples         []sampleV0
//
//
// sampleV0 { // 29 bytes. timestamps are presentation times in nanoseconds.
//   flags    uint8 { isAudio, isCompressed, isSync }
//   pts      int64
//   duration int64
//
//   // Offset in .mdat where the actual data is stored.
//   offset uint64
//   size   uint32
// }
