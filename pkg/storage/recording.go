// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RecordingData recording data marshaled to json and saved next to the recording.
type RecordingData struct {
	ID           string        `json:"id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	StartPTS     time.Duration `json:"startPts"`
	EndPTS       time.Duration `json:"endPts"`
	VideoSamples int           `json:"videoSamples"`
	AudioSamples int           `json:"audioSamples"`
}

// SaveRecordingData writes <path>.json.
func SaveRecordingData(path string, data RecordingData) error {
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path+".json", raw, 0o600); err != nil {
		return fmt.Errorf("write recording data: %w", err)
	}
	return nil
}

// ReadRecordingData reads <path>.json.
func ReadRecordingData(path string) (*RecordingData, error) {
	raw, err := os.ReadFile(path + ".json")
	if err != nil {
		return nil, err
	}
	var data RecordingData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal recording data: %w", err)
	}
	return &data, nil
}
