// SPDX-License-Identifier: GPL-2.0-or-later

// Package storage environment configuration and recording layout.
package storage

import (
	"capture/pkg/media"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	Port       int     `yaml:"port"`
	StorageDir string  `yaml:"storageDir"`
	LogDB      string  `yaml:"logDB"`
	LogLevel   string  `yaml:"logLevel"`
	Capture    Capture `yaml:"capture"`

	HomeDir   string `yaml:"homeDir"`
	ConfigDir string `yaml:"-"`
}

// Capture pipeline configuration.
type Capture struct {
	Live          bool          `yaml:"live"`
	Align         bool          `yaml:"align"`
	CacheDuration time.Duration `yaml:"cacheDuration"`
	WaitPolicy    string        `yaml:"waitPolicy"`
	MaxWait       time.Duration `yaml:"maxWait"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	DrainBudget   time.Duration `yaml:"drainBudget"`
	QueueSize     int           `yaml:"queueSize"`
	SinkQueueSize int           `yaml:"sinkQueueSize"`

	// Recordings are refused when the storage
	// directory has less free space than this.
	MinFreeMB uint64 `yaml:"minFreeMB"`

	Video VideoTrack `yaml:"video"`
	Audio AudioTrack `yaml:"audio"`
}

// VideoTrack video source settings.
type VideoTrack struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	Format string `yaml:"format"`
}

// AudioTrack audio source settings. Zero channels disables audio.
type AudioTrack struct {
	SampleRate    int           `yaml:"sampleRate"`
	Channels      int           `yaml:"channels"`
	ChunkDuration time.Duration `yaml:"chunkDuration"`
}

// Enabled reports if the audio track is enabled.
func (a AudioTrack) Enabled() bool {
	return a.Channels > 0
}

// Wait policies.
const (
	WaitPolicyWait = "wait"
	WaitPolicyDrop = "drop"
)

// Errors.
var (
	ErrPathNotAbsolute    = errors.New("path is not absolute")
	ErrInvalidValue       = errors.New("invalid value")
	ErrUnknownPixelFormat = errors.New("unknown pixel format")
)

// NewConfigEnv return new environment configuration.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	env := ConfigEnv{
		Capture: Capture{
			Live:  true,
			Align: true,
			Audio: AudioTrack{Channels: 1},
		},
	}

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.LogDB == "" {
		env.LogDB = filepath.Join(env.StorageDir, "logs.db")
	}
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}
	env.Capture.setDefaults()

	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.LogDB) {
		return nil, fmt.Errorf("logDB '%v': %w", env.LogDB, ErrPathNotAbsolute)
	}
	if err := env.Capture.validate(); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	return &env, nil
}

func (c *Capture) setDefaults() {
	if c.CacheDuration == 0 {
		c.CacheDuration = 5 * time.Second
	}
	if c.WaitPolicy == "" {
		c.WaitPolicy = WaitPolicyWait
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.DrainBudget == 0 {
		c.DrainBudget = 10 * time.Millisecond
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
	if c.SinkQueueSize == 0 {
		c.SinkQueueSize = 8
	}
	if c.MinFreeMB == 0 {
		c.MinFreeMB = 100
	}
	if c.Video.Width == 0 {
		c.Video.Width = 640
	}
	if c.Video.Height == 0 {
		c.Video.Height = 360
	}
	if c.Video.FPS == 0 {
		c.Video.FPS = 30
	}
	if c.Video.Format == "" {
		c.Video.Format = "BGRA"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.ChunkDuration == 0 {
		c.Audio.ChunkDuration = 20 * time.Millisecond
	}
}

func (c Capture) validate() error {
	if c.CacheDuration < 0 {
		return fmt.Errorf("cacheDuration %v: %w", c.CacheDuration, ErrInvalidValue)
	}
	if c.WaitPolicy != WaitPolicyWait && c.WaitPolicy != WaitPolicyDrop {
		return fmt.Errorf("waitPolicy '%v': %w", c.WaitPolicy, ErrInvalidValue)
	}
	if c.Video.Width < 0 || c.Video.Height < 0 || c.Video.FPS < 0 {
		return fmt.Errorf("video %vx%v@%v: %w",
			c.Video.Width, c.Video.Height, c.Video.FPS, ErrInvalidValue)
	}
	if c.Audio.Channels < 0 || c.Audio.SampleRate < 0 {
		return fmt.Errorf("audio %vHz %v channels: %w",
			c.Audio.SampleRate, c.Audio.Channels, ErrInvalidValue)
	}
	if _, err := c.Video.PixelFormat(); err != nil {
		return err
	}
	return nil
}

// PixelFormat parses the configured format.
func (v VideoTrack) PixelFormat() (media.PixelFormat, error) {
	switch strings.ToUpper(v.Format) {
	case "BGRA":
		return media.PixelFormatBGRA, nil
	case "RGBA":
		return media.PixelFormatRGBA, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownPixelFormat, v.Format)
}

// RecordingsDir return recordings directory.
func (env ConfigEnv) RecordingsDir() string {
	return filepath.Join(env.StorageDir, "recordings")
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create recordings directory: %v: %w", env.StorageDir, err)
	}

	err = os.MkdirAll(filepath.Dir(env.LogDB), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create log directory: %v: %w", env.LogDB, err)
	}
	return nil
}

// RecordingPath returns the path without extension of a new recording
// and creates its directory.
//
//	recordings/2006/01/02/2006-01-02_15-04-05_<id>
func (env ConfigEnv) RecordingPath(start time.Time, id string) (string, error) {
	fileDir := filepath.Join(env.RecordingsDir(), start.Format("2006/01/02"))
	filePath := filepath.Join(fileDir, start.Format("2006-01-02_15-04-05_")+id)

	if err := os.MkdirAll(fileDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("make directory for recording: %w", err)
	}
	return filePath, nil
}
