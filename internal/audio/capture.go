package audio

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied means the user or the OS refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no capture device or capture program could be opened
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	// ErrNotRecording is returned by Stop when no capture is running
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by Start while a capture is running
	ErrAlreadyRecording = errors.New("already recording")
	// ErrEmptyRecording means capture ended without producing any audio
	ErrEmptyRecording = errors.New("recording contains no audio")
)

// Status is the capture status signal observed by the session
type Status int

const (
	StatusIdle Status = iota
	StatusRecording
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRecording:
		return "recording"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON snapshots
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Artifact is a finished, transportable recording
type Artifact struct {
	Data        []byte        `json:"-"`
	Filename    string        `json:"filename"`
	ContentType string        `json:"content_type"`
	SampleRate  int           `json:"sample_rate"`
	Channels    int           `json:"channels"`
	Duration    time.Duration `json:"duration"`
}

// Size returns the artifact size in bytes
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// Capture is the outcome of one stopped recording: the artifact plus a
// locally playable preview file owned by the current recording
type Capture struct {
	Artifact   Artifact
	PreviewRef string

	releaseOnce sync.Once
	releaseErr  error
}

// Release deletes the preview file. Safe to call more than once.
func (c *Capture) Release() error {
	if c == nil {
		return nil
	}
	c.releaseOnce.Do(func() {
		if c.PreviewRef == "" {
			return
		}
		if err := os.Remove(c.PreviewRef); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.releaseErr = err
		}
	})
	return c.releaseErr
}

// CaptureAdapter is the audio capture capability the session drives
type CaptureAdapter interface {
	// Start begins capture. Fails with ErrPermissionDenied or
	// ErrDeviceUnavailable when the microphone cannot be opened.
	Start(ctx context.Context) error

	// Stop ends capture and yields the finished artifact and preview
	Stop(ctx context.Context) (*Capture, error)

	// Status reports Idle, Recording or Stopped
	Status() Status

	// Done is closed when the current capture ends on its own
	// (time limit, device gone). Nil before the first Start.
	Done() <-chan struct{}
}
