package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// FileRecorder replays a pre-recorded WAV file as the attempt. It serves
// headless practice sessions and scripted runs without a microphone.
type FileRecorder struct {
	path       string
	previewDir string

	mu     sync.Mutex
	status Status
}

// NewFileRecorder creates a recorder that yields the WAV file at path
func NewFileRecorder(path, previewDir string) *FileRecorder {
	return &FileRecorder{path: path, previewDir: previewDir, status: StatusIdle}
}

// Start checks that the file can be opened
func (r *FileRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRecording {
		return ErrAlreadyRecording
	}

	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	f.Close()

	r.status = StatusRecording
	return nil
}

// Stop reads the file and copies it into a preview owned by this recording
func (r *FileRecorder) Stop(ctx context.Context) (*Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRecording {
		return nil, ErrNotRecording
	}
	r.status = StatusIdle

	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyRecording
	}

	info, err := InspectWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.path, err)
	}

	path, copied, err := writePreview(r.previewDir, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.status = StatusStopped
	return &Capture{
		Artifact: Artifact{
			Data:        copied,
			Filename:    ArtifactFilename,
			ContentType: ArtifactContentType,
			SampleRate:  info.SampleRate,
			Channels:    info.Channels,
			Duration:    info.Duration,
		},
		PreviewRef: path,
	}, nil
}

// Status returns the capture status
func (r *FileRecorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done never fires: a replayed file only ends on Stop
func (r *FileRecorder) Done() <-chan struct{} {
	return nil
}
