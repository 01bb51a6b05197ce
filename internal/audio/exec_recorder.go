package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"
)

const (
	// startupGrace is how long Start waits for the capture program to fail fast
	startupGrace = 150 * time.Millisecond
	// stopTimeout bounds the wait for the program to flush after interrupt
	stopTimeout = 3 * time.Second
)

// ExecRecorderConfig configures an ExecRecorder
type ExecRecorderConfig struct {
	Command     string        // capture command writing raw 16-bit LE PCM to stdout
	SampleRate  int           // sample rate the command produces
	Channels    int           // channel count the command produces
	MaxDuration time.Duration // adapter-driven stop after this long; 0 disables
	PreviewDir  string        // where preview WAV files are written
}

// process is one run of the capture program. err is valid once exited is closed.
type process struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	exited chan struct{}
	err    error
}

// ExecRecorder captures microphone audio through an external program such as
// arecord, sox or ffmpeg
type ExecRecorder struct {
	argv   []string
	cfg    ExecRecorderConfig
	logger zerolog.Logger

	mu          sync.Mutex
	status      Status
	proc        *process
	interrupted bool
	done        chan struct{}
	limit       *time.Timer
}

// NewExecRecorder parses the capture command and creates the recorder
func NewExecRecorder(cfg ExecRecorderConfig, logger zerolog.Logger) (*ExecRecorder, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	argv, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	return &ExecRecorder{
		argv:   argv,
		cfg:    cfg,
		logger: logger.With().Str("component", "capture").Str("program", argv[0]).Logger(),
		status: StatusIdle,
	}, nil
}

// Start launches the capture program
func (r *ExecRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusRecording {
		return ErrAlreadyRecording
	}

	cmd := exec.Command(r.argv[0], r.argv[1:]...)
	p := &process{
		cmd:    cmd,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		exited: make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = stopTimeout

	if err := cmd.Start(); err != nil {
		return classifyStartError(err)
	}

	go func() {
		p.err = cmd.Wait()
		close(p.exited)
	}()

	// A program that cannot open the device exits almost immediately
	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case <-p.exited:
		if p.err != nil {
			return classifyCaptureFailure(p.err, p.stderr.String())
		}
	case <-timer.C:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-p.exited
		return ctx.Err()
	}

	r.proc = p
	r.interrupted = false
	r.done = make(chan struct{})
	r.status = StatusRecording

	if r.cfg.MaxDuration > 0 {
		r.limit = time.AfterFunc(r.cfg.MaxDuration, r.interruptAtLimit)
	}
	go r.watch(p.exited, r.done)

	r.logger.Debug().Int("pid", cmd.Process.Pid).Msg("Capture started")
	return nil
}

// watch closes done once the program exits, whoever caused it
func (r *ExecRecorder) watch(exited <-chan struct{}, done chan struct{}) {
	<-exited
	close(done)
}

func (r *ExecRecorder) interruptAtLimit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRecording {
		return
	}
	r.logger.Info().Dur("max_duration", r.cfg.MaxDuration).Msg("Recording reached time limit")
	r.interruptLocked()
}

func (r *ExecRecorder) interruptLocked() {
	r.interrupted = true
	if err := r.proc.cmd.Process.Signal(os.Interrupt); err != nil {
		_ = r.proc.cmd.Process.Kill()
	}
}

// Stop interrupts the capture program, waits for it to flush and encodes
// the captured PCM into a WAV artifact
func (r *ExecRecorder) Stop(ctx context.Context) (*Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRecording {
		return nil, ErrNotRecording
	}
	if r.limit != nil {
		r.limit.Stop()
	}

	p := r.proc
	select {
	case <-p.exited:
	default:
		r.interruptLocked()
	}

	timer := time.NewTimer(stopTimeout)
	select {
	case <-p.exited:
	case <-timer.C:
		_ = p.cmd.Process.Kill()
		<-p.exited
	case <-ctx.Done():
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	timer.Stop()

	r.status = StatusIdle

	if p.err != nil && !r.interrupted {
		return nil, classifyCaptureFailure(p.err, p.stderr.String())
	}

	pcm := p.stdout.Bytes()
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyRecording
	}

	path, data, err := writePreview(r.cfg.PreviewDir, func(f *os.File) error {
		return EncodeWAV(f, pcm, r.cfg.SampleRate, r.cfg.Channels)
	})
	if err != nil {
		return nil, err
	}

	r.status = StatusStopped
	duration := PCMDuration(len(pcm), r.cfg.SampleRate, r.cfg.Channels)
	r.logger.Debug().Int("pcm_bytes", len(pcm)).Dur("duration", duration).Msg("Capture stopped")

	return &Capture{
		Artifact: Artifact{
			Data:        data,
			Filename:    ArtifactFilename,
			ContentType: ArtifactContentType,
			SampleRate:  r.cfg.SampleRate,
			Channels:    r.cfg.Channels,
			Duration:    duration,
		},
		PreviewRef: path,
	}, nil
}

// Status returns the capture status
func (r *ExecRecorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the capture program exits
func (r *ExecRecorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func classifyStartError(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

func classifyCaptureFailure(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "not permitted") {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
}
