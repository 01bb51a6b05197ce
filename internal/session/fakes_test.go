package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	"github.com/lexiqai/pronunciation-coach/internal/scoring"
	"github.com/lexiqai/pronunciation-coach/internal/sentence"
)

// fakeProvider answers fetches in order. A non-nil gate blocks the fetch
// until a value is sent on it.
type fakeProvider struct {
	mu        sync.Mutex
	responses []fetchResponse
	calls     int
}

type fetchResponse struct {
	text string
	err  error
	gate chan struct{}
}

func (p *fakeProvider) push(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, fetchResponse{text: text, err: err})
}

func (p *fakeProvider) pushGated(text string) chan struct{} {
	gate := make(chan struct{})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, fetchResponse{text: text, gate: gate})
	return gate
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) Fetch(ctx context.Context) (sentence.Sentence, error) {
	p.mu.Lock()
	if p.calls >= len(p.responses) {
		p.mu.Unlock()
		return sentence.Sentence{}, errors.New("no more sentences")
	}
	r := p.responses[p.calls]
	p.calls++
	p.mu.Unlock()

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return sentence.Sentence{}, r.err
	}
	return sentence.Sentence{Text: r.text}, nil
}

// fakeAdapter records into preview files under dir
type fakeAdapter struct {
	dir string

	mu       sync.Mutex
	status   audio.Status
	done     chan struct{}
	startErr error
	stopErr  error
	starts   int
	stops    int
	previews []string
}

func newFakeAdapter(t *testing.T) *fakeAdapter {
	return &fakeAdapter{dir: t.TempDir()}
}

func (a *fakeAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	if a.startErr != nil {
		return a.startErr
	}
	if a.status == audio.StatusRecording {
		return audio.ErrAlreadyRecording
	}
	a.status = audio.StatusRecording
	a.done = make(chan struct{})
	return nil
}

func (a *fakeAdapter) Stop(ctx context.Context) (*audio.Capture, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	if a.status != audio.StatusRecording {
		return nil, audio.ErrNotRecording
	}
	a.status = audio.StatusIdle
	if a.stopErr != nil {
		return nil, a.stopErr
	}

	path := filepath.Join(a.dir, uuid.New().String()+".wav")
	data := []byte("RIFF-fake-wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	a.previews = append(a.previews, path)
	a.status = audio.StatusStopped

	return &audio.Capture{
		Artifact: audio.Artifact{
			Data:        data,
			Filename:    audio.ArtifactFilename,
			ContentType: audio.ArtifactContentType,
			SampleRate:  16000,
			Channels:    1,
			Duration:    time.Second,
		},
		PreviewRef: path,
	}, nil
}

func (a *fakeAdapter) Status() audio.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *fakeAdapter) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// endCapture simulates the adapter ending capture on its own
func (a *fakeAdapter) endCapture() {
	a.mu.Lock()
	defer a.mu.Unlock()
	close(a.done)
}

// fakeScorer returns queued outcomes. A non-nil gate holds the response.
type fakeScorer struct {
	mu     sync.Mutex
	result *scoring.Result
	err    error
	gate   chan struct{}
	calls  int
	texts  []string
	sizes  []int
}

func (s *fakeScorer) Score(ctx context.Context, artifact *audio.Artifact, text string) (*scoring.Result, error) {
	s.mu.Lock()
	s.calls++
	s.texts = append(s.texts, text)
	s.sizes = append(s.sizes, artifact.Size())
	gate, result, err := s.gate, s.result, s.err
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func (s *fakeScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *fakeRecorder) Record(ctx context.Context, attempt Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *fakeRecorder) recorded() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}

// waitFor polls the orchestrator until cond holds
func waitFor(t *testing.T, o *Orchestrator, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := o.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	s := o.Snapshot()
	t.Fatalf("Condition not reached, last phase %s", s.Phase)
	return s
}

// waitUntil polls cond until it holds
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not reached")
}
