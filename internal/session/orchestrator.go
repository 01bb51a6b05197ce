package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/scoring"
	"github.com/lexiqai/pronunciation-coach/internal/sentence"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	recordTimeout          = 5 * time.Second
)

// Orchestrator drives one practice session: sentence, recording,
// submission and result. All user actions go through it.
type Orchestrator struct {
	sentences sentence.Provider
	adapter   audio.CaptureAdapter
	scorer    scoring.Scorer
	recorder  Recorder
	logger    zerolog.Logger

	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// captureMu serializes adapter calls. Lock order: captureMu, then mu.
	captureMu sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	capture    *audio.Capture
	metrics    *observability.Metrics

	subMu       sync.Mutex
	subscribers []func(State)

	wg sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder stores every finished attempt
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithShutdownTimeout bounds how long Close waits for in-flight submissions
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.shutdownTimeout = d
	}
}

// WithLogger replaces the component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator in the AwaitingSentence phase
func New(sentences sentence.Provider, adapter audio.CaptureAdapter, scorer scoring.Scorer, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sentences: sentences,
		adapter:   adapter,
		scorer:    scorer,
		logger:    observability.WithComponent("session"),
		ctx:       ctx,
		cancel:    cancel,

		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	cycleID := uuid.New().String()
	o.state = State{
		CycleID:   cycleID,
		Phase:     PhaseAwaitingSentence,
		Recording: Recording{Status: audio.StatusIdle},
	}
	o.metrics = observability.NewCycleMetrics(cycleID)
	return o
}

// Snapshot returns a copy of the current state
func (o *Orchestrator) Snapshot() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Subscribe registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change and must not block.
// Concurrent changes may deliver snapshots out of order; a subscriber keeps
// the one with the highest Version.
func (o *Orchestrator) Subscribe(fn func(State)) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subscribers = append(o.subscribers, fn)
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	o.state.Version++
	s := o.state
	o.mu.Unlock()

	o.subMu.Lock()
	subs := make([]func(State), len(o.subscribers))
	copy(subs, o.subscribers)
	o.subMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// beginCycleLocked starts a new generation. Anything still running for the
// previous generation is discarded when it reports back.
func (o *Orchestrator) beginCycleLocked() uint64 {
	o.generation++
	o.state.CycleID = uuid.New().String()
	o.metrics = observability.NewCycleMetrics(o.state.CycleID)
	return o.generation
}

// takeCaptureLocked detaches the current preview so it can be released
// outside the lock
func (o *Orchestrator) takeCaptureLocked() *audio.Capture {
	c := o.capture
	o.capture = nil
	return c
}

func (o *Orchestrator) cycleLogger() zerolog.Logger {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.logger.With().Str("cycle_id", o.state.CycleID).Logger()
}

// RequestSentence starts a new cycle and fetches a sentence. Recording,
// result and submission state are dropped at once; the previous sentence
// stays visible until the new one arrives.
func (o *Orchestrator) RequestSentence(ctx context.Context) error {
	o.captureMu.Lock()
	o.mu.Lock()
	gen := o.beginCycleLocked()
	wasRecording := o.state.Phase == PhaseRecording
	prev := o.takeCaptureLocked()
	o.state.Phase = PhaseAwaitingSentence
	o.state.Fetching = true
	o.state.Recording = Recording{Status: audio.StatusIdle}
	o.state.Submission = Submission{}
	o.state.Result = nil
	o.state.Alert = nil
	metrics := o.metrics
	logger := o.logger.With().Str("cycle_id", o.state.CycleID).Logger()
	o.mu.Unlock()

	if wasRecording {
		if c, err := o.adapter.Stop(ctx); err == nil {
			c.Release()
		} else {
			logger.Debug().Err(err).Msg("Abandoned recording did not stop cleanly")
		}
		metrics.RecordRecordingEnd(false)
	}
	o.captureMu.Unlock()

	o.release(prev)
	metrics.RecordCycleStart()
	o.notify()

	s, err := o.sentences.Fetch(ctx)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		logger.Debug().Msg("Discarding sentence for superseded cycle")
		return nil
	}

	o.state.Fetching = false
	if err != nil {
		appErr := apperrors.SentenceFetch(err)
		o.state.Alert = appErr
		if o.state.Sentence.IsZero() {
			o.state.Phase = PhaseAwaitingSentence
		} else {
			o.state.Phase = PhaseSentenceReady
		}
		o.mu.Unlock()

		metrics.RecordError(string(appErr.Code), "sentence")
		logger.Error().Err(err).Msg("Failed to fetch sentence")
		o.notify()
		return appErr
	}

	o.state.Sentence = s
	o.state.Phase = PhaseSentenceReady
	o.mu.Unlock()

	logger.Info().Str("sentence", s.Text).Msg("Sentence ready")
	o.notify()
	return nil
}

// StartRecording begins a new attempt on the current sentence
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.captureMu.Lock()
	defer o.captureMu.Unlock()

	o.mu.Lock()
	if err := o.checkCanRecordLocked(); err != nil {
		o.mu.Unlock()
		return err
	}

	gen := o.beginCycleLocked()
	prev := o.takeCaptureLocked()
	o.state.Recording = Recording{ID: uuid.New().String(), Status: audio.StatusIdle}
	o.state.Submission = Submission{}
	o.state.Result = nil
	o.state.Alert = nil
	metrics := o.metrics
	logger := o.logger.With().Str("cycle_id", o.state.CycleID).Logger()
	o.mu.Unlock()

	o.release(prev)

	startErr := o.adapter.Start(ctx)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return nil
	}

	if startErr != nil {
		appErr := captureFailure(startErr)
		o.state.Phase = PhaseSentenceReady
		o.state.Recording = Recording{Status: audio.StatusIdle}
		o.state.Alert = appErr
		o.mu.Unlock()

		metrics.RecordRecordingStart(false)
		metrics.RecordError(string(appErr.Code), "capture")
		logger.Warn().Err(startErr).Msg("Could not start recording")
		o.notify()
		return appErr
	}

	o.state.Phase = PhaseRecording
	o.state.Recording.Status = audio.StatusRecording
	o.state.Recording.StartedAt = time.Now()
	o.mu.Unlock()

	metrics.RecordRecordingStart(true)
	logger.Info().Msg("Recording started")

	if done := o.adapter.Done(); done != nil {
		go o.watchCapture(gen, done)
	}

	o.notify()
	return nil
}

func (o *Orchestrator) checkCanRecordLocked() error {
	switch {
	case o.state.Sentence.IsZero():
		return apperrors.InvalidAction("no sentence to record")
	case o.state.Submission.InFlight:
		return apperrors.InvalidAction("a submission is already in flight")
	case o.state.Phase == PhaseRecording:
		return apperrors.InvalidAction("already recording")
	case !o.state.CanRecord():
		return apperrors.InvalidAction("cannot record while " + o.state.Phase.String())
	}
	return nil
}

// watchCapture stops the recording when the adapter ends capture by itself
func (o *Orchestrator) watchCapture(gen uint64, done <-chan struct{}) {
	select {
	case <-done:
	case <-o.ctx.Done():
		return
	}
	if err := o.stopRecording(o.ctx, gen, true); err != nil {
		logger := o.cycleLogger()
		logger.Debug().Err(err).Msg("Adapter-driven stop failed")
	}
}

// StopRecording ends the attempt and submits it for scoring
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	return o.stopRecording(ctx, 0, false)
}

func (o *Orchestrator) stopRecording(ctx context.Context, gen uint64, auto bool) error {
	o.captureMu.Lock()

	o.mu.RLock()
	recording := o.state.Phase == PhaseRecording
	current := o.generation
	o.mu.RUnlock()

	if !recording || (auto && gen != current) {
		o.captureMu.Unlock()
		if auto {
			return nil
		}
		return apperrors.InvalidAction("not recording")
	}

	capture, stopErr := o.adapter.Stop(ctx)

	o.mu.Lock()
	metrics := o.metrics
	logger := o.logger.With().Str("cycle_id", o.state.CycleID).Logger()

	if stopErr != nil {
		appErr := captureFailure(stopErr)
		o.state.Phase = PhaseSentenceReady
		o.state.Recording = Recording{Status: audio.StatusIdle}
		o.state.Alert = appErr
		o.mu.Unlock()
		o.captureMu.Unlock()

		metrics.RecordRecordingEnd(false)
		metrics.RecordError(string(appErr.Code), "capture")
		logger.Warn().Err(stopErr).Msg("Recording failed")
		o.notify()
		return appErr
	}

	o.capture = capture
	o.state.Recording.Status = audio.StatusStopped
	o.state.Recording.Artifact = &capture.Artifact
	o.state.Recording.PreviewRef = capture.PreviewRef
	submitErr := o.submitLocked()
	o.mu.Unlock()
	o.captureMu.Unlock()

	metrics.RecordRecordingEnd(true)
	logger.Info().
		Bool("auto", auto).
		Dur("duration", capture.Artifact.Duration).
		Int("bytes", capture.Artifact.Size()).
		Msg("Recording stopped")

	o.notify()
	return submitErr
}

// submitLocked is the only place a scoring request is dispatched. InFlight
// is set before dispatch and cleared on every terminal outcome.
func (o *Orchestrator) submitLocked() error {
	if o.state.Submission.InFlight {
		return apperrors.InvalidAction("a submission is already in flight")
	}
	rec := o.state.Recording
	if rec.Status != audio.StatusStopped || rec.Artifact == nil {
		return apperrors.InvalidAction("no finished recording to submit")
	}

	o.state.Submission = Submission{InFlight: true}
	o.state.Phase = PhaseSubmitting

	job := submission{
		gen:      o.generation,
		cycleID:  o.state.CycleID,
		metrics:  o.metrics,
		artifact: rec.Artifact,
		text:     o.state.Sentence.Text,
	}
	job.metrics.RecordSubmissionStart(rec.Artifact.Size())

	o.wg.Add(1)
	go o.runSubmission(job)
	return nil
}

type submission struct {
	gen      uint64
	cycleID  string
	metrics  *observability.Metrics
	artifact *audio.Artifact
	text     string
}

func (o *Orchestrator) runSubmission(job submission) {
	defer o.wg.Done()

	logger := o.logger.With().Str("cycle_id", job.cycleID).Logger()
	start := time.Now()
	result, err := o.scorer.Score(o.ctx, job.artifact, job.text)

	o.mu.Lock()
	if job.gen != o.generation {
		o.mu.Unlock()
		job.metrics.RecordSubmissionEnd(observability.OutcomeDiscarded)
		logger.Debug().Msg("Discarding result for superseded cycle")
		return
	}

	attempt := Attempt{
		CycleID:    job.cycleID,
		Sentence:   job.text,
		Duration:   job.artifact.Duration,
		AudioBytes: job.artifact.Size(),
		FinishedAt: time.Now(),
	}

	o.state.Submission.InFlight = false
	outcome := observability.OutcomeSuccess
	if err != nil {
		appErr, code := classifySubmissionError(err)
		outcome = code
		o.state.Submission.Err = appErr
		o.state.Result = nil
		o.state.Phase = PhaseError
		attempt.Err = appErr
	} else {
		o.state.Submission.Err = nil
		o.state.Result = result
		o.state.Phase = PhaseResultReady
		attempt.Result = result
	}
	o.mu.Unlock()

	job.metrics.RecordSubmissionEnd(outcome)
	if err != nil {
		job.metrics.RecordError(string(attempt.Err.Code), "scoring")
		logger.Warn().Err(err).Dur("latency", time.Since(start)).Msg("Submission failed")
	} else {
		job.metrics.RecordScore(result.OverallScore)
		logger.Info().
			Float64("score", result.OverallScore).
			Int("words", len(result.Breakdown)).
			Dur("latency", time.Since(start)).
			Msg("Attempt scored")
	}

	o.notify()

	if o.recorder != nil {
		// Outlives the base context so abandoned attempts are still stored
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), recordTimeout)
		if recErr := o.recorder.Record(ctx, attempt); recErr != nil {
			logger.Error().Err(recErr).Msg("Failed to record attempt")
		}
		cancel()
	}
}

func classifySubmissionError(err error) (*apperrors.AppError, string) {
	var scoringErr *scoring.ApplicationError
	if errors.As(err, &scoringErr) {
		return apperrors.ApplicationScoring(scoringErr.Message), observability.OutcomeAppError
	}
	return apperrors.SubmissionTransport(err), observability.OutcomeTransportError
}

func captureFailure(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return apperrors.Permission("microphone access was denied", err)
	case errors.Is(err, audio.ErrEmptyRecording):
		return apperrors.Permission("nothing was recorded", err)
	default:
		return apperrors.Permission("microphone is unavailable", err)
	}
}

func (o *Orchestrator) release(c *audio.Capture) {
	if err := c.Release(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to remove preview file")
	}
}

// Wait blocks until outstanding submissions have reported back
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops any live capture, lets in-flight submissions finish within the
// shutdown timeout and deletes the current preview
func (o *Orchestrator) Close() error {
	o.captureMu.Lock()
	o.mu.Lock()
	recording := o.state.Phase == PhaseRecording
	if recording {
		o.state.Phase = PhaseSentenceReady
		o.state.Recording = Recording{Status: audio.StatusIdle}
	}
	o.mu.Unlock()

	if recording {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if c, err := o.adapter.Stop(stopCtx); err == nil {
			c.Release()
		}
		cancel()
	}
	o.captureMu.Unlock()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(o.shutdownTimeout)
	select {
	case <-drained:
	case <-timer.C:
		o.logger.Warn().Dur("timeout", o.shutdownTimeout).Msg("Abandoning in-flight submission")
		o.cancel()
		<-drained
	}
	timer.Stop()
	o.cancel()

	o.mu.Lock()
	prev := o.takeCaptureLocked()
	o.mu.Unlock()
	return prev.Release()
}
