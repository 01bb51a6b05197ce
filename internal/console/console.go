package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/history"
	"github.com/lexiqai/pronunciation-coach/internal/presenter"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// Session is the practice session the console drives
type Session interface {
	RequestSentence(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Snapshot() session.State
	Subscribe(fn func(session.State))
}

// HistoryReader lists finished attempts
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

const helpText = `Commands:
  n  new sentence
  r  start recording
  s  stop recording and submit
  v  show the current screen
  h  recent attempts
  ?  this help
  q  quit
`

// Console is a line-oriented terminal front-end
type Console struct {
	session  Session
	history  HistoryReader
	limit    int
	renderer *presenter.Renderer
	in       io.Reader
	out      io.Writer
	logger   zerolog.Logger

	mu          sync.Mutex
	lastView    string
	lastVersion uint64
}

// Config configures a Console
type Config struct {
	In           io.Reader
	Out          io.Writer
	Colorize     bool
	HistoryLimit int
}

// New creates a console. hist may be nil when history is disabled.
func New(sess Session, hist HistoryReader, cfg Config, logger zerolog.Logger) *Console {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Console{
		session:  sess,
		history:  hist,
		limit:    cfg.HistoryLimit,
		renderer: presenter.NewRenderer(cfg.Colorize),
		in:       cfg.In,
		out:      cfg.Out,
		logger:   logger.With().Str("component", "console").Logger(),
	}
}

// Run reads commands until q, end of input or ctx is done. Screens are
// redrawn whenever the session changes.
func (c *Console) Run(ctx context.Context) error {
	c.session.Subscribe(c.onState)

	c.print(helpText)
	c.draw(c.session.Snapshot(), true)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle runs one command and reports whether the user asked to quit
func (c *Console) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}

	var err error
	switch strings.ToLower(line[:1]) {
	case "n":
		err = c.session.RequestSentence(ctx)
	case "r":
		err = c.session.StartRecording(ctx)
	case "s":
		err = c.session.StopRecording(ctx)
	case "v":
		c.draw(c.session.Snapshot(), true)
	case "h":
		err = c.showHistory(ctx)
	case "?":
		c.print(helpText)
	case "q":
		return true
	default:
		c.print(fmt.Sprintf("Unknown command %q. Type ? for help.\n", line))
	}

	if err != nil {
		c.reportError(err)
	}
	return false
}

func (c *Console) reportError(err error) {
	if appErr, ok := apperrors.As(err); ok {
		// Session failures are already on screen as a notice
		if appErr.Code == apperrors.ErrInvalidAction {
			c.print(fmt.Sprintf("! %s\n", appErr.Message))
		}
		return
	}
	c.logger.Error().Err(err).Msg("Command failed")
	c.print(fmt.Sprintf("! %v\n", err))
}

func (c *Console) onState(st session.State) {
	c.draw(st, false)
}

// draw renders st unless it is older than, or looks the same as, the last
// screen drawn
func (c *Console) draw(st session.State, force bool) {
	var sb strings.Builder
	if err := c.renderer.Render(&sb, presenter.Screen(st)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to render screen")
		return
	}
	view := sb.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && (st.Version < c.lastVersion || view == c.lastView) {
		return
	}
	if st.Version > c.lastVersion {
		c.lastVersion = st.Version
	}
	c.lastView = view
	fmt.Fprintf(c.out, "\n%s", view)
}

func (c *Console) showHistory(ctx context.Context) error {
	if c.history == nil {
		c.print("History is disabled.\n")
		return nil
	}

	entries, err := c.history.Recent(ctx, c.limit)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(entries) == 0 {
		c.print("No attempts yet.\n")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("\nRecent attempts:\n")
	for _, e := range entries {
		outcome := e.ErrorCode
		if e.Score != nil {
			outcome = presenter.Percent(*e.Score)
		}
		fmt.Fprintf(&sb, "  %s  %-6s %q\n", e.FinishedAt.Local().Format("2006-01-02 15:04"), outcome, e.Sentence)
	}
	c.print(sb.String())
	return nil
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.out, s)
}
