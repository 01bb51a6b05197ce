package presenter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Renderer draws screens on a terminal
type Renderer struct {
	high    *color.Color
	low     *color.Color
	heading *color.Color
	notice  *color.Color
	muted   *color.Color
}

// NewRenderer creates a renderer. With colorize false the output is plain
// text, which is what tests and non-terminal outputs want.
func NewRenderer(colorize bool) *Renderer {
	r := &Renderer{
		high:    color.New(color.FgGreen, color.Bold),
		low:     color.New(color.FgRed, color.Bold),
		heading: color.New(color.Bold),
		notice:  color.New(color.FgYellow),
		muted:   color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.high, r.low, r.heading, r.notice, r.muted} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Render draws v to w, coloring only when w is a color-capable terminal
func Render(w io.Writer, v ScreenView) error {
	return NewRenderer(!color.NoColor).Render(w, v)
}

// Render draws v to w
func (r *Renderer) Render(w io.Writer, v ScreenView) error {
	var buf bytes.Buffer

	buf.WriteString(r.heading.Sprint("Read this aloud:"))
	buf.WriteString("\n")
	if v.Sentence != "" {
		fmt.Fprintf(&buf, "  %q\n", v.Sentence)
	} else {
		buf.WriteString(r.muted.Sprint("  (no sentence)"))
		buf.WriteString("\n")
	}

	if v.Status != "" {
		fmt.Fprintf(&buf, "\n%s\n", r.muted.Sprint(v.Status))
	}

	if v.Notice != nil {
		fmt.Fprintf(&buf, "\n%s\n", r.notice.Sprintf("! %s", v.Notice.Message))
	}

	if v.Result != nil {
		fmt.Fprintf(&buf, "\n%s\n", r.heading.Sprintf("Overall Score: %s", v.Result.ScoreLabel))
		if len(v.Result.Badges) > 0 {
			buf.WriteString(" ")
			for _, b := range v.Result.Badges {
				buf.WriteString(" ")
				buf.WriteString(r.badge(b))
			}
			buf.WriteString("\n")
		}
		if v.Result.HeardPhonemes != "" {
			fmt.Fprintf(&buf, "  %s\n", r.muted.Sprintf("Heard: /%s/", v.Result.HeardPhonemes))
		}
	}

	if v.PreviewRef != "" {
		fmt.Fprintf(&buf, "  %s\n", r.muted.Sprintf("Your recording: %s", v.PreviewRef))
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func (r *Renderer) badge(b Badge) string {
	if b.Confidence == ConfidenceHigh {
		return r.high.Sprintf("✓%s(%s)", b.Word, b.Label)
	}
	return r.low.Sprintf("✗%s(%s)", b.Word, b.Label)
}
