package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter provides progress feedback while a pipeline phase works through files.
type Reporter interface {
	Start(total int)
	Update(current int, message string)
	Finish()
}

// Func is the callback handed to worker pools: current of total items done,
// the last one being item.
type Func func(current, total int, item string)

// Bind adapts a Reporter to a Func.
func Bind(r Reporter) Func {
	return func(current, _ int, item string) {
		r.Update(current, item)
	}
}

// NewReporter returns a CIReporter when the CI environment variable is set,
// otherwise a TerminalReporter labelled with phase.
func NewReporter(phase string) Reporter {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &CIReporter{phase: phase, w: os.Stderr}
	}
	return &TerminalReporter{phase: phase}
}

// TerminalReporter displays a progress bar in the terminal.
type TerminalReporter struct {
	phase string
	bar   *progressbar.ProgressBar
}

func (r *TerminalReporter) Start(total int) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(r.phase),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *TerminalReporter) Update(current int, message string) {
	if r.bar != nil {
		r.bar.Describe(r.phase + ": " + message)
		_ = r.bar.Set(current)
	}
}

func (r *TerminalReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

// CIReporter prints line-by-line progress suitable for CI logs.
type CIReporter struct {
	phase string
	total int
	w     io.Writer
}

// NewCIReporter returns a line reporter writing to w.
func NewCIReporter(phase string, w io.Writer) *CIReporter {
	return &CIReporter{phase: phase, w: w}
}

func (r *CIReporter) Start(total int) {
	r.total = total
	fmt.Fprintf(r.w, "%s: starting %d items\n", r.phase, total)
}

func (r *CIReporter) Update(current int, message string) {
	fmt.Fprintf(r.w, "%s [%d/%d] %s\n", r.phase, current, r.total, message)
}

func (r *CIReporter) Finish() {
	fmt.Fprintf(r.w, "%s: complete\n", r.phase)
}

// Nop discards all progress.
type Nop struct{}

func (Nop) Start(int)          {}
func (Nop) Update(int, string) {}
func (Nop) Finish()            {}
