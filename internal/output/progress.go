package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	// DefaultBarWidth is the number of cells in a full bar.
	DefaultBarWidth = 30

	etaPlaceholder = "--:--"
	clearWidth     = 100
)

// ProgressBar renders audit progress on a single, overwritten line.
type ProgressBar struct {
	mu        sync.Mutex
	writer    io.Writer
	title     string
	total     int
	current   int
	width     int
	startTime time.Time
	noColor   bool
	now       func() time.Time
	dirty     bool
}

// ProgressBarConfig configures a progress bar
type ProgressBarConfig struct {
	Title   string
	Total   int
	Width   int
	NoColor bool
	Writer  io.Writer
	Now     func() time.Time
}

// NewProgressBar creates a new progress bar
func NewProgressBar(config ProgressBarConfig) *ProgressBar {
	if config.Width <= 0 {
		config.Width = DefaultBarWidth
	}
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &ProgressBar{
		writer:    config.Writer,
		title:     config.Title,
		total:     config.Total,
		width:     config.Width,
		startTime: config.Now(),
		noColor:   config.NoColor,
		now:       config.Now,
	}
}

// SetTotal sets the number of projects and restarts the clock.
func (p *ProgressBar) SetTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.startTime = p.now()
}

// Update renders the bar for completed projects.
func (p *ProgressBar) Update(completed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = completed
	if p.current > p.total {
		p.current = p.total
	}
	p.render()
}

// Countdown renders the propagation wait in place of the bar.
func (p *ProgressBar) Countdown(remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	secs := int((remaining + time.Second - 1) / time.Second)
	line := fmt.Sprintf("%s %s",
		p.colorize("Waiting for IAM propagation:", color.FgYellow),
		fmt.Sprintf("%ds remaining", secs))
	p.write(line)
}

// Finish terminates the progress line so following output starts clean.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dirty {
		fmt.Fprintln(p.writer)
		p.dirty = false
	}
}

func (p *ProgressBar) render() {
	if p.total == 0 {
		return
	}
	p.write(p.line(p.current))
}

func (p *ProgressBar) line(completed int) string {
	elapsed := p.now().Sub(p.startTime)
	filled := BarLength(completed, p.total, p.width)

	var bar strings.Builder

	if p.title != "" {
		bar.WriteString(p.colorize(p.title+" ", color.FgCyan))
	}

	bar.WriteString("[")
	if filled > 0 {
		bar.WriteString(p.colorize(strings.Repeat("█", filled), color.FgGreen))
	}
	if filled < p.width {
		bar.WriteString(strings.Repeat("░", p.width-filled))
	}
	bar.WriteString("]")

	bar.WriteString(fmt.Sprintf(" %s", p.colorize(fmt.Sprintf("%3d%%", Percent(completed, p.total)), color.FgWhite, color.Bold)))
	bar.WriteString(fmt.Sprintf(" (%d/%d)", completed, p.total))
	bar.WriteString(fmt.Sprintf(" | Elapsed: %s", formatClock(elapsed)))
	bar.WriteString(fmt.Sprintf(" | ETA: %s", p.colorize(ETA(elapsed, completed, p.total), color.FgYellow)))

	return bar.String()
}

func (p *ProgressBar) write(line string) {
	fmt.Fprintf(p.writer, "\r%s", strings.Repeat(" ", clearWidth))
	fmt.Fprintf(p.writer, "\r%s", line)
	p.dirty = true
}

// colorize applies color if colors are enabled
func (p *ProgressBar) colorize(text string, attrs ...color.Attribute) string {
	if p.noColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// Percent returns floor(completed/total*100), clamped to [0, 100].
func Percent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return completed * 100 / total
}

// BarLength returns how many of width cells are filled.
func BarLength(completed, total, width int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return width
	}
	return completed * width / total
}

// ETA extrapolates the remaining time from the average time per project.
// Before the first completion there is nothing to extrapolate from.
func ETA(elapsed time.Duration, completed, total int) string {
	if completed <= 0 {
		return etaPlaceholder
	}
	remaining := total - completed
	if remaining < 0 {
		remaining = 0
	}
	perProject := elapsed / time.Duration(completed)
	return formatClock(perProject * time.Duration(remaining))
}

// formatClock formats d as MM:SS, letting minutes grow past 59.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
