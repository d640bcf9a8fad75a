// Package cli renders terminal progress for interactive report pulls.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// ProgressBar tracks a fan-out batch: completed requests against the
// candidate total, with failures called out inline.
type ProgressBar struct {
	total    int
	current  int
	failed   int
	width    int
	prefix   string
	mu       sync.Mutex
	writer   io.Writer
	start    time.Time
	colorize bool
}

// NewProgressBar creates a bar sized for total requests.
func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{
		total:    total,
		width:    40,
		prefix:   prefix,
		writer:   os.Stdout,
		start:    time.Now(),
		colorize: isTerminal(),
	}
}

// SetWriter sets the output writer.
func (pb *ProgressBar) SetWriter(w io.Writer) *ProgressBar {
	pb.writer = w
	return pb
}

// DisableColor disables colored output.
func (pb *ProgressBar) DisableColor() *ProgressBar {
	pb.colorize = false
	return pb
}

// Observe records one completed request and redraws.
func (pb *ProgressBar) Observe(ok bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current++
	if pb.current > pb.total {
		pb.current = pb.total
	}
	if !ok {
		pb.failed++
	}
	pb.render()
}

// Set forces the counts, for resyncing from a progress snapshot.
func (pb *ProgressBar) Set(current, failed int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.current = current
	if pb.current > pb.total {
		pb.current = pb.total
	}
	pb.failed = failed
	pb.render()
}

// Finish redraws one final time and moves to the next line. The bar is not
// forced full, so a cancelled batch visibly stops short.
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.render()
	fmt.Fprintln(pb.writer)
}

func (pb *ProgressBar) render() {
	percent := 1.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total)
	}
	filled := int(float64(pb.width) * percent)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	if pb.colorize {
		switch {
		case pb.failed > 0:
			bar = ColorYellow + bar + ColorReset
		case pb.current == pb.total:
			bar = ColorGreen + bar + ColorReset
		default:
			bar = ColorCyan + bar + ColorReset
		}
	}

	output := fmt.Sprintf("\r%s [%s] %d/%d", pb.prefix, bar, pb.current, pb.total)
	if pb.failed > 0 {
		output += fmt.Sprintf(" (%d failed)", pb.failed)
	}
	if pb.current > 0 {
		output += fmt.Sprintf(" | %s", formatDuration(time.Since(pb.start)))
	}

	fmt.Fprint(pb.writer, output)
}

// Spinner marks long waits with no countable progress, such as the store
// discovery sweep.
type Spinner struct {
	frames   []string
	current  int
	prefix   string
	suffix   string
	mu       sync.Mutex
	writer   io.Writer
	active   bool
	colorize bool
	done     chan bool
}

// NewSpinner creates a new spinner.
func NewSpinner(prefix string) *Spinner {
	return &Spinner{
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		prefix:   prefix,
		writer:   os.Stdout,
		colorize: isTerminal(),
		done:     make(chan bool),
	}
}

// SetWriter sets the output writer.
func (s *Spinner) SetWriter(w io.Writer) *Spinner {
	s.writer = w
	return s
}

// SetSuffix sets the trailing status text.
func (s *Spinner) SetSuffix(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffix = suffix
}

// Start begins animating.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if !s.active {
					s.mu.Unlock()
					return
				}
				s.render()
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the spinner and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	close(s.done)

	fmt.Fprint(s.writer, "\r"+strings.Repeat(" ", 80)+"\r")
}

// Success stops the spinner and shows a success message.
func (s *Spinner) Success(message string) {
	s.Stop()
	if s.colorize {
		fmt.Fprintf(s.writer, "%s✓%s %s\n", ColorGreen, ColorReset, message)
	} else {
		fmt.Fprintf(s.writer, "✓ %s\n", message)
	}
}

// Error stops the spinner and shows an error message.
func (s *Spinner) Error(message string) {
	s.Stop()
	if s.colorize {
		fmt.Fprintf(s.writer, "%s✗%s %s\n", ColorRed, ColorReset, message)
	} else {
		fmt.Fprintf(s.writer, "✗ %s\n", message)
	}
}

func (s *Spinner) render() {
	frame := s.frames[s.current]
	if s.colorize {
		frame = ColorCyan + frame + ColorReset
	}

	output := fmt.Sprintf("\r%s %s", frame, s.prefix)
	if s.suffix != "" {
		output += " " + s.suffix
	}
	fmt.Fprint(s.writer, output)
}

// Colorize returns a colored string when stdout is a terminal.
func Colorize(text string, color string) string {
	if !isTerminal() {
		return text
	}
	return color + text + ColorReset
}

// Success prints a success message.
func Success(message string) {
	if isTerminal() {
		fmt.Printf("%s✓%s %s\n", ColorGreen, ColorReset, message)
	} else {
		fmt.Printf("✓ %s\n", message)
	}
}

// Error prints an error message.
func Error(message string) {
	if isTerminal() {
		fmt.Printf("%s✗%s %s\n", ColorRed, ColorReset, message)
	} else {
		fmt.Printf("✗ %s\n", message)
	}
}

// Warning prints a warning message.
func Warning(message string) {
	if isTerminal() {
		fmt.Printf("%s⚠%s %s\n", ColorYellow, ColorReset, message)
	} else {
		fmt.Printf("⚠ %s\n", message)
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
