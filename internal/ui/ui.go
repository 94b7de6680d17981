// Package ui renders command line output: coloured status lines, tables
// and the job progress bar.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

const spinnerInterval = 100 * time.Millisecond

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold)
)

// Init applies the colour setting.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects normal and error output (tests).
func SetOutput(stdout, stderr io.Writer) {
	out, errOut = stdout, stderr
}

// Success prints a success line.
func Success(format string, args ...interface{}) {
	successColor.Fprintf(out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func Warning(format string, args ...interface{}) {
	warnColor.Fprintf(out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error line to stderr.
func Error(format string, args ...interface{}) {
	errorColor.Fprintf(errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func Info(format string, args ...interface{}) {
	infoColor.Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Message prints a plain line.
func Message(format string, args ...interface{}) {
	fmt.Fprintf(out, format+"\n", args...)
}

// Section prints an underlined header.
func Section(title string) {
	headerColor.Fprintf(out, "\n%s\n", title)
	fmt.Fprintf(out, "%s\n\n", strings.Repeat("=", len([]rune(title))))
}

// Table prints rows aligned under headers.
func Table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// KeyValues prints aligned "key: value" pairs.
func KeyValues(pairs [][2]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, p := range pairs {
		fmt.Fprintf(w, "%s:\t%s\n", p[0], p[1])
	}
	_ = w.Flush()
}

// ProgressBar shows a job's 0-100 progress.
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a bar on stderr.
func NewProgressBar(description string) *ProgressBar {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(errOut),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(errOut, "\n")
		}),
	)
	return &ProgressBar{bar: bar}
}

// Update moves the bar to percent and relabels it.
func (p *ProgressBar) Update(percent float64, description string) {
	if description != "" {
		p.bar.Describe(description)
	}
	_ = p.bar.Set(int(percent))
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// Spinner shows activity for steps without measurable progress.
type Spinner struct {
	s *spinner.Spinner
}

// StartSpinner starts a spinner with message.
func StartSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], spinnerInterval)
	s.Suffix = " " + message
	s.Writer = errOut
	s.Start()
	return &Spinner{s: s}
}

// Stop stops the spinner and clears its line.
func (s *Spinner) Stop() {
	s.s.Stop()
}

// Newline prints an empty line.
func Newline() {
	fmt.Fprintln(out)
}
