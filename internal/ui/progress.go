package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar shows finished units (shards or tests) split into successes and failures
type ProgressBar struct {
	bar   *progressbar.ProgressBar
	label string
}

// NewProgressBar creates a progress bar on stderr
func NewProgressBar(count int, label string) *ProgressBar {
	return NewProgressBarTo(os.Stderr, count, label)
}

// NewProgressBarTo creates a progress bar writing to out
func NewProgressBarTo(out io.Writer, count int, label string) *ProgressBar {
	p := &ProgressBar{label: label}
	p.bar = progressbar.NewOptions(count,
		progressbar.OptionSetDescription(p.describe(0, 0)),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(out),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return p
}

func (p *ProgressBar) describe(successCount, failCount int) string {
	return color.CyanString("%s: ", p.label) +
		color.GreenString("[success: %d", successCount) +
		" | " +
		color.RedString("failed: %d]", failCount)
}

// Update updates the progress bar with success and failure counts
func (p *ProgressBar) Update(successCount, failCount int) {
	_ = p.bar.Set(successCount + failCount)
	p.bar.Describe(p.describe(successCount, failCount))
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}
