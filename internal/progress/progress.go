// Package progress renders the transient per-file progress line shown
// during an indexing pass.
package progress

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 50 * time.Millisecond

// Bar is a determinate progress bar sized by the walker's dry-run file
// count. All methods are no-ops when the bar is disabled.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress bar expecting total steps. If enabled is false
// or total is not positive, the returned Bar does nothing.
func New(enabled bool, total int64) *Bar {
	if !enabled || total <= 0 {
		return &Bar{}
	}

	return &Bar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)}
}

// Add advances the bar by n steps.
func (b *Bar) Add(n int) {
	if b.bar != nil {
		_ = b.bar.Add(n)
	}
}

// Describe updates the progress bar description.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish clears the progress line and prints a final summary.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, "✔ "+s.String())
	}
}
