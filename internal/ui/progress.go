package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/trobanga/geochain/internal/models"
)

// ProgressBar shows the step accounting of a running job.
// The total grows while the job runs, so the bar's maximum follows it.
type ProgressBar struct {
	mu          sync.Mutex
	bar         *progressbar.ProgressBar
	description string
	total       int64
	current     int64
	startTime   time.Time
}

// NewProgressBar creates a progress bar writing to stderr
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarWithWriter(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer
// Useful for testing with mock writers
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{
		bar:         bar,
		description: description,
		total:       total,
		startTime:   time.Now(),
	}
}

// Update moves the bar to the job's step counts
func (p *ProgressBar) Update(job *models.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := int64(job.Progress.NumOfSteps)
	if total > 0 && total != p.total {
		p.total = total
		p.bar.ChangeMax64(total)
	}

	if len(job.Messages) > 0 {
		p.bar.Describe(fmt.Sprintf("%s [%s]", p.description, job.Status))
	}

	p.current = int64(job.Progress.Step)
	return p.bar.Set64(p.current)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar.Finish()
}

// Clear clears the progress bar from the terminal
func (p *ProgressBar) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bar.Clear()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}
