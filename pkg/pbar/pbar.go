// Copyright (c) 2025 coderobe
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package pbar

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coderobe/dmcache-recovery-experiments/pkg/util/format"
)

const MinRefreshRate = time.Millisecond * 500

// ProgressBar renders a single-line progress bar on stdout. Safe for
// concurrent Set calls; rendering is throttled to MinRefreshRate.
type ProgressBar struct {
	mu sync.Mutex

	total     int64
	processed int64
	bytes     bool
	unit      string

	startTime      time.Time
	lastUpdateTime time.Time
	lastProcessed  int64
}

// NewBytes creates a bar over a byte total; counts render through
// FormatBytes and the rate as MB/s.
func NewBytes(total int64) *ProgressBar {
	return &ProgressBar{
		total:     total,
		bytes:     true,
		startTime: time.Now(),
	}
}

// New creates a bar over a plain-count total with the given unit label.
func New(total int64, unit string) *ProgressBar {
	return &ProgressBar{
		total:     total,
		unit:      unit,
		startTime: time.Now(),
	}
}

// Set updates the processed count and re-renders when due.
func (pb *ProgressBar) Set(processed int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.processed = processed
	pb.render(false)
}

func (pb *ProgressBar) render(force bool) {
	if !force && time.Since(pb.lastUpdateTime) < MinRefreshRate {
		return
	}

	percentage := float64(pb.processed) / float64(pb.total) * 100

	const barLength = 20
	filledLen := int(float64(barLength) * percentage / 100)
	var bar string
	if filledLen >= barLength {
		bar = strings.Repeat("=", barLength)
	} else {
		bar = strings.Repeat("=", filledLen) + ">" + strings.Repeat(" ", barLength-filledLen-1)
	}

	elapsed := time.Since(pb.lastUpdateTime)
	speed := float64(pb.processed-pb.lastProcessed) / elapsed.Seconds()

	var etaStr string
	if pb.processed > 0 && speed > 0 {
		etaSeconds := float64(pb.total-pb.processed) / speed
		etaStr = fmt.Sprintf("%02d:%02d:%02d remaining",
			int(etaSeconds/3600),
			int(etaSeconds/60)%60,
			int(etaSeconds)%60)
	} else {
		etaStr = "calculating..."
	}

	pb.lastUpdateTime = time.Now()
	pb.lastProcessed = pb.processed

	if pb.bytes {
		fmt.Fprintf(os.Stdout, "\r[INFO] Progress: [%s] %3.0f%% (%s/%s) @ %.2fMB/s [%s]    ",
			bar,
			percentage,
			format.FormatBytes(pb.processed),
			format.FormatBytes(pb.total),
			speed/(1024*1024),
			etaStr)
	} else {
		fmt.Fprintf(os.Stdout, "\r[INFO] Progress: [%s] %3.0f%% (%d/%d %s) [%s]    ",
			bar,
			percentage,
			pb.processed,
			pb.total,
			pb.unit,
			etaStr)
	}
	os.Stdout.Sync()
}

// Finish renders the final state and terminates the bar line.
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	pb.render(true)
	pb.mu.Unlock()
	fmt.Println()
}
