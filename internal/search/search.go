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

// Package search recovers cache geometry by scanning a cache device for
// regions whose content matches a fingerprint index of the origin
// device. Each (block size, alignment) pair is a hypothesis; hypotheses
// are scored by the fraction of cache blocks with a verified origin
// match, and the best-scoring one becomes the recovered geometry.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/coderobe/dmcache-recovery-experiments/internal/device"
	"github.com/coderobe/dmcache-recovery-experiments/internal/digest"
	"github.com/coderobe/dmcache-recovery-experiments/internal/index"
	"github.com/coderobe/dmcache-recovery-experiments/internal/logger"
)

// DefaultCacheBlockSize is the candidate size tried when none is given:
// 512 sectors, the common dm-cache default.
const DefaultCacheBlockSize = 512 * 512

// DefaultMinCoverage is the confidence floor: the best hypothesis must
// have a verified match for at least this fraction of the cache blocks
// it scanned, or the search reports no confident match.
const DefaultMinCoverage = 0.5

// ErrNoConfidentMatch reports that the search completed but no
// hypothesis reached the confidence floor.
var ErrNoConfidentMatch = errors.New("no hypothesis reached the confidence floor")

// GranularityError reports a candidate cache-block size the index
// cannot resolve. It invalidates one hypothesis size, not the sweep.
type GranularityError struct {
	BlockSize   uint64
	Granularity uint64
	Reason      string
}

func (e *GranularityError) Error() string {
	return fmt.Sprintf("cache block size %d: %s (index granularity %d)", e.BlockSize, e.Reason, e.Granularity)
}

// Hypothesis is a candidate cache geometry under evaluation.
type Hypothesis struct {
	BlockSize uint64
	Alignment uint64
}

// Match is a pairing of a cache block with the origin block holding the
// same content. With an origin device configured, matches are confirmed
// byte-for-byte, never by fingerprint equality alone.
type Match struct {
	CacheOffset  uint64
	OriginOffset uint64
}

// HypothesisResult accumulates the evidence for one hypothesis.
type HypothesisResult struct {
	Hypothesis

	// Matches holds one entry per cache block with a resolved origin
	// block, in ascending cache offset order.
	Matches []Match

	// Attempted counts cache blocks that were successfully read and
	// evaluated. Blocks lost to read errors are not attempted.
	Attempted uint64

	// ReadFailures counts cache blocks skipped over unreadable media.
	ReadFailures uint64

	// Collisions counts candidate origin blocks whose fingerprints
	// matched but whose content did not.
	Collisions uint64

	// Partial is set when the scan was cancelled before covering the
	// whole device; Coverage then refers to the prefix scanned.
	Partial bool

	// Verified is set when matches were confirmed by full comparison
	// against the origin device.
	Verified bool
}

// Coverage is the hypothesis score: verified matches per attempted block.
func (r *HypothesisResult) Coverage() float64 {
	if r.Attempted == 0 {
		return 0
	}
	return float64(len(r.Matches)) / float64(r.Attempted)
}

// Result is the outcome of a search run.
type Result struct {
	// Best is the winning hypothesis with its full match set. Losing
	// hypotheses keep their counters but drop their matches.
	Best *HypothesisResult

	// Evaluated counts hypotheses fully or partially evaluated.
	Evaluated int

	// Skipped counts candidate sizes rejected with a GranularityError.
	Skipped int

	// Partial is set when the run was cancelled before evaluating every
	// hypothesis to completion.
	Partial bool
}

// Config assembles a search engine. Index, Cache and Digest are
// required. Origin enables full-content verification of fingerprint
// hits; without it matches rest on fingerprint and adjacency evidence
// alone and the result is flagged unverified.
type Config struct {
	Index  *index.Index
	Cache  device.Device
	Origin device.Device
	Digest digest.Digest
	Logger *logger.Logger

	// Workers bounds concurrent hypothesis evaluations. Defaults to
	// GOMAXPROCS.
	Workers int

	// MinCoverage is the confidence floor in [0, 1]. Zero selects
	// DefaultMinCoverage; a negative value disables the floor.
	MinCoverage float64

	// Progress, if non-nil, is called as hypotheses complete.
	Progress func(done, total int)
}

// Engine evaluates geometry hypotheses against a cache device. All
// shared state (index, devices) is read-only, so hypotheses run
// concurrently without locking.
type Engine struct {
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if cfg.Index == nil || cfg.Cache == nil || cfg.Digest == nil {
		return nil, fmt.Errorf("search: index, cache device and digest are required")
	}
	if cfg.Digest.Name() != cfg.Index.Algorithm() {
		return nil, fmt.Errorf("search: digest %q does not match index algorithm %q",
			cfg.Digest.Name(), cfg.Index.Algorithm())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MinCoverage == 0 {
		cfg.MinCoverage = DefaultMinCoverage
	}
	if cfg.MinCoverage > 1 {
		return nil, fmt.Errorf("search: confidence floor %v above 1", cfg.MinCoverage)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Engine{cfg: cfg}, nil
}

// Run evaluates every (size, alignment) hypothesis for the candidate
// block sizes and returns the best-scoring geometry. Invalid sizes are
// skipped with a logged GranularityError; the run fails only when no
// hypothesis is evaluable. Cancelling ctx stops in-flight evaluations
// promptly and still returns the best hypothesis found, flagged partial.
// A best hypothesis below the confidence floor is returned together
// with ErrNoConfidentMatch.
func (e *Engine) Run(ctx context.Context, sizes []uint64) (*Result, error) {
	hyps, skipped := e.enumerate(sizes)
	if len(hyps) == 0 {
		return nil, fmt.Errorf("search: no evaluable hypotheses among %d candidate sizes", len(sizes))
	}

	type outcome struct {
		hr  *HypothesisResult
		err error
	}

	jobs := make(chan Hypothesis)
	results := make(chan outcome, len(hyps))

	workers := e.cfg.Workers
	if workers > len(hyps) {
		workers = len(hyps)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range jobs {
				hr, err := e.evaluate(ctx, h)
				results <- outcome{hr: hr, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, h := range hyps {
			select {
			case jobs <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &Result{Skipped: skipped}
	var firstErr error

	for out := range results {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}

		res.Evaluated++
		if e.cfg.Progress != nil {
			e.cfg.Progress(res.Evaluated, len(hyps))
		}
		res.Partial = res.Partial || out.hr.Partial

		if res.Best == nil || betterThan(out.hr, res.Best) {
			if res.Best != nil {
				res.Best.Matches = nil
			}
			res.Best = out.hr
		} else {
			out.hr.Matches = nil
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if res.Evaluated < len(hyps) {
		res.Partial = true
	}
	if res.Best == nil {
		// Cancelled before any hypothesis completed.
		return res, ctx.Err()
	}

	if e.cfg.MinCoverage > 0 && res.Best.Coverage() < e.cfg.MinCoverage {
		return res, fmt.Errorf(
			"best hypothesis (block size %d, alignment %d) coverage %.3f below floor %.3f: %w",
			res.Best.BlockSize, res.Best.Alignment, res.Best.Coverage(), e.cfg.MinCoverage,
			ErrNoConfidentMatch)
	}
	return res, nil
}

// enumerate expands candidate sizes into per-alignment hypotheses.
// Alignment finer than the index granularity is meaningless, so the
// candidates are 0, g, 2g, ... below each size.
func (e *Engine) enumerate(sizes []uint64) ([]Hypothesis, int) {
	g := e.cfg.Index.Granularity()

	var hyps []Hypothesis
	skipped := 0
	seen := make(map[uint64]bool, len(sizes))

	for _, size := range sizes {
		if seen[size] {
			continue
		}
		seen[size] = true

		if err := e.checkSize(size); err != nil {
			e.cfg.Logger.Warnf("skipping %s", err)
			skipped++
			continue
		}
		for a := uint64(0); a < size; a += g {
			if a+size <= e.cfg.Cache.Size() {
				hyps = append(hyps, Hypothesis{BlockSize: size, Alignment: a})
			}
		}
	}
	return hyps, skipped
}

func (e *Engine) checkSize(size uint64) *GranularityError {
	g := e.cfg.Index.Granularity()
	switch {
	case size == 0:
		return &GranularityError{BlockSize: size, Granularity: g, Reason: "size is zero"}
	case size%g != 0:
		// Also rejects sizes below g: the index cannot resolve them.
		return &GranularityError{BlockSize: size, Granularity: g, Reason: "not a multiple of the index granularity"}
	case size > e.cfg.Cache.Size():
		return &GranularityError{BlockSize: size, Granularity: g, Reason: "larger than the cache device"}
	}
	return nil
}

// betterThan orders hypotheses by coverage, then by larger block size
// (small blocks match coincidentally more often), then by lower
// alignment as the final reproducible tie-break.
func betterThan(a, b *HypothesisResult) bool {
	if a.Coverage() != b.Coverage() {
		return a.Coverage() > b.Coverage()
	}
	if a.BlockSize != b.BlockSize {
		return a.BlockSize > b.BlockSize
	}
	return a.Alignment < b.Alignment
}
