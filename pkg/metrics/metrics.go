// Package metrics keeps in-process counters for the transcript store.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Registry holds the transcript store counters.
type Registry struct {
	scans         atomic.Int64
	scanFailures  atomic.Int64
	reads         atomic.Int64
	pruned        atomic.Int64
	transcripts   atomic.Int64
	writeFailures atomic.Int64
	patches       atomic.Int64
	patchFailures atomic.Int64
	patchNanos    atomic.Int64
}

// Snapshot is a point-in-time copy of a Registry.
type Snapshot struct {
	Scans         int64         `json:"scans"`
	ScanFailures  int64         `json:"scan_failures"`
	Reads         int64         `json:"reads"`
	Pruned        int64         `json:"pruned"`
	Transcripts   int64         `json:"transcripts"`
	WriteFailures int64         `json:"write_failures"`
	Patches       int64         `json:"patches"`
	PatchFailures int64         `json:"patch_failures"`
	PatchTime     time.Duration `json:"patch_time"`
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RecordScan records a header parse performed while discovering files.
func (r *Registry) RecordScan(success bool) {
	r.scans.Add(1)
	if !success {
		r.scanFailures.Add(1)
	}
}

// RecordRead records a header parse performed to answer a lookup.
func (r *Registry) RecordRead() {
	r.reads.Add(1)
}

// RecordPrune records index entries dropped because their file vanished.
func (r *Registry) RecordPrune(n int) {
	r.pruned.Add(int64(n))
}

// RecordTranscript records a transcript started by this process.
func (r *Registry) RecordTranscript() {
	r.transcripts.Add(1)
}

// RecordWriteFailure records an open, write or close error on a transcript.
func (r *Registry) RecordWriteFailure() {
	r.writeFailures.Add(1)
}

// RecordPatch records an exit-code patch attempt.
func (r *Registry) RecordPatch(success bool, duration time.Duration) {
	r.patches.Add(1)
	if !success {
		r.patchFailures.Add(1)
	}
	r.patchNanos.Add(int64(duration))
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Scans:         r.scans.Load(),
		ScanFailures:  r.scanFailures.Load(),
		Reads:         r.reads.Load(),
		Pruned:        r.pruned.Load(),
		Transcripts:   r.transcripts.Load(),
		WriteFailures: r.writeFailures.Load(),
		Patches:       r.patches.Load(),
		PatchFailures: r.patchFailures.Load(),
		PatchTime:     time.Duration(r.patchNanos.Load()),
	}
}
