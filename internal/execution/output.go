package execution

import (
	"sync"

	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/logging"
)

// outputStream delivers a process's output to a single subscriber. Chunks
// produced before anyone subscribes are held and replayed on Subscribe.
type outputStream struct {
	log *logging.Logger

	mu       sync.Mutex
	pending  [][]byte
	complete bool
	sink     transcript.Sink
}

func newOutputStream(log *logging.Logger) *outputStream {
	return &outputStream{log: log}
}

// Subscribe implements transcript.Source.
func (o *outputStream) Subscribe(s transcript.Sink) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sink != nil {
		o.log.Warn("output already has a subscriber")
		return
	}
	o.sink = s
	for _, p := range o.pending {
		s.OnChunk(p)
	}
	o.pending = nil
	if o.complete {
		s.OnComplete()
	}
}

func (o *outputStream) publish(p []byte) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink == nil {
		o.pending = append(o.pending, chunk)
		return
	}
	o.sink.OnChunk(chunk)
}

func (o *outputStream) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.complete {
		return
	}
	o.complete = true
	if o.sink != nil {
		o.sink.OnComplete()
	}
}
