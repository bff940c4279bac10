package dictation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/pengling9405/miaoyu/internal/asr"
	"github.com/pengling9405/miaoyu/internal/audio"
	"github.com/pengling9405/miaoyu/internal/punc"
	"github.com/pengling9405/miaoyu/internal/vad"
)

// placeholder committed for an utterance whose inference failed.
const unrecognizedPlaceholder = "[unrecognized]"

// Segment is the recognized and punctuated text of one utterance.
type Segment struct {
	Seq        uint64
	Text       string
	Confidence float32
	Failed     bool
}

// pipeline fans closed utterances out to a bounded worker pool and
// reassembles results in utterance sequence order. Submission blocks
// when the queue is full so speech is never dropped.
type pipeline struct {
	recognizer asr.Recognizer
	restorer   punc.Restorer
	logger     *slog.Logger

	queue   chan vad.Utterance
	wg      sync.WaitGroup
	workers int

	mu       sync.Mutex
	pending  map[uint64]Segment
	ordered  []Segment
	nextSeq  uint64
	failures int
}

func newPipeline(recognizer asr.Recognizer, restorer punc.Restorer, workers, queueSize int, logger *slog.Logger) *pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pipeline{
		recognizer: recognizer,
		restorer:   restorer,
		logger:     logger,
		queue:      make(chan vad.Utterance, queueSize),
		workers:    workers,
		pending:    make(map[uint64]Segment),
	}
}

// start launches the worker pool. Workers exit when the queue is
// closed or ctx is cancelled.
func (p *pipeline) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case utt, ok := <-p.queue:
					if !ok {
						return
					}
					p.process(ctx, utt)
				}
			}
		}()
	}
}

// submit hands one utterance to the pool, blocking for backpressure
// when every worker is busy and the queue is full.
func (p *pipeline) submit(ctx context.Context, utt vad.Utterance) error {
	select {
	case p.queue <- utt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeline) process(ctx context.Context, utt vad.Utterance) {
	if ctx.Err() != nil {
		return
	}

	seg := Segment{Seq: utt.Seq}
	result, err := p.recognizer.Recognize(ctx, utt.Samples, audio.PipelineRate)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("utterance recognition failed", "seq", utt.Seq, "error", err)
		seg.Text = unrecognizedPlaceholder
		seg.Failed = true
		p.collect(seg)
		return
	}

	seg.Text = strings.TrimSpace(result.Text)
	seg.Confidence = float32(result.Confidence)

	if p.restorer != nil && seg.Text != "" {
		punctuated, err := p.restorer.Restore(ctx, seg.Text)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("punctuation failed, keeping raw text", "seq", utt.Seq, "error", err)
		} else {
			seg.Text = punctuated
		}
	}

	p.collect(seg)
}

// collect buffers out-of-order completions and promotes them to the
// ordered transcript as soon as their predecessors have arrived.
func (p *pipeline) collect(seg Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg.Failed {
		p.failures++
	}
	p.pending[seg.Seq] = seg
	for {
		next, ok := p.pending[p.nextSeq]
		if !ok {
			return
		}
		delete(p.pending, p.nextSeq)
		p.ordered = append(p.ordered, next)
		p.nextSeq++
	}
}

// drain closes the queue and blocks until every queued and in-flight
// utterance has been processed. This is the stop barrier.
func (p *pipeline) drain() ([]Segment, int, error) {
	close(p.queue)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) != 0 {
		// Only possible when a worker aborted on cancellation mid
		// utterance. Promote leftovers by sequence so nothing is
		// silently lost.
		keys := make([]uint64, 0, len(p.pending))
		for k := range p.pending {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			p.ordered = append(p.ordered, p.pending[k])
			delete(p.pending, k)
		}
	}

	segments := p.ordered
	if p.failures > 0 {
		return segments, p.failures, fmt.Errorf("%w: %d of %d utterances", ErrInference, p.failures, len(segments))
	}
	return segments, 0, nil
}

// assemble joins ordered segment texts into one transcript.
func assemble(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, "")
}
