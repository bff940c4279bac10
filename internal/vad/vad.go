// Package vad segments a continuous frame stream into closed utterances.
package vad

import (
	"time"

	"github.com/pengling9405/miaoyu/internal/audio"
)

// Decision holds the output of classifying a single frame.
type Decision struct {
	Speech     bool
	Confidence float32
}

// Classifier decides speech/silence for one pipeline-rate frame. Reset
// clears internal state between sessions.
type Classifier interface {
	Classify(samples []int16) Decision
	Reset()
}

// Utterance is one closed span of detected speech. Samples covers the whole
// span including intra-sentence pauses shorter than the hangover.
type Utterance struct {
	Samples []int16
	Seq     uint64
	Start   time.Duration
	End     time.Duration
}

// Config controls segmentation behavior.
type Config struct {
	FrameDuration time.Duration // duration of one frame
	Hangover      time.Duration // trailing silence required to close an utterance
	MinUtterance  time.Duration // spans shorter than this are dropped as noise
}

// Segmenter merges consecutive speech frames into utterances, closing each
// one after Hangover of trailing silence. Utterance sequence numbers are
// gapless: discarded noise spikes never consume a number.
type Segmenter struct {
	classifier Classifier
	cfg        Config

	hangoverFrames int
	minFrames      int

	inSpeech      bool
	silenceRun    int
	buffered      []int16
	speechFrames  int
	startFrame    uint64
	lastFrame     uint64
	nextSeq       uint64
	sawAnySpeech  bool
	closedAny     bool
	trailingDrop  int // silence samples buffered past the last speech frame
}

func NewSegmenter(classifier Classifier, cfg Config) *Segmenter {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = 3 * time.Second
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = 300 * time.Millisecond
	}

	return &Segmenter{
		classifier:     classifier,
		cfg:            cfg,
		hangoverFrames: int(cfg.Hangover / cfg.FrameDuration),
		minFrames:      int(cfg.MinUtterance / cfg.FrameDuration),
	}
}

// Push classifies one frame and returns a closed utterance once Hangover of
// silence has followed speech, or nil otherwise.
func (s *Segmenter) Push(frame audio.Frame) *Utterance {
	decision := s.classifier.Classify(frame.Samples)

	if decision.Speech {
		if !s.inSpeech {
			s.inSpeech = true
			s.startFrame = frame.Seq
			s.buffered = s.buffered[:0]
			s.speechFrames = 0
			s.trailingDrop = 0
		}
		s.sawAnySpeech = true
		s.silenceRun = 0
		s.speechFrames++
		s.lastFrame = frame.Seq
		s.buffered = append(s.buffered, frame.Samples...)
		s.trailingDrop = 0
		return nil
	}

	if !s.inSpeech {
		return nil
	}

	// Silence inside a candidate utterance: keep buffering so a short pause
	// does not split the sentence, but remember how much is trailing.
	s.buffered = append(s.buffered, frame.Samples...)
	s.trailingDrop += len(frame.Samples)
	s.silenceRun++
	if s.silenceRun >= s.hangoverFrames {
		return s.close()
	}
	return nil
}

// Flush closes any open utterance immediately, without waiting for the
// hangover. Called on session stop.
func (s *Segmenter) Flush() *Utterance {
	if !s.inSpeech {
		return nil
	}
	return s.close()
}

// SawSpeech reports whether any frame classified as speech this session,
// even if no utterance survived the minimum-duration filter.
func (s *Segmenter) SawSpeech() bool { return s.sawAnySpeech }

// ClosedAny reports whether at least one utterance was emitted.
func (s *Segmenter) ClosedAny() bool { return s.closedAny }

// Reset prepares the segmenter for a new session.
func (s *Segmenter) Reset() {
	s.classifier.Reset()
	s.inSpeech = false
	s.silenceRun = 0
	s.buffered = nil
	s.speechFrames = 0
	s.nextSeq = 0
	s.sawAnySpeech = false
	s.closedAny = false
	s.trailingDrop = 0
}

func (s *Segmenter) close() *Utterance {
	samples := s.buffered
	if s.trailingDrop > 0 && s.trailingDrop < len(samples) {
		samples = samples[:len(samples)-s.trailingDrop]
	}

	speechFrames := s.speechFrames
	startFrame := s.startFrame
	lastFrame := s.lastFrame

	s.inSpeech = false
	s.silenceRun = 0
	s.buffered = nil
	s.speechFrames = 0
	s.trailingDrop = 0

	if speechFrames < s.minFrames {
		return nil // noise spike
	}

	out := make([]int16, len(samples))
	copy(out, samples)

	utt := &Utterance{
		Samples: out,
		Seq:     s.nextSeq,
		Start:   time.Duration(startFrame) * s.cfg.FrameDuration,
		End:     time.Duration(lastFrame+1) * s.cfg.FrameDuration,
	}
	s.nextSeq++
	s.closedAny = true
	return utt
}
