package vad

import (
	"testing"
	"time"

	"github.com/pengling9405/miaoyu/internal/audio"
)

const frameDur = 30 * time.Millisecond

// scriptClassifier replays a fixed speech/silence script, one entry per frame.
type scriptClassifier struct {
	script []bool
	pos    int
}

func (c *scriptClassifier) Classify([]int16) Decision {
	if c.pos >= len(c.script) {
		return Decision{}
	}
	speech := c.script[c.pos]
	c.pos++
	return Decision{Speech: speech, Confidence: 1}
}

func (c *scriptClassifier) Reset() { c.pos = 0 }

func newTestSegmenter(script []bool, hangover, minUtterance time.Duration) *Segmenter {
	return NewSegmenter(&scriptClassifier{script: script}, Config{
		FrameDuration: frameDur,
		Hangover:      hangover,
		MinUtterance:  minUtterance,
	})
}

func feed(s *Segmenter, n int) []*Utterance {
	var out []*Utterance
	for i := 0; i < n; i++ {
		frame := audio.Frame{Samples: make([]int16, 480), Seq: uint64(i)}
		if utt := s.Push(frame); utt != nil {
			out = append(out, utt)
		}
	}
	return out
}

func script(runs ...struct {
	speech bool
	frames int
}) []bool {
	var out []bool
	for _, r := range runs {
		for i := 0; i < r.frames; i++ {
			out = append(out, r.speech)
		}
	}
	return out
}

func run(speech bool, frames int) struct {
	speech bool
	frames int
} {
	return struct {
		speech bool
		frames int
	}{speech, frames}
}

func TestHangoverClosesUtterance(t *testing.T) {
	// 20 frames speech, then enough silence to pass a 10-frame hangover.
	sc := script(run(true, 20), run(false, 15))
	seg := newTestSegmenter(sc, 10*frameDur, 5*frameDur)

	utts := feed(seg, len(sc))
	if len(utts) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utts))
	}
	if utts[0].Seq != 0 {
		t.Fatalf("seq = %d, want 0", utts[0].Seq)
	}
	if utts[0].Start != 0 {
		t.Fatalf("start = %v, want 0", utts[0].Start)
	}
	if utts[0].End != 20*frameDur {
		t.Fatalf("end = %v, want %v", utts[0].End, 20*frameDur)
	}
	// 20 speech frames of 480 samples, trailing silence trimmed.
	if len(utts[0].Samples) != 20*480 {
		t.Fatalf("sample count = %d, want %d", len(utts[0].Samples), 20*480)
	}
}

func TestShortPauseDoesNotSplitUtterance(t *testing.T) {
	// Two sentences separated by a pause shorter than the hangover merge
	// into one utterance covering both.
	sc := script(run(true, 10), run(false, 5), run(true, 10), run(false, 12))
	seg := newTestSegmenter(sc, 10*frameDur, 3*frameDur)

	utts := feed(seg, len(sc))
	if len(utts) != 1 {
		t.Fatalf("expected 1 merged utterance, got %d", len(utts))
	}
	// Pause samples stay inside the utterance.
	if len(utts[0].Samples) != 25*480 {
		t.Fatalf("sample count = %d, want %d", len(utts[0].Samples), 25*480)
	}
}

func TestTwoUtterancesAreOrderedAndNonOverlapping(t *testing.T) {
	sc := script(run(true, 10), run(false, 12), run(true, 10), run(false, 12))
	seg := newTestSegmenter(sc, 10*frameDur, 3*frameDur)

	utts := feed(seg, len(sc))
	if len(utts) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(utts))
	}
	if utts[0].Seq != 0 || utts[1].Seq != 1 {
		t.Fatalf("seqs = %d,%d, want 0,1", utts[0].Seq, utts[1].Seq)
	}
	if utts[1].Start < utts[0].End {
		t.Fatalf("utterances overlap: first ends %v, second starts %v", utts[0].End, utts[1].Start)
	}
}

func TestNoiseSpikeDiscardedWithoutConsumingSeq(t *testing.T) {
	// A 2-frame spike (below the 5-frame minimum), then a real utterance.
	sc := script(run(true, 2), run(false, 12), run(true, 10), run(false, 12))
	seg := newTestSegmenter(sc, 10*frameDur, 5*frameDur)

	utts := feed(seg, len(sc))
	if len(utts) != 1 {
		t.Fatalf("expected 1 utterance, got %d", len(utts))
	}
	if utts[0].Seq != 0 {
		t.Fatalf("seq = %d, want 0 (spike must not consume a sequence number)", utts[0].Seq)
	}
	if !seg.SawSpeech() {
		t.Fatal("SawSpeech should be true")
	}
}

func TestFlushClosesOpenUtteranceImmediately(t *testing.T) {
	sc := script(run(true, 10), run(false, 2))
	seg := newTestSegmenter(sc, 100*frameDur, 3*frameDur)

	if utts := feed(seg, len(sc)); len(utts) != 0 {
		t.Fatalf("hangover should not have elapsed, got %d utterances", len(utts))
	}

	utt := seg.Flush()
	if utt == nil {
		t.Fatal("Flush should close the open utterance")
	}
	if utt.End != 10*frameDur {
		t.Fatalf("end = %v, want %v", utt.End, 10*frameDur)
	}
}

func TestSilentSessionYieldsNothing(t *testing.T) {
	sc := script(run(false, 40))
	seg := newTestSegmenter(sc, 10*frameDur, 3*frameDur)

	if utts := feed(seg, len(sc)); len(utts) != 0 {
		t.Fatalf("expected no utterances, got %d", len(utts))
	}
	if seg.Flush() != nil {
		t.Fatal("Flush on silence should return nil")
	}
	if seg.SawSpeech() {
		t.Fatal("SawSpeech should be false for a silent session")
	}
	if seg.ClosedAny() {
		t.Fatal("ClosedAny should be false for a silent session")
	}
}

func TestEnergyClassifier(t *testing.T) {
	c := NewEnergyClassifier(500)

	loud := make([]int16, 480)
	for i := range loud {
		loud[i] = 4000
	}
	if d := c.Classify(loud); !d.Speech {
		t.Fatal("loud frame should classify as speech")
	}

	quiet := make([]int16, 480)
	for i := range quiet {
		quiet[i] = 50
	}
	if d := c.Classify(quiet); d.Speech {
		t.Fatal("quiet frame should classify as silence")
	}

	if d := c.Classify(nil); d.Speech {
		t.Fatal("empty frame should classify as silence")
	}
}
