package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PipelineRate is the sample rate every downstream stage (VAD, ASR) expects.
const PipelineRate = 16000

// ErrDeviceUnavailable reports that no input device could be opened. Fatal
// for the session; the caller must not retry automatically.
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// Frame is one fixed-size chunk of mono PCM at PipelineRate.
type Frame struct {
	Samples []int16
	Seq     uint64
}

// Capture owns the PortAudio input stream and pushes resampled frames into
// a bounded channel. One Capture serves one dictation session.
type Capture struct {
	stream     *portaudio.Stream
	buf        []int16
	deviceRate int
	framer     *Framer
}

// deviceRateCandidates mirrors the rates the recorder tries in order; 16 kHz
// first so most devices need no resampling.
var deviceRateCandidates = []int{16000, 48000, 44100, 32000, 24000}

// Open opens the default input device at the first rate it accepts and
// prepares frames of frameMillis length. Returns ErrDeviceUnavailable when
// every candidate rate fails (no device, no permission).
func Open(frameMillis int) (*Capture, error) {
	var lastErr error
	for _, rate := range deviceRateCandidates {
		buf := make([]int16, rate*frameMillis/1000)
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(rate), len(buf), buf)
		if err != nil {
			lastErr = err
			continue
		}
		return &Capture{
			stream:     stream,
			buf:        buf,
			deviceRate: rate,
			framer:     NewFramer(rate, PipelineRate*frameMillis/1000),
		}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, lastErr)
}

// DeviceRate returns the rate the device was actually opened at.
func (c *Capture) DeviceRate() int { return c.deviceRate }

// Stream reads from the device until ctx is cancelled, sending frames on
// out. The send blocks when out is full, so a slow consumer backpressures
// into the device buffer rather than dropping speech.
func (c *Capture) Stream(ctx context.Context, out chan<- Frame) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}
	defer func() { _ = c.stream.Stop() }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.stream.Read(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read input stream: %w", err)
		}

		chunk := make([]int16, len(c.buf))
		copy(chunk, c.buf)
		for _, frame := range c.framer.Push(chunk) {
			select {
			case out <- frame:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close releases the PortAudio stream.
func (c *Capture) Close() error {
	return c.stream.Close()
}

// Framer converts arbitrarily sized device-rate chunks into fixed-size
// pipeline-rate frames with gapless sequence numbers.
type Framer struct {
	deviceRate   int
	frameSamples int
	pending      []int16
	seq          uint64
}

func NewFramer(deviceRate, frameSamples int) *Framer {
	return &Framer{deviceRate: deviceRate, frameSamples: frameSamples}
}

// Push appends a device-rate chunk and returns every complete frame now
// available. A short tail is kept for the next call.
func (f *Framer) Push(chunk []int16) []Frame {
	f.pending = append(f.pending, Resample(chunk, f.deviceRate, PipelineRate)...)

	var frames []Frame
	for len(f.pending) >= f.frameSamples {
		samples := make([]int16, f.frameSamples)
		copy(samples, f.pending[:f.frameSamples])
		f.pending = f.pending[f.frameSamples:]
		frames = append(frames, Frame{Samples: samples, Seq: f.seq})
		f.seq++
	}
	return frames
}

// Flush returns the remaining partial frame, zero-padded, or nothing when
// the buffer is empty.
func (f *Framer) Flush() []Frame {
	if len(f.pending) == 0 {
		return nil
	}
	samples := make([]int16, f.frameSamples)
	copy(samples, f.pending)
	f.pending = nil
	frame := Frame{Samples: samples, Seq: f.seq}
	f.seq++
	return []Frame{frame}
}

// Resample converts mono PCM between sample rates by linear interpolation.
// Returns the input unchanged when the rates already match.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}

	outLen := len(samples) * to / from
	if outLen == 0 {
		return nil
	}

	out := make([]int16, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
