package audio

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
)

// Recorder writes each session's frames to a raw PCM file and encodes it to
// its final on-disk form when the session ends.
type Recorder struct {
	audioDir string

	mu        sync.Mutex
	sessionID string
	rawPath   string
	rawFile   *os.File

	encode func(rawPath, sessionID string) (string, error)
}

func NewRecorder(audioDir string) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}

	r := &Recorder{audioDir: audioDir}
	r.encode = r.defaultEncode
	return r
}

func (r *Recorder) StartSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}

	if r.rawFile != nil {
		_ = r.rawFile.Close()
	}

	rawPath := filepath.Join(r.audioDir, sessionID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.sessionID = sessionID
	r.rawPath = rawPath
	r.rawFile = rawFile

	return nil
}

// WriteFrame appends one frame to the current session's raw file. A no-op
// when no session is open.
func (r *Recorder) WriteFrame(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil {
		return nil
	}
	if _, err := r.rawFile.Write(SamplesToBytes(frame.Samples)); err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

// EndSession closes the raw file, encodes it, and returns the final audio
// path. Returns "" when no session was open.
func (r *Recorder) EndSession() (string, error) {
	r.mu.Lock()
	if r.sessionID == "" || r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	sessionID := r.sessionID
	rawPath := r.rawPath
	rawFile := r.rawFile

	r.sessionID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	audioPath, err := r.encode(rawPath, sessionID)
	if err != nil {
		return "", err
	}

	_ = os.Remove(rawPath)
	return audioPath, nil
}

// DiscardSession removes the raw file without encoding. Used for cancel.
func (r *Recorder) DiscardSession() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile != nil {
		_ = r.rawFile.Close()
		_ = os.Remove(r.rawPath)
	}
	r.sessionID = ""
	r.rawPath = ""
	r.rawFile = nil
}

func (r *Recorder) defaultEncode(rawPath, sessionID string) (string, error) {
	mp3Path := filepath.Join(r.audioDir, sessionID+".mp3")
	if err := encodeWithFFmpeg(rawPath, mp3Path, PipelineRate); err == nil {
		return mp3Path, nil
	}

	wavPath := filepath.Join(r.audioDir, sessionID+".wav")
	if err := pcmFileToWav(rawPath, wavPath, PipelineRate); err != nil {
		return "", fmt.Errorf("encode wav fallback: %w", err)
	}
	return wavPath, nil
}

func encodeWithFFmpeg(rawPath, outputPath string, sampleRate int) error {
	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", rawPath,
		outputPath,
	)
	return cmd.Run()
}

func pcmFileToWav(rawPath, wavPath string, sampleRate int) error {
	pcmData, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw pcm data: %w", err)
	}

	header, err := wavHeader(len(pcmData), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return fmt.Errorf("build wav header: %w", err)
	}

	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcmData); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}
	return nil
}
