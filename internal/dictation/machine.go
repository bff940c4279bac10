package dictation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pengling9405/miaoyu/internal/asr"
	"github.com/pengling9405/miaoyu/internal/audio"
	"github.com/pengling9405/miaoyu/internal/history"
	"github.com/pengling9405/miaoyu/internal/polish"
	"github.com/pengling9405/miaoyu/internal/punc"
	"github.com/pengling9405/miaoyu/internal/vad"
)

// CaptureSource produces pipeline-rate frames until closed.
type CaptureSource interface {
	Stream(ctx context.Context, out chan<- audio.Frame) error
	Close() error
}

// CaptureOpener opens the default input device for a session.
type CaptureOpener func(frameMillis int) (CaptureSource, error)

// SessionRecorder persists raw session audio for playback.
type SessionRecorder interface {
	StartSession(sessionID string) error
	WriteFrame(frame audio.Frame) error
	EndSession() (string, error)
	DiscardSession()
}

// HistoryStore is where finished sessions are committed.
type HistoryStore interface {
	Add(entry history.Entry) error
}

// ModelGate exposes the slice of the model manager a session needs.
type ModelGate interface {
	ActiveAsrModelID() string
	EnsureReady(modelID string) error
	RecordAsrUsage(variantID string, durationSeconds float64) error
}

// TextPolisher runs the optional LLM pass at finalize time.
type TextPolisher interface {
	Polish(ctx context.Context, text string) polish.Result
}

// RecognizerFactory builds the recognizer for the active ASR model.
type RecognizerFactory func(modelID string) asr.Recognizer

// Config tunes session behavior.
type Config struct {
	FrameMillis  int
	Hangover     time.Duration
	MinUtterance time.Duration
	MinRecording time.Duration
	Workers      int
	QueueSize    int
}

// Machine is the dictation state machine. All commands are safe for
// concurrent use; at most one session runs at a time.
type Machine struct {
	cfg        Config
	opener     CaptureOpener
	classifier vad.Classifier
	recognizer RecognizerFactory
	restorer   punc.Restorer
	polisher   TextPolisher
	gate       ModelGate
	store      HistoryStore
	recorder   SessionRecorder
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state State
	stage Stage
	sess  *session
}

type session struct {
	id        string
	mode      Mode
	modelID   string
	sourceApp string

	ctx    context.Context
	cancel context.CancelFunc

	capture     CaptureSource
	seg         *vad.Segmenter
	pipe        *pipeline
	frames      chan audio.Frame
	consumeDone chan struct{}
	recording   bool
	discardOnce sync.Once

	started time.Time
}

// Deps bundles machine collaborators.
type Deps struct {
	Opener     CaptureOpener
	Classifier vad.Classifier
	Recognizer RecognizerFactory
	Restorer   punc.Restorer
	Polisher   TextPolisher
	Gate       ModelGate
	Store      HistoryStore
	Recorder   SessionRecorder
	Notifier   Notifier
	Logger     *slog.Logger
}

func NewMachine(cfg Config, deps Deps) *Machine {
	if cfg.FrameMillis <= 0 {
		cfg.FrameMillis = 30
	}
	if cfg.MinRecording <= 0 {
		cfg.MinRecording = 500 * time.Millisecond
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 32
	}
	m := &Machine{
		cfg:        cfg,
		opener:     deps.Opener,
		classifier: deps.Classifier,
		recognizer: deps.Recognizer,
		restorer:   deps.Restorer,
		polisher:   deps.Polisher,
		gate:       deps.Gate,
		store:      deps.Store,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		now:        time.Now,
		state:      StateIdle,
	}
	if m.notifier == nil {
		m.notifier = NopNotifier{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// State returns the current machine state and transcribing stage.
func (m *Machine) State() (State, Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.stage
}

// Busy reports whether a session is running in any state. Wired into
// the model manager as the activation guard.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateIdle
}

// Start opens capture and begins streaming frames through VAD into
// the recognition pool.
func (m *Machine) Start(mode Mode, sourceApp string) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyActive
	}

	modelID := m.gate.ActiveAsrModelID()
	if err := m.gate.EnsureReady(modelID); err != nil {
		m.mu.Unlock()
		m.notifier.Notify("语音模型未就绪，请先下载", SeverityError)
		return fmt.Errorf("%w: %v", ErrModelNotReady, err)
	}

	capture, err := m.opener(m.cfg.FrameMillis)
	if err != nil {
		m.mu.Unlock()
		m.notifier.Notify("无法打开麦克风", SeverityError)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	if mode == "" {
		mode = ModeNormal
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:        uuid.NewString(),
		mode:      mode,
		modelID:   modelID,
		sourceApp: sourceApp,
		ctx:       ctx,
		cancel:    cancel,
		capture:   capture,
		frames:    make(chan audio.Frame, 8),
		seg: vad.NewSegmenter(m.classifier, vad.Config{
			FrameDuration: time.Duration(m.cfg.FrameMillis) * time.Millisecond,
			Hangover:      m.cfg.Hangover,
			MinUtterance:  m.cfg.MinUtterance,
		}),
		pipe:        newPipeline(m.recognizer(modelID), m.restorer, m.cfg.Workers, m.cfg.QueueSize, m.logger),
		consumeDone: make(chan struct{}),
		started:     m.now(),
	}

	// The classifier is shared across sessions; a stateful one must
	// start each session clean.
	sess.seg.Reset()

	if m.recorder != nil {
		if err := m.recorder.StartSession(sess.id); err != nil {
			m.logger.Warn("session audio recording disabled", "error", err)
		} else {
			sess.recording = true
		}
	}

	sess.pipe.start(ctx)
	go m.captureLoop(sess)
	go m.consumeLoop(sess)

	m.state = StateDictating
	m.stage = ""
	m.sess = sess
	m.mu.Unlock()

	m.notifier.StateChanged(StateEvent{Type: StateDictating, Mode: mode})
	return nil
}

func (m *Machine) captureLoop(sess *session) {
	defer close(sess.frames)
	if err := sess.capture.Stream(sess.ctx, sess.frames); err != nil && sess.ctx.Err() == nil {
		m.logger.Warn("audio capture stopped", "session", sess.id, "error", err)
	}
}

func (m *Machine) consumeLoop(sess *session) {
	defer close(sess.consumeDone)
	for frame := range sess.frames {
		if sess.recording {
			if err := m.recorder.WriteFrame(frame); err != nil {
				m.logger.Warn("session audio write failed", "error", err)
				sess.recording = false
			}
		}
		if utt := sess.seg.Push(frame); utt != nil {
			if err := sess.pipe.submit(sess.ctx, *utt); err != nil {
				return
			}
		}
	}
}

// Stop is the synchronizing barrier: it stops capture, flushes the
// final utterance, waits for every in-flight recognition, then runs
// punctuated text through the optional polish stage and commits a
// history entry. Zero detected speech commits nothing.
func (m *Machine) Stop(uiTriggered bool) (*history.Entry, error) {
	m.mu.Lock()
	if m.state != StateDictating {
		m.mu.Unlock()
		return nil, ErrNotDictating
	}
	sess := m.sess
	m.state = StateTranscribing
	m.stage = StageASR
	m.mu.Unlock()

	m.notifier.StateChanged(StateEvent{Type: StateTranscribing, Mode: sess.mode, Stage: StageASR})
	m.notifier.TranscribingStage(StageASR)

	_ = sess.capture.Close()
	<-sess.consumeDone

	duration := m.now().Sub(sess.started)
	if duration < m.cfg.MinRecording {
		sess.cancel()
		m.discard(sess)
		m.toIdle()
		if uiTriggered {
			m.notifier.Notify("录音时间太短，已忽略", SeverityWarning)
		}
		return nil, ErrRecordingTooShort
	}

	if utt := sess.seg.Flush(); utt != nil {
		if err := sess.pipe.submit(sess.ctx, *utt); err != nil {
			m.discard(sess)
			m.toIdle()
			return nil, err
		}
	}

	segments, failures, infErr := sess.pipe.drain()
	if err := sess.ctx.Err(); err != nil {
		m.discard(sess)
		m.toIdle()
		return nil, err
	}

	text := assemble(segments)
	if len(segments) == 0 || strings.TrimSpace(text) == "" {
		sess.cancel()
		m.discard(sess)
		m.toIdle()
		m.notifier.Notify("未检测到语音", SeverityInfo)
		return nil, ErrNoSpeech
	}
	if infErr != nil {
		m.logger.Warn("session finished with recognition failures",
			"session", sess.id, "failures", failures)
		m.notifier.Notify("部分语音未能识别", SeverityWarning)
	}

	entry := history.Entry{
		ID:              sess.id,
		Text:            text,
		Kind:            kindForMode(sess.mode),
		CreatedAt:       m.now(),
		DurationSeconds: int(duration.Round(time.Second) / time.Second),
		AsrModel:        sess.modelID,
		AsrVariantID:    sess.modelID + "::local",
		SourceApp:       sess.sourceApp,
		PolishStatus:    string(polish.StatusSkipped),
	}

	if m.polisher != nil {
		m.mu.Lock()
		m.stage = StagePolishing
		m.mu.Unlock()
		m.notifier.StateChanged(StateEvent{Type: StateTranscribing, Mode: sess.mode, Stage: StagePolishing})
		m.notifier.TranscribingStage(StagePolishing)

		res := m.polisher.Polish(sess.ctx, text)
		if err := sess.ctx.Err(); err != nil {
			m.discard(sess)
			m.toIdle()
			return nil, err
		}
		entry.Text = res.Text
		entry.PolishStatus = string(res.Status)
		entry.PolishError = res.Err
		entry.LlmVariantID = res.VariantID
		entry.LlmTotalTokens = res.TokensUsed
		if res.Status == polish.StatusFailed {
			m.notifier.Notify("润色失败，已保留原始文本", SeverityWarning)
		}
	}

	entry.TotalWords = countWords(entry.Text)
	entry.TotalTokens = entry.LlmTotalTokens

	if sess.recording {
		path, err := m.recorder.EndSession()
		if err != nil {
			m.logger.Warn("session audio encode failed", "session", sess.id, "error", err)
		} else {
			entry.AudioFilePath = path
		}
	}

	sess.cancel()
	m.toIdle()

	if err := m.store.Add(entry); err != nil {
		m.notifier.Notify("保存历史记录失败", SeverityError)
		return nil, fmt.Errorf("%w: %v", ErrHistoryIO, err)
	}
	if err := m.gate.RecordAsrUsage(entry.AsrVariantID, duration.Seconds()); err != nil {
		m.logger.Warn("record asr usage", "error", err)
	}
	return &entry, nil
}

// Cancel aborts the running session from any state, discards all
// buffered audio and in-flight results, and never persists. Calling
// it with no active session is a no-op.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if m.state == StateIdle || m.sess == nil {
		m.mu.Unlock()
		return
	}
	sess := m.sess
	m.mu.Unlock()

	sess.cancel()
	_ = sess.capture.Close()
	<-sess.consumeDone
	m.discard(sess)
	m.toIdle()
}

func (m *Machine) discard(sess *session) {
	sess.discardOnce.Do(func() {
		_ = sess.capture.Close()
		if sess.recording && m.recorder != nil {
			m.recorder.DiscardSession()
			sess.recording = false
		}
	})
}

func (m *Machine) toIdle() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	m.stage = ""
	m.sess = nil
	m.mu.Unlock()
	m.notifier.StateChanged(StateEvent{Type: StateIdle})
}

func kindForMode(mode Mode) string {
	if mode == ModeDiary {
		return history.KindDiary
	}
	return history.KindDictation
}

// countWords counts CJK characters individually and runs of other
// letters or digits as single words.
func countWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return count
}
