package dictation

// State is the top-level machine state.
type State string

const (
	StateIdle         State = "idle"
	StateDictating    State = "dictating"
	StateTranscribing State = "transcribing"
)

// Mode selects how a finished session is categorized.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeDiary  Mode = "diary"
)

// Stage is the transcribing sub-state.
type Stage string

const (
	StageASR       Stage = "asr"
	StagePolishing Stage = "polishing"
)

// Severity classifies user-facing notifications.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// StateEvent is one observable state transition.
type StateEvent struct {
	Type  State  `json:"type"`
	Mode  Mode   `json:"mode,omitempty"`
	Stage Stage  `json:"stage,omitempty"`
}

// Notifier receives state transitions and user-facing feedback. Calls
// must not block; implementations fan out to their own consumers.
type Notifier interface {
	StateChanged(event StateEvent)
	TranscribingStage(stage Stage)
	Notify(message string, severity Severity)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) StateChanged(StateEvent) {}
func (NopNotifier) TranscribingStage(Stage) {}
func (NopNotifier) Notify(string, Severity) {}
