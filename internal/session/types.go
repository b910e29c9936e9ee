package session

import (
	"context"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
	"github.com/dwalbeck/job-track-now-portal/internal/portal"
)

// State identifies where the interview currently is. StateError is absorbing
// until the user retries, skips, or ends the interview.
type State string

const (
	StatePreparing       State = "preparing"
	StateMicTest         State = "mic_test"
	StateReady           State = "ready"
	StatePlayingQuestion State = "playing_question"
	StateRecording       State = "recording"
	StateProcessing      State = "processing"
	StatePlayingResponse State = "playing_response"
	StateCompleted       State = "completed"
	StateError           State = "error"
)

// Backend is the portal surface the session consumes.
type Backend interface {
	GetCompany(ctx context.Context, companyID string) (portal.Company, error)
	CompanyCulture(ctx context.Context, companyID string) error
	ConvertFile(ctx context.Context, resumeID, sourceFormat, targetFormat string) error
	CreateInterviewQuestions(ctx context.Context, jobID, companyID string) (portal.QuestionSet, error)
	PollProcess(ctx context.Context, processID string) (portal.ProcessState, error)
	QuestionList(ctx context.Context, interviewID string) ([]portal.Question, error)
	QuestionAudio(ctx context.Context, interviewID, questionID string, statement bool) ([]byte, error)
	Transcribe(ctx context.Context, segment []byte, questionID string) string
	SubmitAnswer(ctx context.Context, interviewID, questionID, answer string) (portal.AnswerResult, error)
	Review(ctx context.Context, interviewID string) (portal.Review, error)
}

// Microphone abstracts input-device acquisition.
type Microphone interface {
	Acquire(ctx context.Context) (*capture.Stream, string, error)
	Release()
}

// Player abstracts question and response playback. Completion is reported
// back through Session.PlaybackFinished rather than a channel so the real
// player's callback wiring stays trivial.
type Player interface {
	Play(audio []byte, caption string) error
	Pause()
	Resume()
	Stop()
	Playing() bool
	Paused() bool
	Caption() string
}

// Snapshot is the view-facing projection of the session. The view pushes one
// over the websocket on every change.
type Snapshot struct {
	State           State     `json:"state"`
	PrepStep        string    `json:"prep_step,omitempty"`
	QuestionLabel   string    `json:"question_label,omitempty"`
	QuestionIndex   int       `json:"question_index"`
	QuestionCount   int       `json:"question_count"`
	Caption         string    `json:"caption,omitempty"`
	Playing         bool      `json:"playing"`
	Paused          bool      `json:"paused"`
	WasStopped      bool      `json:"was_stopped"`
	ResumeRecording bool      `json:"resume_recording"`
	MicLevel        float64   `json:"mic_level"`
	MicDevice       string    `json:"mic_device,omitempty"`
	Spectrum        []float64 `json:"spectrum,omitempty"`
	Error           string    `json:"error,omitempty"`
	Recovery        []string  `json:"recovery,omitempty"`
}
