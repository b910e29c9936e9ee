package portal

import "fmt"

// Question is one interview prompt. Follow-up questions carry the id of the
// question that produced them in ParentQuestionID.
type Question struct {
	QuestionID       string `json:"question_id"`
	Order            int    `json:"question_order"`
	Prompt           string `json:"question"`
	Category         string `json:"category"`
	ParentQuestionID string `json:"parent_question_id,omitempty"`
	SoundFile        string `json:"sound_file,omitempty"`
	Answer           string `json:"answer,omitempty"`
}

// IsFollowUp reports whether the question was inserted in response to an answer.
func (q Question) IsFollowUp() bool { return q.ParentQuestionID != "" }

// Company is the subset of the company record the interview flow needs.
type Company struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"company_name"`
}

// QuestionSet is returned when question generation is initiated. Completion is
// discovered by polling the process id.
type QuestionSet struct {
	ProcessID   string `json:"process_id"`
	InterviewID string `json:"interview_id"`
}

// ProcessState reports the backend-side progress of a long-running job.
type ProcessState string

const (
	ProcessPending   ProcessState = "pending"
	ProcessComplete  ProcessState = "complete"
	ProcessConfirmed ProcessState = "confirmed"
	ProcessFailed    ProcessState = "failed"
)

// Done reports whether polling can stop successfully.
func (s ProcessState) Done() bool { return s == ProcessComplete || s == ProcessConfirmed }

// AnswerResult is the scorer's reaction to a submitted answer. It may carry a
// spoken response statement, a follow-up question, both, or neither.
type AnswerResult struct {
	ResponseStatement string `json:"response_statement,omitempty"`
	ResponseAudioFile string `json:"response_audio_file,omitempty"`
	QuestionID        string `json:"question_id,omitempty"`
	QuestionOrder     int    `json:"question_order,omitempty"`
	Question          string `json:"question,omitempty"`
	SoundFile         string `json:"sound_file,omitempty"`
	ParentQuestionID  string `json:"parent_question_id,omitempty"`
}

// HasFollowUp reports whether the scorer produced a follow-up question.
func (r AnswerResult) HasFollowUp() bool { return r.Question != "" && r.QuestionID != "" }

// FollowUp converts the embedded follow-up fields into a Question.
func (r AnswerResult) FollowUp(category string) Question {
	return Question{
		QuestionID:       r.QuestionID,
		Order:            r.QuestionOrder,
		Prompt:           r.Question,
		SoundFile:        r.SoundFile,
		ParentQuestionID: r.ParentQuestionID,
		Category:         category,
	}
}

// QuestionScore holds the six per-axis marks for one answered question.
type QuestionScore struct {
	Relevance    int `json:"relevance"`
	Clarity      int `json:"clarity"`
	Structure    int `json:"structure"`
	Depth        int `json:"depth"`
	Confidence   int `json:"confidence"`
	Authenticity int `json:"authenticity"`
}

// ReviewEntry is one question/answer pair with its scores and feedback.
type ReviewEntry struct {
	QuestionID string        `json:"question_id"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	Scores     QuestionScore `json:"scores"`
	Feedback   string        `json:"feedback"`
}

// Review is the full post-interview report.
type Review struct {
	InterviewID    string        `json:"interview_id"`
	Entries        []ReviewEntry `json:"questions"`
	AggregateScore float64       `json:"aggregate_score"`
	Feedback       string        `json:"feedback"`
}

// InterviewSummary is one row of the interview list.
type InterviewSummary struct {
	InterviewID string `json:"interview_id"`
	JobID       string `json:"job_id"`
	CreatedAt   string `json:"created_at"`
}

// APIError is a non-2xx response from the portal backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("portal: status=%d detail=%s", e.Status, e.Detail)
	}
	return fmt.Sprintf("portal: status=%d", e.Status)
}

// IsAuth reports whether the error is an authentication failure.
func (e *APIError) IsAuth() bool { return e.Status == 401 }
