package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request budgets per endpoint class. The AI-backed calls run long.
const (
	defaultTimeout = 30 * time.Second
	cultureTimeout = 120 * time.Second
	qgenTimeout    = 120 * time.Second
	answerTimeout  = 90 * time.Second
	reviewTimeout  = 120 * time.Second
	pollTimeout    = 10 * time.Second
)

// Client talks to the portal REST backend. All calls carry bearer-token
// authentication; a 401 fires OnAuthFailure exactly once and surfaces as an
// *APIError so the caller can drive its error state instead of crashing.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	// OnAuthFailure is invoked once on the first 401 (clear session, point the
	// user at login). Optional.
	OnAuthFailure func()

	logger   *zap.Logger
	authOnce sync.Once
}

// NewClient constructs a portal client.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
		Token:      token,
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("portal: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("portal request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("portal request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("portal: decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Detail = payload.Detail
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.authOnce.Do(func() {
			c.logger.Warn("portal authentication failed")
			if c.OnAuthFailure != nil {
				c.OnAuthFailure()
			}
		})
	}
	return apiErr
}

// GetCompany fetches the company record by id. A 404 maps to an *APIError
// with Status 404; the interview flow treats that as a fatal setup error.
func (c *Client) GetCompany(ctx context.Context, companyID string) (Company, error) {
	var out Company
	err := c.do(ctx, http.MethodGet, "/v1/company/"+companyID, defaultTimeout, nil, &out)
	return out, err
}

// CompanyCulture triggers generation of the company culture report.
func (c *Client) CompanyCulture(ctx context.Context, companyID string) error {
	return c.do(ctx, http.MethodGet, "/v1/company/culture/"+companyID, cultureTimeout, nil, nil)
}

// ConvertFile asks the backend to convert a stored resume between formats.
func (c *Client) ConvertFile(ctx context.Context, resumeID, sourceFormat, targetFormat string) error {
	body := map[string]string{
		"resume_id":     resumeID,
		"source_format": sourceFormat,
		"target_format": targetFormat,
	}
	return c.do(ctx, http.MethodPost, "/v1/convert/file", defaultTimeout, body, nil)
}

// CreateInterviewQuestions initiates asynchronous question-set generation.
func (c *Client) CreateInterviewQuestions(ctx context.Context, jobID, companyID string) (QuestionSet, error) {
	body := map[string]string{"job_id": jobID, "company_id": companyID}
	var out QuestionSet
	err := c.do(ctx, http.MethodPost, "/v1/interview/question", qgenTimeout, body, &out)
	return out, err
}

// PollProcess reports the state of a long-running backend process.
func (c *Client) PollProcess(ctx context.Context, processID string) (ProcessState, error) {
	var out struct {
		State ProcessState `json:"process_state"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/process/poll/"+processID, pollTimeout, nil, &out)
	return out.State, err
}

// QuestionList fetches the generated question list, in order.
func (c *Client) QuestionList(ctx context.Context, interviewID string) ([]Question, error) {
	var out []Question
	err := c.do(ctx, http.MethodGet, "/v1/interview/question/list/"+interviewID, defaultTimeout, nil, &out)
	return out, err
}

// QuestionAudio fetches the synthesized audio for a question, or for the
// response statement attached to it when statement is true.
func (c *Client) QuestionAudio(ctx context.Context, interviewID, questionID string, statement bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"interview_id": interviewID,
		"question_id":  questionID,
		"statement":    statement,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/interview/question/audio", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Transcribe uploads one recorded segment for speech-to-text. A transcription
// failure must never hard-fail the interview, so every error path resolves to
// an empty string; worst case the answer is recorded as silence.
func (c *Client) Transcribe(ctx context.Context, segment []byte, questionID string) string {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("upload_file", "recording.wav")
	if err != nil {
		return ""
	}
	if _, err := fw.Write(segment); err != nil {
		return ""
	}
	if err := mw.WriteField("question_id", questionID); err != nil {
		return ""
	}
	if err := mw.Close(); err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/interview/transcribe", &buf)
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("transcription request failed", zap.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		c.logger.Warn("transcription rejected", zap.Error(err))
		return ""
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("transcription decode failed", zap.Error(err))
		return ""
	}
	return out.Text
}

// SubmitAnswer sends the assembled answer text for scoring.
func (c *Client) SubmitAnswer(ctx context.Context, interviewID, questionID, answer string) (AnswerResult, error) {
	body := map[string]string{
		"interview_id": interviewID,
		"question_id":  questionID,
		"answer":       answer,
	}
	var out AnswerResult
	err := c.do(ctx, http.MethodPost, "/v1/interview/answer", answerTimeout, body, &out)
	return out, err
}

// Review fetches the full post-interview report.
func (c *Client) Review(ctx context.Context, interviewID string) (Review, error) {
	var out Review
	err := c.do(ctx, http.MethodGet, "/v1/interview/"+interviewID, reviewTimeout, nil, &out)
	return out, err
}

// InterviewList fetches the user's past interviews.
func (c *Client) InterviewList(ctx context.Context) ([]InterviewSummary, error) {
	var out []InterviewSummary
	err := c.do(ctx, http.MethodGet, "/v1/interview/list", defaultTimeout, nil, &out)
	return out, err
}
