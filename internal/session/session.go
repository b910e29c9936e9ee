package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
	"github.com/dwalbeck/job-track-now-portal/internal/config"
	"github.com/dwalbeck/job-track-now-portal/internal/portal"
	"github.com/dwalbeck/job-track-now-portal/internal/recorder"
	"github.com/dwalbeck/job-track-now-portal/internal/vad"
)

var (
	ErrCompanyNotFound   = errors.New("company record not found")
	ErrGenerationFailed  = errors.New("question generation failed")
	ErrGenerationTimeout = errors.New("question generation timed out")
	ErrNoQuestions       = errors.New("no interview questions were generated")
)

var (
	recoveryExit     = []string{"exit"}
	recoveryQuestion = []string{"retry", "skip", "end"}
)

const authExpiredMessage = "Your session has expired. Please sign in again."

// Session drives one mock interview end to end: preparation, mic test,
// question playback, answer recording, transcription, submission, and the
// scorer's spoken responses and follow-ups.
type Session struct {
	cfg     *config.Config
	backend Backend
	mic     Microphone
	player  Player
	logger  *zap.Logger

	jobID     string
	companyID string
	resumeID  string

	rec     *recorder.Recorder
	det     *vad.Detector
	silence *vad.SilenceConfirmer
	timers  *timerSet

	mu              sync.Mutex
	ctx             context.Context
	state           State
	prepStep        string
	interviewID     string
	questions       []portal.Question
	idx             int
	stream          *capture.Stream
	micDevice       string
	tracker         *transcriptTracker
	wasStopped      bool
	resumeRecording bool
	spectrum        []float64
	errMsg          string
	recovery        []string
	onChange        func(Snapshot)
}

// New wires the session's media pipeline. The output player is injected so
// the device layer stays out of the state machine.
func New(cfg *config.Config, backend Backend, mic Microphone, player Player, jobID, companyID, resumeID string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:       cfg,
		backend:   backend,
		mic:       mic,
		player:    player,
		logger:    logger,
		jobID:     jobID,
		companyID: companyID,
		resumeID:  resumeID,
		ctx:       context.Background(),
		state:     StatePreparing,
		timers:    newTimerSet(),
	}
	s.rec = recorder.New(cfg.SegmentCutEvery, cfg.RecordingCeiling, s.handleSegment, func() {
		s.finishRecording("ceiling")
	}, logger)
	s.silence = vad.NewSilenceConfirmer(cfg.SilenceWindow, func() {
		s.finishRecording("silence")
	})
	s.det = vad.NewDetector(cfg.VADThresholdDB, cfg.VADPollInterval, vad.Events{
		OnSpeaking: func() {
			if s.State() == StateRecording {
				s.silence.Speaking()
			}
		},
		OnStoppedSpeaking: func() {
			if s.State() == StateRecording {
				s.silence.StoppedSpeaking()
			}
		},
	}, logger)
	return s
}

// SetOnChange registers the snapshot listener. One listener, set before the
// session starts moving.
func (s *Session) SetOnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InterviewID returns the id assigned during preparation.
func (s *Session) InterviewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interviewID
}

// Questions returns a copy of the visit list, including inserted follow-ups.
func (s *Session) Questions() []portal.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]portal.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// transitionLocked moves the machine. The whole timer set and the silence
// window are cancelled first so nothing armed in the old state can fire into
// the new one. Caller holds s.mu.
func (s *Session) transitionLocked(to State) {
	s.timers.cancelAll()
	s.silence.Cancel()
	if to != StateReady {
		s.wasStopped = false
	}
	if to != StatePreparing {
		s.prepStep = ""
	}
	s.logger.Debug("session transition",
		zap.String("from", string(s.state)),
		zap.String("to", string(to)))
	s.state = to
}

// Prepare runs the setup pipeline: company check, culture research, resume
// conversion, question generation with polling, question load, mic access.
// Any failure is fatal and lands in StateError with a user-facing message.
func (s *Session) Prepare(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.transitionLocked(StatePreparing)
	s.mu.Unlock()
	s.notify()

	s.setStep("Checking company profile")
	if _, err := s.backend.GetCompany(ctx, s.companyID); err != nil {
		if isNotFound(err) {
			return s.failPrep("We couldn't find this company. Please re-add it and start over.", ErrCompanyNotFound)
		}
		return s.failPrep("Company lookup failed. Please try again later.", err)
	}

	s.setStep("Researching company culture")
	if err := s.backend.CompanyCulture(ctx, s.companyID); err != nil {
		return s.failPrep("Company research failed. Please try again later.", err)
	}

	s.setStep("Preparing your resume")
	if err := s.backend.ConvertFile(ctx, s.resumeID, "html", "md"); err != nil {
		return s.failPrep("Your resume could not be processed. Please try again later.", err)
	}

	s.setStep("Generating interview questions")
	set, err := s.backend.CreateInterviewQuestions(ctx, s.jobID, s.companyID)
	if err != nil {
		return s.failPrep("Interview questions could not be generated. Please try again later.", err)
	}
	s.mu.Lock()
	s.interviewID = set.InterviewID
	s.mu.Unlock()

	s.setStep("Waiting for your questions")
	if err := s.awaitQuestionGeneration(ctx, set.ProcessID); err != nil {
		return err
	}

	s.setStep("Loading questions")
	questions, err := s.backend.QuestionList(ctx, set.InterviewID)
	if err != nil {
		return s.failPrep("Interview questions could not be loaded. Please try again later.", err)
	}
	if len(questions) == 0 {
		return s.failPrep("No interview questions were generated. Please try again later.", ErrNoQuestions)
	}
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })

	s.setStep("Requesting microphone access")
	stream, device, err := s.mic.Acquire(ctx)
	if err != nil {
		return s.failPrep("Microphone access was denied. Please allow microphone access and restart the interview.", err)
	}
	s.det.Attach(stream)

	s.mu.Lock()
	s.stream = stream
	s.micDevice = device
	s.questions = questions
	s.idx = 0
	s.transitionLocked(StateMicTest)
	s.mu.Unlock()
	s.logger.Info("interview prepared",
		zap.String("interviewID", set.InterviewID),
		zap.Int("questions", len(questions)),
		zap.String("micDevice", device))
	s.notify()
	return nil
}

// awaitQuestionGeneration polls the generation process until it completes.
// The overall budget is a registry timer, so moving out of StatePreparing
// for any reason disarms it.
func (s *Session) awaitQuestionGeneration(ctx context.Context, processID string) error {
	s.timers.arm("generation_budget", s.cfg.ProcessPollBudget, func() {
		s.enterError("Question generation timed out. Please try again later.", recoveryExit)
	})

	t := time.NewTicker(s.cfg.ProcessPollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if s.State() != StatePreparing {
				return ErrGenerationTimeout
			}
			state, err := s.backend.PollProcess(ctx, processID)
			if err != nil {
				// Transient poll errors keep polling; the budget bounds them.
				s.logger.Warn("generation poll failed", zap.Error(err))
				continue
			}
			if state == portal.ProcessFailed {
				return s.failPrep("Question generation failed. Please try again later.", ErrGenerationFailed)
			}
			if state.Done() {
				// Disarm the budget now; the remaining setup steps are not
				// covered by it and must not be flipped into a timeout.
				s.timers.cancelAll()
				return nil
			}
		}
	}
}

func (s *Session) setStep(msg string) {
	s.mu.Lock()
	s.prepStep = msg
	s.mu.Unlock()
	s.logger.Info("preparation step", zap.String("step", msg))
	s.notify()
}

func (s *Session) failPrep(msg string, err error) error {
	s.logger.Error("preparation failed", zap.Error(err))
	s.enterError(msg, recoveryExit)
	return err
}

// enterError is absorbing until the user retries, skips, or exits. It
// releases the media the failed state held: playback resets, an in-flight
// recording bout stops, and its pending uploads are discarded.
func (s *Session) enterError(msg string, recovery []string) {
	s.player.Stop()
	s.mu.Lock()
	s.tracker = nil
	s.resumeRecording = false
	s.transitionLocked(StateError)
	s.errMsg = msg
	s.recovery = recovery
	s.mu.Unlock()
	s.rec.Stop()
	s.notify()
}

// AuthFailed is the portal client's 401 hook. It is fatal to the session.
func (s *Session) AuthFailed() {
	s.enterError(authExpiredMessage, recoveryExit)
}

// ConfirmMicTest accepts the level check and arms the first question.
func (s *Session) ConfirmMicTest() {
	s.mu.Lock()
	if s.state == StateMicTest {
		s.transitionLocked(StateReady)
	}
	s.mu.Unlock()
	s.notify()
}

// Play starts or resumes. From a paused playback it resumes audio and
// captions; from Ready after a mid-recording pause it opens a new recording
// bout keeping the answer text accumulated so far; from a fresh Ready it
// plays the current question.
func (s *Session) Play() {
	s.mu.Lock()
	st := s.state
	resume := s.resumeRecording
	s.mu.Unlock()

	switch {
	case (st == StatePlayingQuestion || st == StatePlayingResponse) && s.player.Paused():
		s.player.Resume()
		s.notify()
	case st == StateReady && resume:
		s.startRecording(true)
	case st == StateReady:
		s.playCurrentQuestion()
	}
}

func (s *Session) playCurrentQuestion() {
	s.mu.Lock()
	if s.idx >= len(s.questions) {
		s.mu.Unlock()
		s.complete()
		return
	}
	q := s.questions[s.idx]
	interviewID := s.interviewID
	ctx := s.ctx
	s.mu.Unlock()

	audio, err := s.backend.QuestionAudio(ctx, interviewID, q.QuestionID, false)
	if err != nil {
		if isAuth(err) {
			s.enterError(authExpiredMessage, recoveryExit)
			return
		}
		s.enterError("The question audio could not be loaded.", recoveryQuestion)
		return
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StatePlayingQuestion)
	s.mu.Unlock()
	s.notify()

	if err := s.player.Play(audio, q.Prompt); err != nil {
		s.enterError("Audio playback failed.", recoveryQuestion)
	}
}

// PlaybackFinished is the player's natural-end callback.
func (s *Session) PlaybackFinished() {
	switch s.State() {
	case StatePlayingQuestion:
		s.startRecording(false)
	case StatePlayingResponse:
		s.afterResponse()
	}
}

func (s *Session) startRecording(resume bool) {
	s.mu.Lock()
	if s.state != StatePlayingQuestion && s.state != StateReady {
		s.mu.Unlock()
		return
	}
	if !resume || s.tracker == nil {
		s.tracker = newTranscriptTracker()
	}
	s.resumeRecording = false
	stream := s.stream
	s.transitionLocked(StateRecording)
	s.mu.Unlock()

	if err := s.rec.Start(stream); err != nil {
		s.logger.Error("recording start failed", zap.Error(err))
		s.enterError("Recording could not start. Check your microphone and retry.", recoveryQuestion)
		return
	}
	s.notify()
}

// handleSegment receives finalized WAV segments in capture order and uploads
// each for transcription. The slot is reserved synchronously so the answer
// reassembles in order regardless of upload timing.
func (s *Session) handleSegment(seg recorder.Segment) {
	s.mu.Lock()
	tr := s.tracker
	ctx := s.ctx
	var qid string
	if s.idx < len(s.questions) {
		qid = s.questions[s.idx].QuestionID
	}
	s.mu.Unlock()
	if tr == nil || qid == "" {
		return
	}
	slot := tr.reserve()
	go func() {
		tr.complete(slot, s.backend.Transcribe(ctx, seg.WAV, qid))
	}()
}

// StopRecording ends the answer now instead of waiting for silence.
func (s *Session) StopRecording() {
	s.finishRecording("manual")
}

// finishRecording is the single exit from StateRecording. Silence detection,
// the recording ceiling, and the manual stop all land here; the state check
// under the lock makes the stop run exactly once per bout.
func (s *Session) finishRecording(reason string) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(StateProcessing)
	tr := s.tracker
	q := s.questions[s.idx]
	interviewID := s.interviewID
	ctx := s.ctx
	s.mu.Unlock()
	s.logger.Info("answer recording finished", zap.String("reason", reason), zap.String("questionID", q.QuestionID))
	s.notify()

	s.rec.Stop()
	answer := tr.await()

	// The waits above can outlive the session: Exit or a fatal error may have
	// moved the machine while transcriptions were in flight. Drop the
	// continuation instead of resurrecting a finished session.
	s.mu.Lock()
	if s.state != StateProcessing {
		s.mu.Unlock()
		return
	}
	if s.idx < len(s.questions) {
		s.questions[s.idx].Answer = answer
	}
	s.tracker = nil
	s.mu.Unlock()

	res, err := s.backend.SubmitAnswer(ctx, interviewID, q.QuestionID, answer)
	if s.State() != StateProcessing {
		return
	}
	if err != nil {
		if isAuth(err) {
			s.enterError(authExpiredMessage, recoveryExit)
			return
		}
		// Losing one answer beats stalling the interview.
		s.logger.Warn("answer submission failed, advancing", zap.Error(err))
		s.advance()
		return
	}

	if res.HasFollowUp() {
		s.mu.Lock()
		s.insertFollowUpLocked(res.FollowUp(q.Category))
		s.mu.Unlock()
		s.logger.Info("follow-up question inserted", zap.String("parentID", q.QuestionID))
	}

	if res.ResponseStatement != "" {
		audio, aerr := s.backend.QuestionAudio(ctx, interviewID, q.QuestionID, true)
		if aerr == nil {
			s.mu.Lock()
			if s.state != StateProcessing {
				s.mu.Unlock()
				return
			}
			s.transitionLocked(StatePlayingResponse)
			s.mu.Unlock()
			s.notify()
			if perr := s.player.Play(audio, res.ResponseStatement); perr == nil {
				return
			}
			s.logger.Warn("response playback failed, advancing")
		} else {
			s.logger.Warn("response audio fetch failed, advancing", zap.Error(aerr))
		}
	}
	s.advance()
}

// insertFollowUpLocked places the follow-up immediately after the question
// that produced it, located by id rather than slice position.
func (s *Session) insertFollowUpLocked(fu portal.Question) {
	pos := s.idx
	if s.idx < len(s.questions) {
		cur := s.questions[s.idx].QuestionID
		for i, q := range s.questions {
			if q.QuestionID == cur {
				pos = i
				break
			}
		}
	}
	rest := append([]portal.Question{fu}, s.questions[pos+1:]...)
	s.questions = append(s.questions[:pos+1], rest...)
}

func (s *Session) afterResponse() {
	s.mu.Lock()
	if s.state != StatePlayingResponse {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.advance()
}

// advance moves to the next question in the visit list. The index only ever
// moves forward. Past the end the interview completes. Only the states that
// legitimately feed it may advance; a stale continuation from a completed or
// reset session is dropped.
func (s *Session) advance() {
	s.mu.Lock()
	if s.state != StateProcessing && s.state != StatePlayingResponse && s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.idx++
	if s.idx >= len(s.questions) {
		s.mu.Unlock()
		s.complete()
		return
	}
	s.transitionLocked(StateReady)
	s.mu.Unlock()
	s.notify()
	s.playCurrentQuestion()
}

// Pause freezes playback in place, or if recording, stops and flushes the
// bout keeping the transcriptions gathered so far.
func (s *Session) Pause() {
	s.mu.Lock()
	st := s.state
	if st == StateRecording {
		s.resumeRecording = true
		s.transitionLocked(StateReady)
		s.mu.Unlock()
		s.rec.Stop()
		s.notify()
		return
	}
	s.mu.Unlock()
	if st == StatePlayingQuestion || st == StatePlayingResponse {
		s.player.Pause()
		s.notify()
	}
}

// Stop abandons the current attempt: playback resets, an in-flight recording
// is discarded without submitting, and the session returns to Ready with the
// stopped flag set.
func (s *Session) Stop() {
	s.mu.Lock()
	st := s.state
	switch st {
	case StateRecording:
		s.tracker = nil
		s.resumeRecording = false
		s.transitionLocked(StateReady)
		s.wasStopped = true
		s.mu.Unlock()
		s.rec.Stop()
		s.notify()
	case StatePlayingQuestion, StatePlayingResponse:
		s.transitionLocked(StateReady)
		s.wasStopped = true
		s.mu.Unlock()
		s.player.Stop()
		s.notify()
	default:
		s.mu.Unlock()
	}
}

// Exit abandons the interview entirely. Nothing is submitted for the
// in-flight question.
func (s *Session) Exit() {
	s.mu.Lock()
	s.tracker = nil
	s.transitionLocked(StateCompleted)
	s.mu.Unlock()
	s.teardown()
	s.notify()
}

// RetryQuestion leaves the error state and re-arms the same question.
func (s *Session) RetryQuestion() {
	s.mu.Lock()
	if s.state == StateError {
		s.errMsg = ""
		s.recovery = nil
		s.transitionLocked(StateReady)
	}
	s.mu.Unlock()
	s.notify()
}

// SkipQuestion leaves the error state past the question that failed.
func (s *Session) SkipQuestion() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.errMsg = ""
	s.recovery = nil
	s.mu.Unlock()
	s.advance()
}

// EndAndReview finishes the session and fetches the scored report.
func (s *Session) EndAndReview(ctx context.Context) (portal.Review, error) {
	s.mu.Lock()
	interviewID := s.interviewID
	done := s.state == StateCompleted
	if !done {
		s.transitionLocked(StateCompleted)
	}
	s.mu.Unlock()
	if !done {
		s.teardown()
		s.notify()
	}
	return s.backend.Review(ctx, interviewID)
}

func (s *Session) complete() {
	s.mu.Lock()
	s.transitionLocked(StateCompleted)
	s.mu.Unlock()
	s.logger.Info("interview completed")
	s.teardown()
	s.notify()
}

func (s *Session) teardown() {
	s.rec.Stop()
	s.det.Detach()
	s.player.Stop()
	s.mic.Release()
	s.mu.Lock()
	s.stream = nil
	s.mu.Unlock()
}

// UpdateSpectrum stores the latest visualizer bars from the player.
func (s *Session) UpdateSpectrum(bars []float64) {
	s.mu.Lock()
	s.spectrum = bars
	s.mu.Unlock()
	s.notify()
}

// CaptionChanged pushes a snapshot when the player reveals a word.
func (s *Session) CaptionChanged() {
	s.notify()
}

// Snapshot projects the session for the view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:           s.state,
		PrepStep:        s.prepStep,
		QuestionLabel:   s.questionLabelLocked(),
		QuestionIndex:   s.idx,
		QuestionCount:   len(s.questions),
		WasStopped:      s.wasStopped,
		ResumeRecording: s.resumeRecording,
		MicDevice:       s.micDevice,
		Spectrum:        s.spectrum,
		Error:           s.errMsg,
		Recovery:        s.recovery,
	}
	s.mu.Unlock()
	snap.Caption = s.player.Caption()
	snap.Paused = s.player.Paused()
	snap.Playing = s.player.Playing() && !snap.Paused
	snap.MicLevel = s.det.Level()
	return snap
}

// questionLabelLocked renders "Question N" counting main questions only, or
// "Follow-up to Question N" for inserted follow-ups.
func (s *Session) questionLabelLocked() string {
	if s.idx >= len(s.questions) {
		return ""
	}
	main := 0
	for i := 0; i <= s.idx; i++ {
		if !s.questions[i].IsFollowUp() {
			main++
		}
	}
	if s.questions[s.idx].IsFollowUp() {
		return fmt.Sprintf("Follow-up to Question %d", main)
	}
	return fmt.Sprintf("Question %d", main)
}

func (s *Session) notify() {
	s.mu.Lock()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(s.Snapshot())
	}
}

func isNotFound(err error) bool {
	var apiErr *portal.APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

func isAuth(err error) bool {
	var apiErr *portal.APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}
