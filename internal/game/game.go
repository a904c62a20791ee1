package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	constants "mentalmath/internal/constants"
	models "mentalmath/internal/models"
	problem "mentalmath/internal/problem"
	util "mentalmath/internal/util"
)

// ErrInvalidTransition is returned when an action does not apply to the
// current phase. The session is left untouched.
var ErrInvalidTransition = errors.New("invalid transition")

type RoundSource interface {
	NewRound(op models.Operation, count int) (problem.Round, error)
}

// Recorder observes session milestones.
type Recorder interface {
	SessionStarted(op models.Operation)
	AnswerScored(op models.Operation, correct bool)
	SessionCompleted(op models.Operation, score, answered int)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(models.Operation) {}
func (nopRecorder) AnswerScored(models.Operation, bool) {}
func (nopRecorder) SessionCompleted(models.Operation, int, int) {}

type Options struct {
	ID            string
	Clock         Clock
	Rounds        RoundSource
	Recorder      Recorder
	ResultDisplay time.Duration
}

// Session is the drill state machine. Every transition runs under mu, and
// at most one timer is pending at a time.
type Session struct {
	mu sync.Mutex

	id            string
	clock         Clock
	rounds        RoundSource
	recorder      Recorder
	resultDisplay time.Duration

	settings models.Settings
	state    models.SessionState

	timer    Timer
	timerGen uint64

	subs   map[chan models.SessionState]struct{}
	closed bool
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.Rounds == nil {
		opts.Rounds = problem.NewGenerator(nil)
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.ResultDisplay <= 0 {
		opts.ResultDisplay = constants.DefaultResultDisplay
	}
	s := &Session{
		id:            opts.ID,
		clock:         opts.Clock,
		rounds:        opts.Rounds,
		recorder:      opts.Recorder,
		resultDisplay: opts.ResultDisplay,
		settings:      models.DefaultSettings(),
		subs:          make(map[chan models.SessionState]struct{}),
	}
	s.clearRound()
	return s
}

func (s *Session) ID() string {
	return s.id
}

// State returns a snapshot of the session.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Settings returns the settings of the running or most recent session.
func (s *Session) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Start begins a session from Idle. Settings are clamped into range.
func (s *Session) Start(ctx context.Context, op models.Operation, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("start"); err != nil {
		return err
	}
	if s.state.Phase != models.PhaseIdle {
		util.LogWarnCtx(ctx, "Session %s start ignored in phase %s", s.id, s.state.Phase)
		return fmt.Errorf("start in phase %s: %w", s.state.Phase, ErrInvalidTransition)
	}
	return s.startLocked(ctx, op, settings)
}

// Restart aborts whatever is running and starts a new session in one step.
func (s *Session) Restart(ctx context.Context, op models.Operation, settings models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("restart"); err != nil {
		return err
	}
	if !op.Valid() {
		return fmt.Errorf("restart: unknown operation %q: %w", op, problem.ErrInvalidInput)
	}
	s.resetLocked()
	return s.startLocked(ctx, op, settings)
}

func (s *Session) startLocked(ctx context.Context, op models.Operation, settings models.Settings) error {
	if !op.Valid() {
		return fmt.Errorf("start: unknown operation %q: %w", op, problem.ErrInvalidInput)
	}
	settings = settings.Clamp()
	round, err := s.rounds.NewRound(op, settings.TotalQuestions)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	s.settings = settings
	s.state = models.SessionState{
		Operation:         op,
		CurrentRoundIndex: 0,
		TotalRounds:       settings.TotalQuestions,
		Operands:          round.Operands,
		RevealIndex:       0,
		CorrectAnswer:     round.CorrectAnswer,
		Score:             0,
		AnsweredCount:     0,
		RevealIntervalMs:  settings.RevealIntervalMs,
	}
	s.enter(models.PhaseRevealing)
	s.recorder.SessionStarted(op)
	util.LogInfoCtx(ctx, "Session %s started %s: %d rounds, reveal every %v", s.id, op, settings.TotalQuestions, settings.RevealInterval())
	s.publish()
	return nil
}

// SetAnswerText replaces the answer buffer verbatim.
func (s *Session) SetAnswerText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("set answer"); err != nil {
		return err
	}
	if s.state.Phase != models.PhaseAwaitingAnswer {
		return fmt.Errorf("set answer in phase %s: %w", s.state.Phase, ErrInvalidTransition)
	}
	s.state.UserAnswerText = text
	s.publish()
	return nil
}

// SubmitAnswer scores the answer buffer and shows the result. Text that does
// not parse as a number scores as wrong.
func (s *Session) SubmitAnswer(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen("submit"); err != nil {
		return false, err
	}
	if s.state.Phase != models.PhaseAwaitingAnswer {
		return false, fmt.Errorf("submit in phase %s: %w", s.state.Phase, ErrInvalidTransition)
	}
	text := strings.TrimSpace(s.state.UserAnswerText)
	if text == "" {
		return false, fmt.Errorf("submit with empty answer: %w", ErrInvalidTransition)
	}

	correct := IsCorrect(text, s.state.CorrectAnswer)
	s.state.AnsweredCount++
	if correct {
		s.state.Score++
	}
	s.state.LastAnswerCorrect = &correct
	s.enter(models.PhaseShowingResult)
	s.recorder.AnswerScored(s.state.Operation, correct)
	util.LogInfoCtx(ctx, "Session %s round %d/%d answered %q (correct answer %v): correct=%v",
		s.id, s.state.CurrentRoundIndex+1, s.state.TotalRounds, text, s.state.CorrectAnswer, correct)
	s.publish()
	return correct, nil
}

// decimalPrefix matches a leading plain decimal number. Hex, infinities and
// NaN are not decimals.
var decimalPrefix = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// ParseDecimal reads the leading decimal number of text and ignores whatever
// follows it, so "8abc" reads as 8 and "0x1p3" as 0.
func ParseDecimal(text string) (float64, bool) {
	match := decimalPrefix.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsCorrect parses text with ParseDecimal and compares it to answer within
// constants.AnswerTolerance. Text with no leading decimal is wrong.
func IsCorrect(text string, answer float64) bool {
	parsed, ok := ParseDecimal(text)
	if !ok {
		return false
	}
	return math.Abs(parsed-answer) < constants.AnswerTolerance
}

// Reset cancels any pending timer and returns to Idle. Score and answered
// count are kept until the next Start.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.state.Phase != models.PhaseIdle {
		util.LogInfoCtx(ctx, "Session %s reset from phase %s", s.id, s.state.Phase)
	}
	s.resetLocked()
	s.publish()
}

func (s *Session) resetLocked() {
	s.enter(models.PhaseIdle)
	s.clearRound()
}

// Subscribe streams snapshots, starting with the current one. A slow reader
// only ever sees the latest snapshot. The channel is closed by the returned
// cancel func or by Close.
func (s *Session) Subscribe() (<-chan models.SessionState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan models.SessionState, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.state.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Close cancels the pending timer and ends every subscription. Later calls
// on the session are rejected.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancelTimer()
	for ch := range s.subs {
		close(ch)
	}
	clear(s.subs)
}

func (s *Session) checkOpen(action string) error {
	if s.closed {
		return fmt.Errorf("%s on closed session: %w", action, ErrInvalidTransition)
	}
	return nil
}

// enter is the only place phase changes. It cancels the outstanding timer
// and arms the one the new phase needs.
func (s *Session) enter(phase models.Phase) {
	s.cancelTimer()
	s.state.Phase = phase

	switch phase {
	case models.PhaseRevealing:
		s.schedule(s.settings.RevealInterval(), s.onRevealTick)
	case models.PhaseShowingResult:
		s.schedule(s.resultDisplay, s.onResultTimer)
	}
}

func (s *Session) schedule(d time.Duration, fn func()) {
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.timerGen {
			return
		}
		s.timer = nil
		fn()
		s.publish()
	})
}

func (s *Session) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) onRevealTick() {
	if s.state.Phase != models.PhaseRevealing {
		return
	}
	if s.state.RevealIndex < len(s.state.Operands)-1 {
		s.state.RevealIndex++
		s.enter(models.PhaseRevealing)
		return
	}
	s.state.RevealIndex = len(s.state.Operands)
	s.enter(models.PhaseAwaitingAnswer)
}

func (s *Session) onResultTimer() {
	if s.state.Phase != models.PhaseShowingResult {
		return
	}
	if s.state.CurrentRoundIndex+1 < s.state.TotalRounds {
		round, err := s.rounds.NewRound(s.state.Operation, s.settings.TotalQuestions)
		if err == nil {
			s.state.CurrentRoundIndex++
			s.state.Operands = round.Operands
			s.state.CorrectAnswer = round.CorrectAnswer
			s.state.RevealIndex = 0
			s.state.UserAnswerText = ""
			s.state.LastAnswerCorrect = nil
			s.enter(models.PhaseRevealing)
			return
		}
		util.LogWarn("Session %s could not generate round %d, ending session: %v", s.id, s.state.CurrentRoundIndex+2, err)
	}

	op := s.state.Operation
	s.resetLocked()
	s.recorder.SessionCompleted(op, s.state.Score, s.state.AnsweredCount)
	util.LogInfo("Session %s completed %s: score %d/%d", s.id, op, s.state.Score, s.state.AnsweredCount)
}

// clearRound drops everything round-specific and leaves Score and AnsweredCount.
func (s *Session) clearRound() {
	s.state.Operation = ""
	s.state.CurrentRoundIndex = 0
	s.state.TotalRounds = 0
	s.state.Operands = nil
	s.state.RevealIndex = -1
	s.state.Phase = models.PhaseIdle
	s.state.UserAnswerText = ""
	s.state.CorrectAnswer = 0
	s.state.LastAnswerCorrect = nil
	s.state.RevealIntervalMs = 0
}

func (s *Session) publish() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.state.Clone()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
