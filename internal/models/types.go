package models

import (
	"math"
	"slices"
	"time"

	constants "mentalmath/internal/constants"
)

type Operation string

const (
	OperationAdd      Operation = "add"
	OperationSubtract Operation = "subtract"
	OperationMultiply Operation = "multiply"
	OperationDivide   Operation = "divide"
)

// Operations lists every operation in menu order.
var Operations = []Operation{OperationAdd, OperationSubtract, OperationMultiply, OperationDivide}

func (o Operation) Valid() bool {
	return slices.Contains(Operations, o)
}

func (o Operation) Symbol() string {
	switch o {
	case OperationAdd:
		return "+"
	case OperationSubtract:
		return "-"
	case OperationMultiply:
		return "×"
	case OperationDivide:
		return "÷"
	}
	return ""
}

func (o Operation) Label() string {
	switch o {
	case OperationAdd:
		return "Addition"
	case OperationSubtract:
		return "Subtraction"
	case OperationMultiply:
		return "Multiplication"
	case OperationDivide:
		return "Division"
	}
	return ""
}

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseRevealing      Phase = "revealing"
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseShowingResult  Phase = "showing_result"
)

type Settings struct {
	TotalQuestions   int `json:"totalQuestions"`
	RevealIntervalMs int `json:"revealIntervalMs"`
}

func DefaultSettings() Settings {
	return Settings{
		TotalQuestions:   constants.DefaultTotalQuestions,
		RevealIntervalMs: int(constants.DefaultRevealInterval / time.Millisecond),
	}
}

// Clamp pulls both fields into range and snaps the interval to the nearest step.
func (s Settings) Clamp() Settings {
	minMs := int(constants.MinRevealInterval / time.Millisecond)
	maxMs := int(constants.MaxRevealInterval / time.Millisecond)
	step := int(constants.RevealIntervalStep / time.Millisecond)

	ms := int(math.Round(float64(s.RevealIntervalMs)/float64(step))) * step
	return Settings{
		TotalQuestions:   min(max(s.TotalQuestions, constants.MinTotalQuestions), constants.MaxTotalQuestions),
		RevealIntervalMs: min(max(ms, minMs), maxMs),
	}
}

func (s Settings) RevealInterval() time.Duration {
	return time.Duration(s.RevealIntervalMs) * time.Millisecond
}

// SessionState is the full state of one drill session. An empty Operation
// means no session is running.
type SessionState struct {
	Operation         Operation `json:"operation,omitempty"`
	CurrentRoundIndex int       `json:"currentRoundIndex"`
	TotalRounds       int       `json:"totalRounds"`
	Operands          []int     `json:"operands"`
	RevealIndex       int       `json:"revealIndex"`
	Phase             Phase     `json:"phase"`
	UserAnswerText    string    `json:"userAnswerText"`
	CorrectAnswer     float64   `json:"correctAnswer"`
	LastAnswerCorrect *bool     `json:"lastAnswerCorrect,omitempty"`
	Score             int       `json:"score"`
	AnsweredCount     int       `json:"answeredCount"`
	RevealIntervalMs  int       `json:"revealIntervalMs"`
}

func (s SessionState) Active() bool {
	return s.Operation != ""
}

// Accuracy is the rounded percentage of correct answers, 0 before any answer.
func (s SessionState) Accuracy() int {
	if s.AnsweredCount == 0 {
		return 0
	}
	return int(math.Round(float64(s.Score) / float64(s.AnsweredCount) * 100))
}

func (s SessionState) IsFinalRound() bool {
	return s.Active() && s.CurrentRoundIndex+1 >= s.TotalRounds
}

// CurrentOperand is the operand on display while revealing.
func (s SessionState) CurrentOperand() (int, bool) {
	if s.Phase != PhaseRevealing || s.RevealIndex < 0 || s.RevealIndex >= len(s.Operands) {
		return 0, false
	}
	return s.Operands[s.RevealIndex], true
}

// Clone returns a copy that shares no memory with s.
func (s SessionState) Clone() SessionState {
	out := s
	out.Operands = slices.Clone(s.Operands)
	if s.LastAnswerCorrect != nil {
		v := *s.LastAnswerCorrect
		out.LastAnswerCorrect = &v
	}
	return out
}
