package handlers

import (
	models "mentalmath/internal/models"
)

// StateView is the client-facing form of a session. While revealing only the
// current operand is shown; the full sequence and the correct answer appear
// once the answer has been scored.
type StateView struct {
	Operation         models.Operation `json:"operation,omitempty"`
	Symbol            string           `json:"symbol,omitempty"`
	Label             string           `json:"label,omitempty"`
	Phase             models.Phase     `json:"phase"`
	Round             int              `json:"round"`
	TotalRounds       int              `json:"totalRounds"`
	FinalRound        bool             `json:"finalRound"`
	OperandCount      int              `json:"operandCount"`
	RevealIndex       int              `json:"revealIndex"`
	CurrentOperand    *int             `json:"currentOperand,omitempty"`
	Operands          []int            `json:"operands,omitempty"`
	RevealIntervalMs  int              `json:"revealIntervalMs,omitempty"`
	AnswerText        string           `json:"answerText"`
	CorrectAnswer     *float64         `json:"correctAnswer,omitempty"`
	LastAnswerCorrect *bool            `json:"lastAnswerCorrect,omitempty"`
	Score             int              `json:"score"`
	Answered          int              `json:"answered"`
	Accuracy          int              `json:"accuracy"`
}

func NewStateView(st models.SessionState) StateView {
	v := StateView{
		Operation:         st.Operation,
		Symbol:            st.Operation.Symbol(),
		Label:             st.Operation.Label(),
		Phase:             st.Phase,
		TotalRounds:       st.TotalRounds,
		FinalRound:        st.IsFinalRound(),
		OperandCount:      len(st.Operands),
		RevealIndex:       st.RevealIndex,
		RevealIntervalMs:  st.RevealIntervalMs,
		AnswerText:        st.UserAnswerText,
		LastAnswerCorrect: st.LastAnswerCorrect,
		Score:             st.Score,
		Answered:          st.AnsweredCount,
		Accuracy:          st.Accuracy(),
	}
	if st.Active() {
		v.Round = st.CurrentRoundIndex + 1
	}
	if operand, ok := st.CurrentOperand(); ok {
		v.CurrentOperand = &operand
	}

	if st.Phase == models.PhaseShowingResult {
		v.Operands = append([]int(nil), st.Operands...)
		answer := st.CorrectAnswer
		v.CorrectAnswer = &answer
	}
	return v
}

type OperationView struct {
	Name   models.Operation `json:"name"`
	Symbol string           `json:"symbol"`
	Label  string           `json:"label"`
	Min    int              `json:"min"`
	Max    int              `json:"max"`
}
