package problem

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/samber/lo"
	constants "mentalmath/internal/constants"
	models "mentalmath/internal/models"
	util "mentalmath/internal/util"
)

var ErrInvalidInput = errors.New("invalid input")

// Source yields uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

type cryptoSource struct{}

func (cryptoSource) IntN(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		util.LogWarn("Error generating random number: %v, using fallback", err)
		return 0
	}
	return int(v.Int64())
}

// Round is one operand sequence and the answer it folds to.
type Round struct {
	Operands      []int
	CorrectAnswer float64
}

type Generator struct {
	src Source
}

// NewGenerator returns a Generator drawing from src, or from crypto/rand when src is nil.
func NewGenerator(src Source) *Generator {
	if src == nil {
		src = cryptoSource{}
	}
	return &Generator{src: src}
}

// OperandMax is the inclusive upper bound of operands for op. The lower bound is 1.
func OperandMax(op models.Operation) int {
	switch op {
	case models.OperationDivide:
		return constants.MaxOperandDivide
	case models.OperationMultiply:
		return constants.MaxOperandMultiply
	default:
		return constants.MaxOperandAddSub
	}
}

// GenerateOperands draws count operands for op. count is raised to 1 if smaller.
func (g *Generator) GenerateOperands(op models.Operation, count int) []int {
	count = max(count, 1)
	upper := OperandMax(op)
	return lo.Times(count, func(_ int) int {
		return g.src.IntN(upper) + 1
	})
}

func (g *Generator) NewRound(op models.Operation, count int) (Round, error) {
	operands := g.GenerateOperands(op, count)
	answer, err := ComputeAnswer(operands, op)
	if err != nil {
		return Round{}, err
	}
	return Round{Operands: operands, CorrectAnswer: answer}, nil
}

// ComputeAnswer folds operands left to right with op. Division rounds every
// intermediate quotient to two decimals and the result is always rounded to
// two decimals. A zero divisor yields an infinity or NaN.
func ComputeAnswer(operands []int, op models.Operation) (float64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("compute answer: unknown operation %q: %w", op, ErrInvalidInput)
	}
	if len(operands) == 0 {
		return 0, fmt.Errorf("compute answer: no operands: %w", ErrInvalidInput)
	}

	result := float64(operands[0])
	for _, n := range operands[1:] {
		v := float64(n)
		switch op {
		case models.OperationAdd:
			result += v
		case models.OperationSubtract:
			result -= v
		case models.OperationMultiply:
			result *= v
		case models.OperationDivide:
			result = Round2(result / v)
		}
	}
	return Round2(result), nil
}

// Round2 rounds to two decimals, halves toward positive infinity.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// FormatAnswer renders an answer the way a user would type it.
func FormatAnswer(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseOperation accepts the wire name, the label or the symbol of an operation.
func ParseOperation(s string) (models.Operation, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch key {
	case "+", "plus":
		return models.OperationAdd, nil
	case "-", "minus":
		return models.OperationSubtract, nil
	case "*", "x", "×", "times":
		return models.OperationMultiply, nil
	case "/", "÷":
		return models.OperationDivide, nil
	}
	for _, op := range models.Operations {
		if key == string(op) || key == strings.ToLower(op.Label()) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q: %w", s, ErrInvalidInput)
}
