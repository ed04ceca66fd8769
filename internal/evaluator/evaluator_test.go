package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/podnet/rulevm/internal/instruction"
)

// fakeOperand is a scripted operand instruction for exercising the
// evaluator's stack machine without going through a real opcode.
type fakeOperand struct {
	result bool
	err    error
	calls  *int
}

func (f *fakeOperand) Kind() instruction.Kind               { return "FAKE_OPERAND" }
func (f *fakeOperand) IsOperator() bool                     { return false }
func (f *fakeOperand) DeviceID() (string, bool)             { return "", false }
func (f *fakeOperand) ConditionIndex() int                  { return 0 }
func (f *fakeOperand) Evaluate(context.Context, *instruction.Env, instruction.RuleContext) (bool, error) {
	if f.calls != nil {
		*f.calls++
	}
	return f.result, f.err
}

func op(result bool) *fakeOperand { return &fakeOperand{result: result} }

func TestEvaluateSingleOperand(t *testing.T) {
	result, err := Evaluate(context.Background(), &instruction.Env{}, nil, []instruction.Instruction{op(true)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result {
		t.Error("expected true for a single true operand")
	}
}

func TestEvaluateAndFold(t *testing.T) {
	postfix := []instruction.Instruction{op(true), op(false), instruction.NewLogicalAnd(2)}
	result, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result {
		t.Error("expected true AND false to fold to false")
	}
}

func TestEvaluateOrFold(t *testing.T) {
	postfix := []instruction.Instruction{op(false), op(true), instruction.NewLogicalOr(2)}
	result, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result {
		t.Error("expected false OR true to fold to true")
	}
}

func TestEvaluateChainedOperators(t *testing.T) {
	// a AND b OR c, postfix: a b AND c OR
	postfix := []instruction.Instruction{
		op(true), op(false), instruction.NewLogicalAnd(2),
		op(true), instruction.NewLogicalOr(3),
	}
	result, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result {
		t.Error("expected (true AND false) OR true to fold to true")
	}
}

func TestEvaluateOperandsAreLazy(t *testing.T) {
	calls := 0
	lhs := &fakeOperand{result: false, calls: &calls}
	rhs := &fakeOperand{result: true, calls: &calls}
	postfix := []instruction.Instruction{lhs, rhs, instruction.NewLogicalAnd(2)}

	if _, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if calls != 2 {
		t.Errorf("each operand should be evaluated exactly once lazily during the fold, got %d calls", calls)
	}
}

func TestEvaluatePropagatesOperandError(t *testing.T) {
	boom := errors.New("boom")
	postfix := []instruction.Instruction{&fakeOperand{err: boom}}
	_, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix)
	if !errors.Is(err, boom) {
		t.Errorf("expected operand error to propagate, got %v", err)
	}
}

func TestEvaluateStackUnderflow(t *testing.T) {
	postfix := []instruction.Instruction{op(true), instruction.NewLogicalAnd(1)}
	if _, err := Evaluate(context.Background(), &instruction.Env{}, nil, postfix); err == nil {
		t.Fatal("expected a stack-underflow error with only one operand and one operator")
	}
}

func TestEvaluateEmptyPostfix(t *testing.T) {
	if _, err := Evaluate(context.Background(), &instruction.Env{}, nil, nil); err == nil {
		t.Fatal("expected an error for an empty postfix stream (0 entries, want 1)")
	}
}
