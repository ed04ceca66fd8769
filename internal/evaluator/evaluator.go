// Package evaluator implements the stack machine that consumes a rule's
// postfix instruction stream and folds it through AND/OR to a final bool.
// Grounded on original_source/vm.py's __executor coroutine.
package evaluator

import (
	"context"
	"fmt"

	"github.com/podnet/rulevm/internal/instruction"
)

// entry is one evaluator-stack slot: either an already-folded bool or an
// operand instruction still awaiting lazy evaluation.
type entry struct {
	done  bool
	value bool
	ins   instruction.Instruction
}

// Evaluate runs postfix to completion against env, resolving operands
// through rc. Per §4.2: for each operator, pop two entries (evaluating any
// still-unevaluated operand now), fold through AND/OR, push the bool
// result; operands are pushed unevaluated. After the stream ends, the
// single remaining entry is evaluated if still an instruction.
func Evaluate(ctx context.Context, env *instruction.Env, rc instruction.RuleContext, postfix []instruction.Instruction) (bool, error) {
	stack := make([]entry, 0, len(postfix))

	for _, ins := range postfix {
		if !ins.IsOperator() {
			stack = append(stack, entry{ins: ins})
			continue
		}

		if len(stack) < 2 {
			return false, fmt.Errorf("evaluator: stack underflow folding %s", ins.Kind())
		}
		lhs := stack[len(stack)-2]
		rhs := stack[len(stack)-1]
		stack = stack[:len(stack)-2]

		lv, err := resolve(ctx, env, rc, lhs)
		if err != nil {
			return false, err
		}
		rv, err := resolve(ctx, env, rc, rhs)
		if err != nil {
			return false, err
		}

		var result bool
		switch ins.Kind() {
		case instruction.KindLogicalAnd:
			result = lv && rv
		case instruction.KindLogicalOr:
			result = lv || rv
		default:
			return false, fmt.Errorf("evaluator: %s is not a valid operator", ins.Kind())
		}
		stack = append(stack, entry{done: true, value: result})
	}

	if len(stack) != 1 {
		return false, fmt.Errorf("evaluator: stack has %d entries after evaluation, want 1", len(stack))
	}
	return resolve(ctx, env, rc, stack[0])
}

func resolve(ctx context.Context, env *instruction.Env, rc instruction.RuleContext, e entry) (bool, error) {
	if e.done {
		return e.value, nil
	}
	return e.ins.Evaluate(ctx, env, rc)
}
