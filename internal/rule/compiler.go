package rule

import (
	"github.com/podnet/rulevm/internal/action"
	"github.com/podnet/rulevm/internal/instruction"
	"github.com/podnet/rulevm/internal/store"
)

// compilePostfix builds each condition entry's instruction, converts the
// resulting left-associative, equal-precedence, no-parens sequence to
// postfix, and collects dependent_devices by walking it. Grounded on
// original_source/rule.py's parse_conditions + infix_to_postfix +
// determine_device_dependencies.
func compilePostfix(entries []store.ConditionEntry) ([]instruction.Instruction, map[string]bool, error) {
	items := make([]instruction.Instruction, 0, len(entries))
	for i, entry := range entries {
		ins, err := instruction.Build(i, entry)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, ins)
	}

	postfix := infixToPostfix(items)

	devices := make(map[string]bool)
	for _, ins := range postfix {
		if id, ok := ins.DeviceID(); ok {
			devices[id] = true
		}
	}

	return postfix, devices, nil
}

// infixToPostfix converts a flat, left-associative, equal-precedence,
// parenthesis-free sequence of operands and LOGICAL_AND/LOGICAL_OR
// operators to postfix order. Ported verbatim from
// original_source/rule.py's infix_to_postfix: push the current operator to
// the (single-slot) auxiliary stack only if it's empty; otherwise pop the
// previous operator to the output and replace it on the stack. Operands
// emit straight to output. Drain the stack to output once the input is
// consumed.
func infixToPostfix(items []instruction.Instruction) []instruction.Instruction {
	output := make([]instruction.Instruction, 0, len(items))
	var opStack []instruction.Instruction

	for _, it := range items {
		if it.IsOperator() {
			if len(opStack) == 0 {
				opStack = append(opStack, it)
			} else {
				output = append(output, opStack[len(opStack)-1])
				opStack[len(opStack)-1] = it
			}
			continue
		}
		output = append(output, it)
	}

	output = append(output, opStack...)
	return output
}

// compileActions builds each action entry's Action via its own opcode
// table, identically to compilePostfix's instruction compilation.
func compileActions(entries []store.ActionEntry) ([]action.Action, error) {
	actions := make([]action.Action, 0, len(entries))
	for _, entry := range entries {
		act, err := action.Build(entry)
		if err != nil {
			return nil, err
		}
		actions = append(actions, act)
	}
	return actions, nil
}
