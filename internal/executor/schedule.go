package executor

import (
	"fmt"

	"github.com/ZanzyTHEbar/stepwise"
)

// orderSteps returns the indices of steps in the order they will run.
func orderSteps(steps []stepwise.ToolCall, mode stepwise.Scheduling) ([]int, error) {
	switch mode {
	case "", stepwise.ScheduleListOrder:
		order := make([]int, len(steps))
		for i := range steps {
			order[i] = i
		}
		return order, nil
	case stepwise.ScheduleDependsOn:
		return dependencyOrder(steps)
	}
	return nil, stepwise.NewValidationError("scheduling", fmt.Sprintf("unknown scheduling mode %q", mode), nil)
}

// dependencyOrder sorts steps so every step runs after the steps producing the
// result names in its depends_on. Among independent steps list order is kept.
// A name produced by several steps depends on all of them.
func dependencyOrder(steps []stepwise.ToolCall) ([]int, error) {
	producers := make(map[string][]int, len(steps))
	for i, step := range steps {
		producers[step.ResultName] = append(producers[step.ResultName], i)
	}

	deps := make([][]int, len(steps))
	for i, step := range steps {
		for _, name := range step.DependsOn {
			idx, ok := producers[name]
			if !ok {
				return nil, stepwise.NewValidationError("scheduling",
					fmt.Sprintf("step '%s' depends on unknown result '%s'", step.ResultName, name), nil).AtStep(i, step.ResultName)
			}
			for _, j := range idx {
				if j != i {
					deps[i] = append(deps[i], j)
				}
			}
		}
	}

	// Depth-first post-order; stack marks the current path for cycle detection.
	visited := make([]bool, len(steps))
	stack := make([]bool, len(steps))
	order := make([]int, 0, len(steps))
	var visit func(i int) error
	visit = func(i int) error {
		if stack[i] {
			return stepwise.NewValidationError("scheduling",
				fmt.Sprintf("dependency cycle at step '%s'", steps[i].ResultName), nil).AtStep(i, steps[i].ResultName)
		}
		if visited[i] {
			return nil
		}
		visited[i] = true
		stack[i] = true
		for _, j := range deps[i] {
			if err := visit(j); err != nil {
				return err
			}
		}
		stack[i] = false
		order = append(order, i)
		return nil
	}
	for i := range steps {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}
