package workflow

import (
	"fmt"

	"github.com/relaywork/relay/pkg/errors"
)

// validateStepGraph checks the depends_on edges across steps for dangling
// references and cycles, using Kahn's algorithm so the error names every
// step still stuck in a cycle rather than just the first one found.
func validateStepGraph(steps []StepDefinition) error {
	indexByID := make(map[string]int, len(steps))
	for i, step := range steps {
		indexByID[step.ID] = i
	}

	inDegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))

	for i, step := range steps {
		for _, dep := range step.DependsOn {
			depIdx, ok := indexByID[dep]
			if !ok {
				return &errors.ValidationError{
					Field:      "depends_on",
					Message:    fmt.Sprintf("step %q depends on undefined step %q", step.ID, dep),
					Suggestion: "depends_on must reference a step ID defined in this workflow",
				}
			}
			if depIdx == i {
				return &errors.ValidationError{
					Field:      "depends_on",
					Message:    fmt.Sprintf("step %q depends on itself", step.ID),
					Suggestion: "remove the self-referencing depends_on entry",
				}
			}
			inDegree[i]++
			dependents[depIdx] = append(dependents[depIdx], i)
		}
	}

	queue := make([]int, 0, len(steps))
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range dependents[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited < len(steps) {
		var stuck []string
		for i, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, steps[i].ID)
			}
		}
		return &errors.ValidationError{
			Field:      "depends_on",
			Message:    fmt.Sprintf("depends_on graph has a cycle involving steps: %v", stuck),
			Suggestion: "break the cycle by removing or reordering one of the depends_on edges",
		}
	}

	return nil
}
