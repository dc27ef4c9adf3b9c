package workflow

import "testing"

func TestValidateStepGraph_AcceptsLinearChain(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	if err := validateStepGraph(steps); err != nil {
		t.Fatalf("expected linear chain to validate, got %v", err)
	}
}

func TestValidateStepGraph_AcceptsDiamond(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}
	if err := validateStepGraph(steps); err != nil {
		t.Fatalf("expected diamond dependency to validate, got %v", err)
	}
}

func TestValidateStepGraph_RejectsDanglingReference(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a", DependsOn: []string{"missing"}},
	}
	if err := validateStepGraph(steps); err == nil {
		t.Fatal("expected error for dangling depends_on reference")
	}
}

func TestValidateStepGraph_RejectsSelfDependency(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a", DependsOn: []string{"a"}},
	}
	if err := validateStepGraph(steps); err == nil {
		t.Fatal("expected error for self-referencing depends_on")
	}
}

func TestValidateStepGraph_RejectsCycle(t *testing.T) {
	steps := []StepDefinition{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	if err := validateStepGraph(steps); err == nil {
		t.Fatal("expected error for a 3-step cycle")
	}
}

func TestValidateStepGraph_EmptyStepsIsValid(t *testing.T) {
	if err := validateStepGraph(nil); err != nil {
		t.Fatalf("expected no steps to validate trivially, got %v", err)
	}
}
