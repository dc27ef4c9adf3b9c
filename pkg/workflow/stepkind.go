package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaywork/relay/internal/dispatcher"
	"github.com/relaywork/relay/internal/registry"
	"github.com/relaywork/relay/pkg/errors"
)

// StepKind is the step-dispatch variant tag: exactly one of the
// pointer-typed config fields on StepDefinition matching a Kind must be
// populated, validated at load time by Definition.Validate.
type StepKind string

const (
	// StepKindNode dispatches to a locally registered node by name.
	StepKindNode StepKind = "node"

	// StepKindCrossSystem discovers and calls a remote service by
	// capability, routing through the cross-service dispatcher.
	StepKindCrossSystem StepKind = "cross_system"

	// StepKindCondition evaluates an expression and branches to
	// then/else nested steps.
	StepKindCondition StepKind = "condition_kind"

	// StepKindLoop executes its nested steps once per item of an
	// array, exposing item and index in a scoped context frame.
	StepKindLoop StepKind = "loop_kind"

	// StepKindTransform renders a template against the workflow
	// context and returns the rendered result as output.
	StepKindTransform StepKind = "transform"
)

// NodeConfig dispatches a step to a locally registered node. If the
// node isn't found, the step fails unless AllowMock is set, in which
// case MockOutput is returned as a synthetic output — useful for
// stubbing out not-yet-built nodes during workflow development.
type NodeConfig struct {
	Name       string                 `yaml:"name" json:"name"`
	AllowMock  bool                   `yaml:"allow_mock,omitempty" json:"allow_mock,omitempty"`
	MockOutput map[string]interface{} `yaml:"mock_output,omitempty" json:"mock_output,omitempty"`
}

// CrossSystemConfig calls an operation on a remote service discovered
// by capability. Agent, if set, is matched as a substring against
// candidate instance names/metadata to narrow the selection to a
// specific deployment; otherwise the first healthy instance is used.
type CrossSystemConfig struct {
	System    string `yaml:"system" json:"system"`
	Operation string `yaml:"operation" json:"operation"`
	Agent     string `yaml:"agent,omitempty" json:"agent,omitempty"`
}

// LoopConfig iterates the nested Steps of its StepDefinition once per
// element of the array Items resolves to, exposing "item" and "index"
// in the per-iteration context frame.
type LoopConfig struct {
	Items string `yaml:"items" json:"items"`
}

// TransformConfig renders Template with Engine against the current
// workflow context and returns the rendered text as the step's output.
type TransformConfig struct {
	Engine   string `yaml:"engine,omitempty" json:"engine,omitempty"`
	Template string `yaml:"template" json:"template"`
}

// NodeHandler is a locally registered, directly invocable unit of work.
type NodeHandler interface {
	Invoke(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// NodeRegistry resolves node names to handlers for StepKindNode steps.
type NodeRegistry interface {
	Lookup(name string) (NodeHandler, bool)
}

// WithNodeRegistry sets the registry used to resolve StepKindNode steps.
func (e *Executor) WithNodeRegistry(r NodeRegistry) *Executor {
	e.nodeRegistry = r
	return e
}

// WithServiceRegistry sets the service registry used to discover
// instances by capability for StepKindCrossSystem steps.
func (e *Executor) WithServiceRegistry(r *registry.Registry) *Executor {
	e.serviceRegistry = r
	return e
}

// WithDispatcher sets the cross-service dispatcher used to invoke
// remote operations for StepKindCrossSystem steps.
func (e *Executor) WithDispatcher(d *dispatcher.Dispatcher) *Executor {
	e.dispatcher = d
	return e
}

// validateStepKind checks that exactly one config field matching
// step.Kind is populated and every other kind-specific field is nil.
// Called from Definition.Validate at load time.
func validateStepKind(step *StepDefinition) error {
	if step.Kind == "" {
		return nil
	}

	populated := map[StepKind]bool{
		StepKindNode:        step.Node != nil,
		StepKindCrossSystem: step.CrossSystem != nil,
		StepKindCondition:   step.Condition != nil,
		StepKindLoop:        step.LoopConfig != nil,
		StepKindTransform:   step.Transform != nil,
	}

	if !populated[step.Kind] {
		return &errors.ValidationError{
			Field:      "kind",
			Message:    fmt.Sprintf("step %q has kind %q but no matching config", step.ID, step.Kind),
			Suggestion: fmt.Sprintf("set the %s field for a %s step", step.Kind, step.Kind),
		}
	}

	for kind, set := range populated {
		if kind != step.Kind && set {
			return &errors.ValidationError{
				Field:      "kind",
				Message:    fmt.Sprintf("step %q has kind %q but also sets the %s config", step.ID, step.Kind, kind),
				Suggestion: "a step may populate only the config field matching its kind",
			}
		}
	}

	if step.Kind == StepKindNode && step.Node.Name == "" {
		return &errors.ValidationError{Field: "node.name", Message: fmt.Sprintf("step %q node config requires a name", step.ID)}
	}
	if step.Kind == StepKindCrossSystem {
		if step.CrossSystem.System == "" {
			return &errors.ValidationError{Field: "cross_system.system", Message: fmt.Sprintf("step %q cross_system config requires a system", step.ID)}
		}
		if step.CrossSystem.Operation == "" {
			return &errors.ValidationError{Field: "cross_system.operation", Message: fmt.Sprintf("step %q cross_system config requires an operation", step.ID)}
		}
	}
	if step.Kind == StepKindLoop && step.LoopConfig.Items == "" {
		return &errors.ValidationError{Field: "loop.items", Message: fmt.Sprintf("step %q loop config requires items", step.ID)}
	}
	if step.Kind == StepKindTransform && step.Transform.Template == "" {
		return &errors.ValidationError{Field: "transform.template", Message: fmt.Sprintf("step %q transform config requires a template", step.ID)}
	}

	return nil
}

// executeByKind dispatches a step whose Kind is set to its matching
// handler. It is checked before the legacy Type-based switch in
// executeStep, so a step may use either representation.
func (e *Executor) executeByKind(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	switch step.Kind {
	case StepKindNode:
		return e.executeNode(ctx, step, workflowContext)
	case StepKindCrossSystem:
		return e.executeCrossSystem(ctx, step, workflowContext)
	case StepKindTransform:
		return e.executeTransformKind(ctx, step, workflowContext)
	case StepKindCondition:
		return e.executeConditionKind(ctx, step, workflowContext)
	case StepKindLoop:
		return e.executeLoopKind(ctx, step, workflowContext)
	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// executeNode looks up step.Node.Name in the node registry and invokes
// it. If the node isn't registered, the step fails unless AllowMock is
// set, in which case MockOutput is returned verbatim.
func (e *Executor) executeNode(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	cfg := step.Node

	if e.nodeRegistry != nil {
		if handler, ok := e.nodeRegistry.Lookup(cfg.Name); ok {
			return handler.Invoke(ctx, step.Inputs)
		}
	}

	if cfg.AllowMock {
		e.logger.Debug("node not registered, returning configured mock output", "step_id", step.ID, "node", cfg.Name)
		if cfg.MockOutput != nil {
			return cfg.MockOutput, nil
		}
		return map[string]interface{}{}, nil
	}

	return nil, &errors.NotFoundError{Resource: "node", ID: cfg.Name}
}

// executeCrossSystem discovers instances advertising the configured
// capability, narrows to one matching Agent (substring match against
// name or metadata) when set, and calls Operation on it through the
// dispatcher.
func (e *Executor) executeCrossSystem(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	cfg := step.CrossSystem

	if e.serviceRegistry == nil || e.dispatcher == nil {
		return nil, &errors.ConfigError{Key: "cross_system", Reason: "executor has no service registry or dispatcher configured"}
	}

	instances, err := e.serviceRegistry.DiscoverByCapability(ctx, cfg.System)
	if err != nil {
		return nil, fmt.Errorf("discover capability %q: %w", cfg.System, err)
	}
	if len(instances) == 0 {
		return nil, &errors.NotFoundError{Resource: "service with capability", ID: cfg.System}
	}

	inst := selectByAgent(instances, cfg.Agent)
	if inst == nil {
		return nil, &errors.NotFoundError{Resource: "service instance matching agent", ID: cfg.Agent}
	}

	raw, err := e.dispatcher.CallService(ctx, inst.Name, cfg.Operation, step.Inputs, dispatcher.NoRetry())
	if err != nil {
		return nil, fmt.Errorf("cross_system call %s.%s: %w", cfg.System, cfg.Operation, err)
	}

	return map[string]interface{}{"response": string(raw)}, nil
}

// selectByAgent picks the first healthy instance whose Name or
// Metadata["agent"] contains agent as a substring, or, when agent is
// empty, the first healthy instance overall.
func selectByAgent(instances []*registry.Instance, agent string) *registry.Instance {
	for _, inst := range instances {
		if inst.Health != registry.HealthHealthy {
			continue
		}
		if agent == "" {
			return inst
		}
		if strings.Contains(inst.Name, agent) || strings.Contains(inst.Metadata["agent"], agent) {
			return inst
		}
	}
	return nil
}

// executeTransformKind renders step.Transform.Template against the
// workflow context using the executor's template engine. Engine is
// currently always the Go text/template-based resolver ResolveTemplate
// uses; the field exists so a future engine can be selected without an
// API change.
func (e *Executor) executeTransformKind(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	tc, ok := workflowContext["_templateContext"].(*TemplateContext)
	if !ok {
		tc = templateContextFromFlatMap(workflowContext)
	}

	rendered, err := ResolveTemplate(step.Transform.Template, tc)
	if err != nil {
		return nil, fmt.Errorf("render transform template: %w", err)
	}
	return map[string]interface{}{"text": rendered}, nil
}

// templateContextFromFlatMap builds a *TemplateContext from a flat
// workflowContext map for callers (tests, standalone node invocations)
// that haven't already threaded a "_templateContext" through.
func templateContextFromFlatMap(workflowContext map[string]interface{}) *TemplateContext {
	tc := NewTemplateContext()
	for k, v := range workflowContext {
		if k == "steps" {
			if steps, ok := v.(map[string]map[string]interface{}); ok {
				for stepID, out := range steps {
					tc.SetStepOutput(stepID, out)
				}
			}
			continue
		}
		tc.SetInput(k, v)
	}
	return tc
}

// executeConditionKind evaluates step.Condition.Expression and reports
// which branch (then/else) applies. The executor's dependency graph is
// responsible for actually skipping the non-taken branch's steps; this
// just resolves and records the branch decision as the step's output.
func (e *Executor) executeConditionKind(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	taken, err := e.exprEval.Evaluate(step.Condition.Expression, workflowContext)
	if err != nil {
		return nil, fmt.Errorf("evaluate condition %q: %w", step.Condition.Expression, err)
	}

	branch := step.Condition.ElseSteps
	branchName := "else"
	if taken {
		branch = step.Condition.ThenSteps
		branchName = "then"
	}

	return map[string]interface{}{"taken": taken, "branch": branchName, "steps": branch}, nil
}

// executeLoopKind resolves step.LoopConfig.Items to an array and runs
// the step's nested Steps once per element, sequentially, with "item"
// and "index" injected into each iteration's context frame. Results are
// collected in array order.
func (e *Executor) executeLoopKind(ctx context.Context, step *StepDefinition, workflowContext map[string]interface{}) (map[string]interface{}, error) {
	if len(step.Steps) == 0 {
		return nil, &errors.ValidationError{Field: "steps", Message: fmt.Sprintf("loop step %q has no nested steps", step.ID)}
	}

	items, err := e.resolveForeachValue(step.LoopConfig.Items, workflowContext)
	if err != nil {
		return nil, fmt.Errorf("resolve loop items %q: %w", step.LoopConfig.Items, err)
	}
	array, ok := items.([]interface{})
	if !ok {
		return nil, &errors.ValidationError{Field: "loop.items", Message: fmt.Sprintf("loop step %q items did not resolve to an array", step.ID)}
	}

	results := make([]map[string]interface{}, 0, len(array))
	for index, item := range array {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		iterContext := make(map[string]interface{}, len(workflowContext)+2)
		for k, v := range workflowContext {
			iterContext[k] = v
		}
		iterContext["item"] = item
		iterContext["index"] = index

		var iterOutputs map[string]interface{}
		for _, nested := range step.Steps {
			nestedStep := nested
			out, err := e.executeStep(ctx, &nestedStep, iterContext)
			if err != nil {
				return nil, fmt.Errorf("loop iteration %d, step %q: %w", index, nestedStep.ID, err)
			}
			iterOutputs = out
			if nestedStep.ID != "" {
				iterContext[nestedStep.ID] = out
			}
		}
		results = append(results, iterOutputs)
	}

	return map[string]interface{}{"results": results, "count": len(results)}, nil
}
