package cel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"contextbus/pkg/models"
)

// Evaluator compiles and runs subscription filter expressions against
// envelopes. Programs are cached per expression since subscriptions are
// long-lived and messages are not.
type Evaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("message_id", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("classification", cel.StringType),
		cel.Variable("source_service", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// ValidateFilter rejects expressions that do not compile or do not yield
// a boolean. Called at subscription time so bad filters fail early.
func (e *Evaluator) ValidateFilter(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("filter expression failed to compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}
	return nil
}

func (e *Evaluator) EvaluateFilter(ctx context.Context, expression string, env *models.MessageEnvelope) (bool, error) {
	program, err := e.programFor(expression)
	if err != nil {
		return false, err
	}

	vars := map[string]interface{}{
		"message_id":     env.MessageID,
		"event_type":     env.EventType,
		"tenant_id":      env.TenantID,
		"priority":       string(env.EffectivePriority()),
		"classification": string(env.Classification),
		"source_service": env.Source.Service,
		"payload":        env.Payload,
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return bool, got %T", result.Value())
	}
	return boolVal, nil
}

func (e *Evaluator) programFor(expression string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter expression failed to compile: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}
