package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Evaluator decides accessibility from a provider probe document using a
// CEL expression such as
//
//	device.data[0].availability == "ACTIVE"
//
// The expression sees the variables device (the decoded probe document),
// resource (the resource name) and now (the evaluation time), and must
// yield a bool.
type Evaluator struct {
	expr    string
	program cel.Program
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorLogger sets the logger.
func WithEvaluatorLogger(logger observability.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithEvaluatorMetrics sets the metrics.
func WithEvaluatorMetrics(metrics *Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = metrics
	}
}

// WithEvaluatorClock sets the time source bound to now.
func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvaluator compiles expr.
func NewEvaluator(expr string, opts ...EvaluatorOption) (*Evaluator, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, util.NewConfigError("accessible_when", "expression is empty")
	}

	env, err := newEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, util.NewConfigErrorWithCause("accessible_when", "failed to compile expression", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, util.NewConfigError("accessible_when",
			fmt.Sprintf("expression yields %s, want bool", ast.OutputType()))
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("accessible_when", "failed to create program", err)
	}

	e := &Evaluator{
		expr:    expr,
		program: program,
		logger:  observability.NopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustEvaluator is NewEvaluator for built-in expressions.
func MustEvaluator(expr string, opts ...EvaluatorOption) *Evaluator {
	e, err := NewEvaluator(expr, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

func newEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("device", cel.DynType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("now", cel.TimestampType),
		cel.Function("lower",
			cel.MemberOverload("string_lower",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(lowerBinding),
			),
		),
	)
}

// lowerBinding lower-cases a string (CEL binding).
func lowerBinding(val ref.Val) ref.Val {
	s, ok := val.Value().(string)
	if !ok {
		return types.NewErr("lower: not a string")
	}
	return types.String(strings.ToLower(s))
}

// Expression returns the source expression.
func (e *Evaluator) Expression() string {
	return e.expr
}

// Accessible evaluates the expression against a decoded probe document.
// Evaluation errors, such as a missing field, are returned with false.
func (e *Evaluator) Accessible(_ context.Context, resource string, device any) (bool, error) {
	start := time.Now()
	result, _, err := e.program.Eval(map[string]any{
		"device":   device,
		"resource": resource,
		"now":      e.now(),
	})
	if err != nil {
		e.record(resource, "error", start)
		e.logger.Warn("CEL evaluation error",
			observability.String("resource", resource),
			observability.String("expression", e.expr),
			observability.Error(err),
		)
		return false, fmt.Errorf("evaluating %q: %w", e.expr, err)
	}

	ok, isBool := result.Value().(bool)
	if !isBool {
		e.record(resource, "error", start)
		return false, fmt.Errorf("evaluating %q: result %v is not a bool", e.expr, result.Value())
	}
	if ok {
		e.record(resource, "accessible", start)
	} else {
		e.record(resource, "inaccessible", start)
	}
	return ok, nil
}

// AccessibleJSON decodes body and evaluates it.
func (e *Evaluator) AccessibleJSON(ctx context.Context, resource string, body []byte) (bool, error) {
	var device any
	if err := json.Unmarshal(body, &device); err != nil {
		return false, fmt.Errorf("failed to decode probe document: %w", err)
	}
	return e.Accessible(ctx, resource, device)
}

func (e *Evaluator) record(resource, result string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordEvaluation(resource, result, time.Since(start))
	}
}
