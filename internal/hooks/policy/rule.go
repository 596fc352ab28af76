package policy

import (
	"errors"
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	celgo "github.com/google/cel-go/cel"
)

// Engine selects the expression language a rule is written in.
type Engine string

const (
	EngineExpr Engine = "expr"
	EngineCEL  Engine = "cel"
)

var (
	// ErrUnknownEngine indicates an engine name other than expr or cel.
	ErrUnknownEngine = errors.New("unknown expression engine")
	// ErrNotBool indicates a rule that evaluated to something other than a bool.
	ErrNotBool = errors.New("rule did not evaluate to a bool")
)

// Variables every rule may reference. Which are bound depends on the hook
// callback evaluating the rule.
var variables = []string{"resource", "requirer", "requirement", "capability", "singleton", "collision"}

// bind fills every unbound variable with an empty map, so rules can inspect
// a variable the current callback does not provide.
func bind(vars map[string]any) map[string]any {
	out := make(map[string]any, len(variables))
	for _, name := range variables {
		if v, ok := vars[name]; ok && v != nil {
			out[name] = v
			continue
		}
		out[name] = map[string]any{}
	}
	return out
}

// Rule is a compiled boolean expression.
type Rule interface {
	Eval(vars map[string]any) (bool, error)
	String() string
}

// ParseEngine maps a configuration value to an Engine; empty means expr.
func ParseEngine(s string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(s))) {
	case "", EngineExpr:
		return EngineExpr, nil
	case EngineCEL:
		return EngineCEL, nil
	default:
		return "", fmt.Errorf("policy: %w %q", ErrUnknownEngine, s)
	}
}

// Compile compiles expression for engine.
func Compile(engine Engine, expression string) (Rule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("policy: expression must not be empty")
	}
	switch engine {
	case "", EngineExpr:
		return compileExpr(expression)
	case EngineCEL:
		return compileCEL(expression)
	default:
		return nil, fmt.Errorf("policy: %w %q", ErrUnknownEngine, engine)
	}
}

type exprRule struct {
	expression string
	program    *exprvm.Program
}

func compileExpr(expression string) (*exprRule, error) {
	env := make(map[string]any, len(variables))
	for _, name := range variables {
		env[name] = map[string]any{}
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(env),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: compile expr %q: %w", expression, err)
	}
	return &exprRule{expression: expression, program: program}, nil
}

func (r *exprRule) Eval(vars map[string]any) (bool, error) {
	out, err := exprlang.Run(r.program, bind(vars))
	if err != nil {
		return false, fmt.Errorf("policy: eval expr %q: %w", r.expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("policy: eval expr %q: %w", r.expression, ErrNotBool)
	}
	return b, nil
}

func (r *exprRule) String() string {
	return "expr:" + r.expression
}

type celRule struct {
	expression string
	program    celgo.Program
}

func compileCEL(expression string) (*celRule, error) {
	opts := make([]celgo.EnvOption, 0, len(variables))
	for _, name := range variables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile cel %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("policy: compile cel %q: %w", expression, err)
	}
	return &celRule{expression: expression, program: prg}, nil
}

func (r *celRule) Eval(vars map[string]any) (bool, error) {
	out, _, err := r.program.Eval(bind(vars))
	if err != nil {
		return false, fmt.Errorf("policy: eval cel %q: %w", r.expression, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: eval cel %q: %w", r.expression, ErrNotBool)
	}
	return b, nil
}

func (r *celRule) String() string {
	return "cel:" + r.expression
}
