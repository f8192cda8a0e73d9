package celengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// Variables exposed to reward conditions:
//
//	referral  map(string, dyn)  referral attributes (source, utm_*, lead_email, ...)
//	event     string            onReferral | onConversion
//	campaign  map(string, dyn)  campaign attributes (id, name, status)
var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programs sync.Map // expr -> cel.Program
)

func conditionEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("referral", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("event", cel.StringType),
			cel.Variable("campaign", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// Compile type-checks expr and caches the program. Conditions must be boolean.
func Compile(expr string) (cel.Program, error) {
	if v, ok := programs.Load(expr); ok {
		return v.(cel.Program), nil
	}

	e, err := conditionEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("condition must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	programs.Store(expr, prg)
	return prg, nil
}

func ValidateExpression(expr string) error {
	_, err := Compile(expr)
	return err
}

// Evaluate runs a condition. An empty expression always passes.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"referral": map[string]any{},
		"campaign": map[string]any{},
		"event":    "",
	}
	for k, v := range vars {
		activation[k] = v
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}

// StructToMap turns a tagged struct into the map form CEL variables expect.
func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]any{}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]any{}
	}

	return result
}
