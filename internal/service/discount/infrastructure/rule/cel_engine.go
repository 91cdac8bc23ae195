// internal/service/discount/infrastructure/rule/cel_engine.go
package rule

import (
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"cafeteria/internal/service/discount/domain"
)

// CELEngine implements port.RuleEngine with Common Expression Language.
//
// Expressions see the RuleFact fields as int variables:
//
//	user_id, cafeteria_id, meal_type, hour, minute, weekday
//
// e.g. `meal_type == 1 && weekday >= 1 && weekday <= 5`.
type CELEngine struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.IntType),
		cel.Variable("cafeteria_id", cel.IntType),
		cel.Variable("meal_type", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	return &CELEngine{env: env}, nil
}

// Evaluate compiles expression on first use and runs it against fact.
func (e *CELEngine) Evaluate(expression string, fact domain.RuleFact) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"user_id":      fact.UserID,
		"cafeteria_id": fact.CafeteriaID,
		"meal_type":    int64(fact.MealType),
		"hour":         int64(fact.Hour),
		"minute":       int64(fact.Minute),
		"weekday":      int64(fact.Weekday),
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate %q", expression)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q yielded %T, want bool", expression, out.Value())
	}
	return result, nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "compile %q", expression)
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, errors.Errorf("expression %q has type %v, want bool", expression, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %q", expression)
	}

	actual, _ := e.programs.LoadOrStore(expression, prg)
	return actual.(cel.Program), nil
}
