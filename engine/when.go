package engine

import (
	"fmt"

	"github.com/shuttle-ci/shuttle/pipeline"
)

// evalWhen decides a gating predicate against the current context.
// Predicates have no side effects and see the resolved environment.
func evalWhen(ec *ExecContext, w *pipeline.When) (bool, error) {
	switch w.Kind {
	case pipeline.WhenBranch:
		return w.Branch == ec.Branch, nil
	case pipeline.WhenTag:
		return w.Tag == ec.Tag, nil
	case pipeline.WhenEnv:
		return ec.Resolved()[w.Name] == w.Value, nil
	case pipeline.WhenNot:
		if len(w.Conds) != 1 {
			return false, &pipeline.WhenError{Reason: "not needs exactly one sub-condition"}
		}
		ok, err := evalWhen(ec, w.Conds[0])
		return !ok, err
	case pipeline.WhenAllOf:
		for _, c := range w.Conds {
			ok, err := evalWhen(ec, c)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case pipeline.WhenAnyOf:
		for _, c := range w.Conds {
			ok, err := evalWhen(ec, c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, &pipeline.WhenError{Reason: fmt.Sprintf("unknown predicate kind %d", w.Kind)}
}
