package pipeline

// WhenKind is the shape of a gating predicate.
type WhenKind int

const (
	WhenBranch WhenKind = iota
	WhenTag
	WhenEnv
	WhenNot
	WhenAllOf
	WhenAnyOf
)

// When gates a stage or a conditional step. Predicates compare the
// run's branch or tag, test environment values for equality, or
// combine sub-predicates.
type When struct {
	Kind   WhenKind
	Branch string
	Tag    string
	Name   string
	Value  string
	Conds  []*When
}

func OnBranch(branch string) *When {
	return &When{Kind: WhenBranch, Branch: branch}
}

func OnTag(tag string) *When {
	return &When{Kind: WhenTag, Tag: tag}
}

func EnvEquals(name, value string) *When {
	return &When{Kind: WhenEnv, Name: name, Value: value}
}

func Not(cond *When) *When {
	return &When{Kind: WhenNot, Conds: []*When{cond}}
}

func AllOf(conds ...*When) *When {
	return &When{Kind: WhenAllOf, Conds: conds}
}

func AnyOf(conds ...*When) *When {
	return &When{Kind: WhenAnyOf, Conds: conds}
}

func (w *When) validate() error {
	switch w.Kind {
	case WhenBranch:
		if w.Branch == "" {
			return validationErrorf("branch condition cannot be empty")
		}
	case WhenTag:
		if w.Tag == "" {
			return validationErrorf("tag condition cannot be empty")
		}
	case WhenEnv:
		if w.Name == "" {
			return validationErrorf("environment condition needs a variable name")
		}
	case WhenNot:
		if len(w.Conds) != 1 {
			return validationErrorf("not condition needs exactly one sub-condition")
		}
		return w.Conds[0].validate()
	case WhenAllOf, WhenAnyOf:
		if len(w.Conds) == 0 {
			return validationErrorf("composite condition needs at least one sub-condition")
		}
		for _, c := range w.Conds {
			if err := c.validate(); err != nil {
				return err
			}
		}
	default:
		return validationErrorf("unknown when kind %d", w.Kind)
	}
	return nil
}
