package pipeline

import (
	"regexp"
	"slices"
)

// ParamKind is the type of a pipeline parameter.
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamBool
	ParamChoice
)

// paramName is bash identifier syntax, same rule the resolved
// environment keys follow.
var paramName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Parameter is a typed, named pipeline input with a default and a
// validation rule. Resolved values land in the environment under
// PARAM_<NAME>.
type Parameter struct {
	Name    string
	Kind    ParamKind
	Default string
	Choices []string
}

func StringParam(name, def string) Parameter {
	return Parameter{Name: name, Kind: ParamString, Default: def}
}

func BoolParam(name string, def bool) Parameter {
	v := "false"
	if def {
		v = "true"
	}
	return Parameter{Name: name, Kind: ParamBool, Default: v}
}

func ChoiceParam(name string, choices []string) Parameter {
	var def string
	if len(choices) > 0 {
		def = choices[0]
	}
	return Parameter{Name: name, Kind: ParamChoice, Default: def, Choices: choices}
}

func (p Parameter) validate() error {
	if !paramName.MatchString(p.Name) {
		return validationErrorf("parameter name %q is not a valid identifier", p.Name)
	}
	if p.Kind == ParamChoice && len(p.Choices) == 0 {
		return validationErrorf("choice parameter %q needs at least one choice", p.Name)
	}
	return p.check(p.Default)
}

// Check validates a supplied value against the parameter's rule.
func (p Parameter) Check(value string) error {
	return p.check(value)
}

func (p Parameter) check(value string) error {
	switch p.Kind {
	case ParamBool:
		if value != "true" && value != "false" {
			return validationErrorf("parameter %q must be true or false, got %q", p.Name, value)
		}
	case ParamChoice:
		if !slices.Contains(p.Choices, value) {
			return validationErrorf("parameter %q must be one of %v, got %q", p.Name, p.Choices, value)
		}
	}
	return nil
}

// ResolveParams merges caller overrides over parameter defaults,
// validating every supplied value. Unknown overrides are rejected.
func ResolveParams(params []Parameter, overrides map[string]string) (map[string]string, error) {
	byName := make(map[string]Parameter, len(params))
	resolved := make(map[string]string, len(params))
	for _, p := range params {
		byName[p.Name] = p
		resolved[p.Name] = p.Default
	}
	for name, value := range overrides {
		p, ok := byName[name]
		if !ok {
			return nil, validationErrorf("unknown parameter %q", name)
		}
		if err := p.Check(value); err != nil {
			return nil, err
		}
		resolved[name] = value
	}
	return resolved, nil
}
