package pipeline

// HookCondition selects which outcome a post-condition hook fires on.
type HookCondition int

const (
	HookAlways HookCondition = iota
	HookOnSuccess
	HookOnFailure
	HookOnUnstable
	HookOnChanged
)

func (h HookCondition) String() string {
	switch h {
	case HookAlways:
		return "always"
	case HookOnSuccess:
		return "success"
	case HookOnFailure:
		return "failure"
	case HookOnUnstable:
		return "unstable"
	case HookOnChanged:
		return "changed"
	}
	return "hook"
}

// Hook is a step tree executed after a stage or pipeline based on
// its outcome.
type Hook struct {
	On    HookCondition
	Steps []*Step
}

func Always(steps ...*Step) Hook {
	return Hook{On: HookAlways, Steps: steps}
}

func OnSuccess(steps ...*Step) Hook {
	return Hook{On: HookOnSuccess, Steps: steps}
}

func OnFailure(steps ...*Step) Hook {
	return Hook{On: HookOnFailure, Steps: steps}
}

func OnUnstable(steps ...*Step) Hook {
	return Hook{On: HookOnUnstable, Steps: steps}
}

func OnChanged(steps ...*Step) Hook {
	return Hook{On: HookOnChanged, Steps: steps}
}

// Matches reports whether the hook fires for result r. prev is the
// result of the immediately preceding run of the same stage or
// pipeline identity; a nil prev never fires OnChanged.
func (h Hook) Matches(r Status, prev *Status) bool {
	switch h.On {
	case HookAlways:
		return true
	case HookOnSuccess:
		return r == StatusSuccess
	case HookOnFailure:
		return r == StatusFailure
	case HookOnUnstable:
		return r == StatusUnstable
	case HookOnChanged:
		return prev != nil && *prev != r
	}
	return false
}

func (h Hook) validate() error {
	if len(h.Steps) == 0 {
		return validationErrorf("%s hook needs at least one step", h.On)
	}
	return validateSteps(h.Steps)
}
