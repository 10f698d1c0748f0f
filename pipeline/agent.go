package pipeline

// AgentKind selects where a command executes. The engine never
// interprets an agent beyond handing it to the command runner.
type AgentKind int

const (
	AgentAny AgentKind = iota
	AgentLabel
	AgentContainer
)

type Agent struct {
	Kind    AgentKind
	Label   string
	Image   string
	WorkDir string
	Limits  ResourceLimits
}

// ResourceLimits are forwarded verbatim to container runners.
type ResourceLimits struct {
	NanoCPUs    int64
	MemoryBytes int64
}

func AnyAgent() *Agent {
	return &Agent{Kind: AgentAny}
}

func LabelAgent(label string) *Agent {
	return &Agent{Kind: AgentLabel, Label: label}
}

func ContainerAgent(image string) *Agent {
	return &Agent{Kind: AgentContainer, Image: image}
}

func (a *Agent) WithWorkDir(dir string) *Agent {
	a.WorkDir = dir
	return a
}

func (a *Agent) WithLimits(limits ResourceLimits) *Agent {
	a.Limits = limits
	return a
}

func (a *Agent) validate() error {
	switch a.Kind {
	case AgentAny:
		return nil
	case AgentLabel:
		if a.Label == "" {
			return validationErrorf("label agent needs a label")
		}
	case AgentContainer:
		if a.Image == "" {
			return validationErrorf("container agent needs an image")
		}
	default:
		return validationErrorf("unknown agent kind %d", a.Kind)
	}
	return nil
}
