package engine

import "context"

// Plugin is a user-defined step kind. Plugins are registered by name
// on the engine and invoked by Custom steps; this keeps the core
// step variant closed.
type Plugin interface {
	Execute(ctx context.Context, ec *ExecContext, args map[string]string) error
}

// PluginFunc adapts a plain function to the Plugin interface.
type PluginFunc func(ctx context.Context, ec *ExecContext, args map[string]string) error

func (f PluginFunc) Execute(ctx context.Context, ec *ExecContext, args map[string]string) error {
	return f(ctx, ec, args)
}

// RegisterPlugin installs a custom step implementation. Register
// before any Execute call; the registry is not synchronized against
// running pipelines.
func (e *Engine) RegisterPlugin(name string, p Plugin) {
	e.plugins[name] = p
}
