package plugin

import "context"

// Dispatcher is the single entry point for executing a {type, params}
// command object: locate the owning plugin, validate, preprocess, execute.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher wires a Dispatcher to a Registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch runs the full validate -> preprocess -> execute pipeline for one
// command.
func (d *Dispatcher) Dispatch(ctx context.Context, commandType string, params map[string]any) CommandResult {
	p, err := d.registry.Lookup(commandType)
	if err != nil {
		return CommandResult{Success: false, Err: asAPIErr(err)}
	}

	if health := p.HealthCheck(ctx); health != HealthAvailable {
		return CommandResult{Success: false, Err: unavailableErr(p.Metadata().ToolID)}
	}

	vr := p.Validate(commandType, params)
	if !vr.Valid {
		return CommandResult{Success: false, Err: validationErr(vr.Errors)}
	}

	processed, err := p.Preprocess(ctx, commandType, params)
	if err != nil {
		return CommandResult{Success: false, Err: asAPIErr(err)}
	}

	return p.Execute(ctx, commandType, processed)
}
