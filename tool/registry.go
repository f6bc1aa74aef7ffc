package tool

import (
	"encoding/json"
	"fmt"

	"github.com/dentaldesk/dentaldesk/core"
	"github.com/dentaldesk/dentaldesk/model"
)

// Registry holds the tools exposed to the planner and executes its tool
// calls. Execution failures of any kind, unknown tool names, bad argument
// JSON, validation errors, tool panics, are captured as data in the returned
// FunctionResponse so the planner can react to them; they never abort a turn.
//
// Registration happens at startup; after that the Registry is read-only and
// safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a Registry holding the given tools. Registering two
// tools with the same name is a programming error and panics.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tool: duplicate registration of %q", t.Name()))
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the named tool, or false if it is not registered.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Definitions returns the tool declarations sent to the model, in
// registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs a single planner tool call and always returns a
// FunctionResponse pairing the result (or error text) with the call id.
func (r *Registry) Execute(toolCtx *core.ToolContext, call core.FunctionCall) (resp core.FunctionResponse) {
	resp = core.FunctionResponse{ID: call.ID, Name: call.Name}

	defer func() {
		if rec := recover(); rec != nil {
			toolCtx.LogError("tool.call.panic", "tool", call.Name, "panic", fmt.Sprintf("%v", rec))
			resp.Response = nil
			resp.Error = fmt.Sprintf("tool %s panicked: %v", call.Name, rec)
		}
	}()

	t, ok := r.tools[call.Name]
	if !ok {
		toolCtx.LogWarn("tool.call.unknown", "tool", call.Name)
		resp.Error = NewToolError(call.Name, "tool is not registered", CodeUnknownTool).Error()
		return resp
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			toolCtx.LogWarn("tool.call.bad_arguments", "tool", call.Name, "error", err.Error())
			resp.Error = NewToolError(call.Name, fmt.Sprintf("invalid argument JSON: %v", err), CodeBadArguments).Error()
			return resp
		}
	}

	result, err := t.Call(toolCtx, args)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Response = result
	return resp
}
