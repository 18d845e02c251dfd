// Package tools holds the static catalog of server-side functions the
// model may request. The catalog is populated at startup and read-only
// afterwards; it needs no synchronization.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// Argument keys injected by the orchestrator after parsing the
// model-supplied arguments. Handlers must trust these fields only, never
// identifiers the model itself put in the payload.
const (
	ArgUserID      = "user_id"
	ArgAccessLevel = "access_level"
)

// Handler executes one tool invocation. It receives the parsed argument
// map, already merged with the caller's security context, and returns a
// serialized result.
type Handler func(args map[string]interface{}) (string, error)

// Catalog maps tool names to their schema and handler.
type Catalog struct {
	decls    []models.ToolDeclaration
	handlers map[string]Handler
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool. Registering a duplicate name replaces the
// handler but keeps the first declaration, so call it once per tool
// during startup.
func (c *Catalog) Register(decl models.ToolDeclaration, handler Handler) {
	if _, exists := c.handlers[decl.Name]; !exists {
		c.decls = append(c.decls, decl)
	}
	c.handlers[decl.Name] = handler
}

// Definitions returns the complete list of tool schemas offered to the
// model. The slice is a copy; callers cannot mutate the catalog.
func (c *Catalog) Definitions() []models.ToolDeclaration {
	out := make([]models.ToolDeclaration, len(c.decls))
	copy(out, c.decls)
	return out
}

// Handler returns the callable bound to a name.
func (c *Catalog) Handler(name string) (Handler, bool) {
	h, ok := c.handlers[name]
	return h, ok
}

// Execute runs the named handler and always returns a serialized
// payload: {"result": ...} on success, {"error": ...} on any failure,
// including unknown tools and handler panics. A malfunctioning tool must
// never abort the orchestration loop.
func (c *Catalog) Execute(name string, args map[string]interface{}) string {
	handler, ok := c.Handler(name)
	if !ok {
		return errorPayload(fmt.Sprintf("unknown or unavailable tool: %s", name))
	}

	output, err := safeCall(handler, args)
	if err != nil {
		return errorPayload(err.Error())
	}

	resultBytes, err := json.Marshal(map[string]string{"result": output})
	if err != nil {
		return errorPayload(fmt.Sprintf("failed to marshal result for '%s': %v", name, err))
	}
	return string(resultBytes)
}

// safeCall shields the loop from handlers that panic.
func safeCall(handler Handler, args map[string]interface{}) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler(args)
}

func errorPayload(message string) string {
	errorBytes, _ := json.Marshal(map[string]string{"error": message})
	return string(errorBytes)
}
