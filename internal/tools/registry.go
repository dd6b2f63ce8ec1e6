package tools

import (
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/bentman/JARVISv5/internal/jerr"
)

// PermissionTier enumerates the three tiers a tool can be registered at
// (spec.md §4.8).
type PermissionTier string

const (
	TierReadOnly  PermissionTier = "read_only"
	TierWriteSafe PermissionTier = "write_safe"
	TierSystem    PermissionTier = "system"
)

// Handler dispatches a validated request payload to its implementation.
// input is the pointer returned by Definition.NewInput, already
// unmarshaled and validated.
type Handler func(input any) (map[string]any, error)

// Definition registers one tool: its schema (via NewInput), permission
// tier, and whether it is an external call subject to Privacy Wrapper
// gating (spec.md §4.8's "external=true request").
type Definition struct {
	Name        string
	Description string
	Tier        PermissionTier
	External    bool
	NewInput    func() any
}

// Registry maps tool_name -> {definition, handler}. Registrations happen
// once at startup (spec.md §5: "lookups are lock-free" in the steady
// state); the mutex only guards the rare registration path.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool. Registering the same name twice is a programmer
// error (invalid_argument), not a runtime fault.
func (r *Registry) Register(def Definition, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return jerr.New(jerr.CodeInvalidArgument, "tool already registered").
			WithDetails(map[string]any{"tool_name": def.Name})
	}
	r.defs[def.Name] = def
	r.handlers[def.Name] = handler
	return nil
}

// Get returns the definition for name, if registered.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

func (r *Registry) handlerFor(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// ListTools returns every registered definition, sorted by name.
func (r *Registry) ListTools() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.defs[name])
	}
	return out
}

// ValidateInput looks up name, decodes payload into its input struct, and
// runs Validate against it. Returns the decoded, validated input pointer.
func (r *Registry) ValidateInput(name string, payload map[string]any) (any, *jerr.Error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, jerr.New(jerr.CodeToolNotFound, "unknown tool").
			WithDetails(map[string]any{"tool_name": name})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, jerr.New(jerr.CodeValidationError, "payload is not encodable").
			WithDetails(map[string]any{"tool_name": name, "error": err.Error()})
	}

	input := def.NewInput()
	if err := json.Unmarshal(raw, input); err != nil {
		return nil, jerr.New(jerr.CodeValidationError, "payload does not match schema").
			WithDetails(map[string]any{"tool_name": name, "error": err.Error()})
	}

	if fieldErrs := Validate(input); len(fieldErrs) > 0 {
		details := make([]map[string]any, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, map[string]any{"field": fe.Field, "message": fe.Message})
		}
		return nil, jerr.New(jerr.CodeValidationError, "schema validation failed").
			WithDetails(map[string]any{"tool_name": name, "errors": details})
	}

	return input, nil
}

// FieldSchema is one field in a tool's exported schema.
type FieldSchema struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// ExportSchema returns a deterministic schema description for one tool:
// its field names (sorted) and declared validation rules.
func (r *Registry) ExportSchema(name string) (map[string]any, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, jerr.New(jerr.CodeToolNotFound, "unknown tool").
			WithDetails(map[string]any{"tool_name": name})
	}

	rt := reflect.TypeOf(def.NewInput())
	if rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}

	fields := make([]FieldSchema, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("validate")
		fields = append(fields, FieldSchema{
			Name:     jsonFieldName(field),
			Required: tagHasRequired(tag),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	return map[string]any{
		"tool_name":   def.Name,
		"description": def.Description,
		"tier":        string(def.Tier),
		"external":    def.External,
		"fields":      fields,
	}, nil
}

// ExportAllSchemas returns every tool's schema, sorted by name.
func (r *Registry) ExportAllSchemas() []map[string]any {
	out := make([]map[string]any, 0)
	for _, def := range r.ListTools() {
		schema, err := r.ExportSchema(def.Name)
		if err != nil {
			continue
		}
		out = append(out, schema)
	}
	return out
}

func tagHasRequired(tag string) bool {
	for _, rule := range splitComma(tag) {
		if rule == "required" {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
