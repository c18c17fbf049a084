package replication

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/example/meeting-scheduler/internal/events"
)

//go:embed schema.cue
var schemaSource string

// schema validates filtered payloads against the CUE definitions.
type schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[events.EventType]cue.Value
}

func loadSchema() (*schema, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile replica schema: %w", err)
	}

	defs := make(map[events.EventType]cue.Value, 3)
	for eventType, name := range map[events.EventType]string{
		events.EventCreate: "#UserCreate",
		events.EventUpdate: "#UserUpdate",
		events.EventDelete: "#UserDelete",
	} {
		def := root.LookupPath(cue.ParsePath(name))
		if !def.Exists() {
			return nil, fmt.Errorf("replica schema is missing %s", name)
		}
		defs[eventType] = def
	}
	return &schema{ctx: ctx, defs: defs}, nil
}

func (s *schema) validate(eventType events.EventType, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[eventType]
	if !ok {
		return fmt.Errorf("no schema for event type %q", eventType)
	}
	value := def.Unify(s.ctx.Encode(fields))
	return value.Validate(cue.Concrete(true))
}
