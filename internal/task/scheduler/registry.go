package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// Registry holds the task descriptors for one orchestrator instance.
// Registration happens during boot, before Start; the scheduler snapshots
// the registered set when it starts.
type Registry struct {
	mu     sync.Mutex
	parser cron.Parser
	defs   []Descriptor
	names  map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		parser: newCronParser(),
		names:  map[string]struct{}{},
	}
}

// Register validates d and adds it to the registry. Descriptors are rejected
// with a *ConfigError on duplicate names, a non-positive timeout, a missing
// or ambiguous trigger policy, or a cron expression that fails to parse.
func (r *Registry) Register(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return &ConfigError{Field: "name", Reason: "required"}
	}
	if d.Run == nil {
		return &ConfigError{Task: d.Name, Field: "run", Reason: "required"}
	}
	if d.Timeout <= 0 {
		return &ConfigError{Task: d.Name, Field: "timeout", Reason: "must be > 0"}
	}
	hasInterval := d.Interval != 0
	hasCron := strings.TrimSpace(d.Cron) != ""
	switch {
	case hasInterval && hasCron:
		return &ConfigError{Task: d.Name, Field: "trigger", Reason: "interval and cron are mutually exclusive"}
	case !hasInterval && !hasCron:
		return &ConfigError{Task: d.Name, Field: "trigger", Reason: "interval or cron required"}
	}
	if hasInterval && d.Interval < 0 {
		return &ConfigError{Task: d.Name, Field: "interval", Reason: "must be > 0"}
	}
	if d.InitialDelay < 0 {
		return &ConfigError{Task: d.Name, Field: "initialDelay", Reason: "must be >= 0"}
	}
	if d.InitialDelay > 0 && hasCron {
		return &ConfigError{Task: d.Name, Field: "initialDelay", Reason: "only valid with an interval trigger"}
	}
	if d.FailureCeiling < 0 {
		return &ConfigError{Task: d.Name, Field: "failureCeiling", Reason: "must be >= 0"}
	}
	if d.BackoffDelay < 0 {
		return &ConfigError{Task: d.Name, Field: "backoffDelay", Reason: "must be >= 0"}
	}
	if hasCron {
		d.Cron = strings.TrimSpace(d.Cron)
		if _, err := r.parser.Parse(d.Cron); err != nil {
			return &ConfigError{Task: d.Name, Field: "cron", Reason: fmt.Sprintf("invalid expression: %v", err)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[d.Name]; dup {
		return &ConfigError{Task: d.Name, Field: "name", Reason: "already registered"}
	}
	r.names[d.Name] = struct{}{}
	r.defs = append(r.defs, d)
	return nil
}

// List returns the registered descriptors in registration order. The slice
// is a copy; callers cannot mutate the registry through it.
func (r *Registry) List() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, len(r.defs))
	copy(out, r.defs)
	return out
}
