package bot

import (
	"fmt"
	"sort"
	"strings"
)

// Command is a registered slash command.
type Command struct {
	Name      string
	Help      string
	AdminOnly bool
	Handler   func(c *Context) error
}

// Registry holds the command table. Registration is explicit and rejects
// duplicate names so a wiring mistake surfaces at startup, not at dispatch.
type Registry struct {
	byName map[string]Command
}

// NewRegistry returns an empty command table.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Command{}}
}

// Register adds cmd to the table. Names are matched case-insensitively;
// registering an empty name, a nil handler, or a name that is already taken
// is an error.
func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return fmt.Errorf("bot: command with empty name")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("bot: command %q has no handler", name)
	}
	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("bot: command %q registered twice", name)
	}
	cmd.Name = name
	r.byName[name] = cmd
	return nil
}

// Lookup resolves a command name case-insensitively.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// List returns all commands sorted by name.
func (r *Registry) List() []Command {
	out := make([]Command, 0, len(r.byName))
	for _, cmd := range r.byName {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
