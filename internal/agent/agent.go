// Package agent defines the closed roster of agent identities tasks can be
// assigned to, and resolves free-form names onto it.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imkarma/hivegate/internal/config"
)

// Code identifies one roster member.
type Code string

// Agent is a roster member.
type Agent struct {
	Code    Code
	Role    string
	Aliases []string
}

// Roster is the closed set of agents plus the alias table that maps other
// names onto them. It is immutable after construction.
type Roster struct {
	agents   map[Code]Agent
	names    map[string]Code // codes and aliases, normalized
	fallback Code
	lead     Code
	legacy   string
}

// New builds a roster. fallback must be one of agents; lead may be empty.
// legacy is the generic assignee found on older tasks and need not be a
// member.
func New(agents []Agent, fallback, lead Code, legacy string) (*Roster, error) {
	r := &Roster{
		agents:   make(map[Code]Agent, len(agents)),
		names:    make(map[string]Code),
		fallback: fallback,
		lead:     lead,
		legacy:   normalize(legacy),
	}

	for _, a := range agents {
		code := Code(normalize(string(a.Code)))
		if code == "" {
			return nil, fmt.Errorf("%w: agent with empty code", config.ErrConfiguration)
		}
		a.Code = code
		r.agents[code] = a
		if err := r.bind(string(code), code); err != nil {
			return nil, err
		}
	}
	// Aliases bind after codes so an alias can never shadow a real code.
	for _, a := range agents {
		code := Code(normalize(string(a.Code)))
		for _, alias := range a.Aliases {
			if err := r.bind(alias, code); err != nil {
				return nil, err
			}
		}
	}

	if _, ok := r.agents[fallback]; !ok {
		return nil, fmt.Errorf("%w: fallback agent %q is not in the roster", config.ErrConfiguration, fallback)
	}
	if lead != "" {
		if _, ok := r.agents[lead]; !ok {
			return nil, fmt.Errorf("%w: lead agent %q is not in the roster", config.ErrConfiguration, lead)
		}
	}
	return r, nil
}

func (r *Roster) bind(name string, code Code) error {
	key := normalize(name)
	if key == "" {
		return nil
	}
	if existing, ok := r.names[key]; ok && existing != code {
		return fmt.Errorf("%w: name %q maps to both %q and %q", config.ErrConfiguration, key, existing, code)
	}
	r.names[key] = code
	return nil
}

// FromConfig builds the roster described by the agents and roster sections.
func FromConfig(cfg *config.Config) (*Roster, error) {
	agents := make([]Agent, 0, len(cfg.Agents))
	for _, name := range cfg.AgentNames() {
		a := cfg.Agents[name]
		agents = append(agents, Agent{Code: Code(name), Role: a.Role, Aliases: a.Aliases})
	}
	return New(agents, Code(cfg.Roster.Fallback), Code(cfg.Roster.Lead), cfg.Roster.Legacy)
}

// DefaultRoster returns the roster of the default configuration.
func DefaultRoster() *Roster {
	r, err := FromConfig(config.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup maps a code or alias to its roster code.
func (r *Roster) Lookup(name string) (Code, bool) {
	code, ok := r.names[normalize(name)]
	return code, ok
}

// Resolve maps name onto the roster, coercing unknown or empty names to the
// fallback agent.
func (r *Roster) Resolve(name string) Code {
	if code, ok := r.Lookup(name); ok {
		return code
	}
	return r.fallback
}

// Fallback returns the code unknown assignees are coerced to.
func (r *Roster) Fallback() Code { return r.fallback }

// IsLead reports whether code is the lead agent, which also works the legacy queue.
func (r *Roster) IsLead(code Code) bool { return r.lead != "" && code == r.lead }

// Legacy returns the generic assignee value carried by older tasks.
func (r *Roster) Legacy() string { return r.legacy }

// Codes returns all roster codes in sorted order.
func (r *Roster) Codes() []Code {
	codes := make([]Code, 0, len(r.agents))
	for c := range r.agents {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
