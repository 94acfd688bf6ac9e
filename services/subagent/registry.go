package subagent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/services"
)

// Built-in agent names.
const (
	AgentGeneral = "general"
	AgentExplore = "explore"
)

func builtinAgents() []models.Agent {
	return []models.Agent{
		{
			Name:        AgentGeneral,
			Description: "General-purpose agent for researching complex questions and executing multi-step tasks.",
		},
		{
			Name:        AgentExplore,
			Description: "Fast agent for finding files, searching code and answering questions about a codebase.",
			Timeout:     5 * time.Minute,
		},
	}
}

// agentFile is the on-disk layout of an agent definitions file.
type agentFile struct {
	Agents []models.Agent `yaml:"agents"`
}

// Registry holds agent definitions by name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]models.Agent
}

// NewRegistry returns a registry holding the built-in agents.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]models.Agent)}
	for _, a := range builtinAgents() {
		r.agents[a.Name] = a
	}
	return r
}

// LoadRegistry returns the built-ins overlaid with the definitions in path.
// A missing file is not an error.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agent definitions: %w", err)
	}
	if err := r.LoadYAML(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// LoadYAML registers every agent in data. A file entry replaces a built-in of
// the same name.
func (r *Registry) LoadYAML(data []byte) error {
	var f agentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse agent definitions: %w", err)
	}
	for _, a := range f.Agents {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces one definition.
func (r *Registry) Register(a models.Agent) error {
	if a.Name == "" {
		return errors.New("agent definition without a name")
	}
	if a.Timeout < 0 {
		return fmt.Errorf("agent %s: negative timeout", a.Name)
	}
	if a.Budget.MaxToolCalls != nil && *a.Budget.MaxToolCalls <= 0 {
		return fmt.Errorf("agent %s: max_tool_calls must be positive", a.Name)
	}
	if a.Budget.MaxTokens != nil && *a.Budget.MaxTokens <= 0 {
		return fmt.Errorf("agent %s: max_tokens must be positive", a.Name)
	}

	r.mu.Lock()
	r.agents[a.Name] = a
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the named definition.
func (r *Registry) Get(name string) (*models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, false
	}
	return &a, true
}

// Resolve looks up every name. It fails on the first unknown name without
// returning any definitions.
func (r *Registry) Resolve(names []string) ([]*models.Agent, error) {
	out := make([]*models.Agent, len(names))
	for i, name := range names {
		a, ok := r.Get(name)
		if !ok {
			return nil, services.NewUnknownAgentError(name)
		}
		out[i] = a
	}
	return out, nil
}

// List returns all definitions ordered by name.
func (r *Registry) List() []*models.Agent {
	r.mu.RLock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		a := a
		out = append(out, &a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
