package handlers

import (
	"net/http"

	"github.com/upb/agent-governance/models"
	"github.com/upb/agent-governance/utils"
)

// AgentLister exposes the configured subagent types.
type AgentLister interface {
	List() []*models.Agent
}

// AgentSummary is the public view of an agent definition. Prompts stay private.
type AgentSummary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Model       string          `json:"model,omitempty"`
	Timeout     string          `json:"timeout,omitempty"`
	Tools       map[string]bool `json:"tools,omitempty"`
}

// HandleListAgents handles GET /api/v1/agents
func HandleListAgents(agents AgentLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := agents.List()
		out := make([]AgentSummary, 0, len(list))
		for _, a := range list {
			s := AgentSummary{
				Name:        a.Name,
				Description: a.Description,
				Model:       a.Model,
				Tools:       a.Tools,
			}
			if a.Timeout > 0 {
				s.Timeout = a.Timeout.String()
			}
			out = append(out, s)
		}
		_ = utils.WriteOK(w, out)
	}
}
