package models

import "encoding/json"

// AgentState holds the two fields of an agent this system is allowed to
// mutate. Everything else on the agent directory is opaque to enforcement.
type AgentState struct {
	Active bool   `json:"active"`
	Model  string `json:"model"`
}

// Snapshot renders the state as JSON for audit storage
func (s AgentState) Snapshot() json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// AgentStatePatch is a partial update of an agent's mutable fields. Nil
// fields are left untouched.
type AgentStatePatch struct {
	Active *bool   `json:"active,omitempty"`
	Model  *string `json:"model,omitempty"`
}

// Apply returns the state with the patch applied
func (p AgentStatePatch) Apply(state AgentState) AgentState {
	if p.Active != nil {
		state.Active = *p.Active
	}
	if p.Model != nil {
		state.Model = *p.Model
	}
	return state
}
