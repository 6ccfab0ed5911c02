// Package inventory tracks which resources exist, which agent owns them,
// how groups are composed and when each agent last checked in.
package inventory

import (
	"sort"
	"sync"
	"time"

	"availtrack/internal/models"
)

// Group is a named set of resources.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Resources []string `json:"resources"`
}

// Registry is an in-memory inventory safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*models.Agent
	owners    map[string]string
	resources map[string][]string
	groups    map[string]Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:    make(map[string]*models.Agent),
		owners:    make(map[string]string),
		resources: make(map[string][]string),
		groups:    make(map[string]Group),
	}
}

// Register records that agent owns resourceID, moving it from any previous owner.
func (r *Registry) Register(agent, resourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureAgentLocked(agent)
	if previous, ok := r.owners[resourceID]; ok {
		if previous == agent {
			return
		}
		r.resources[previous] = removeString(r.resources[previous], resourceID)
	}
	r.owners[resourceID] = agent
	r.resources[agent] = append(r.resources[agent], resourceID)
}

// Unregister forgets a resource. Later reports for it are treated as stale.
func (r *Registry) Unregister(resourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[resourceID]
	if !ok {
		return
	}
	delete(r.owners, resourceID)
	r.resources[owner] = removeString(r.resources[owner], resourceID)
}

// DefineGroup adds or replaces a group definition.
func (r *Registry) DefineGroup(group Group) {
	members := make([]string, len(group.Resources))
	copy(members, group.Resources)
	group.Resources = members

	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group.ID] = group
}

// ResourceExists reports whether the resource is known.
func (r *Registry) ResourceExists(resourceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[resourceID]
	return ok
}

// ResourcesForAgent returns the resources owned by agent, sorted.
func (r *Registry) ResourcesForAgent(agent string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.resources[agent]))
	copy(out, r.resources[agent])
	sort.Strings(out)
	return out
}

// Agents returns a snapshot of every agent's liveness state, sorted by name.
func (r *Registry) Agents() []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, *agent)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Agent returns the named agent.
func (r *Registry) Agent(name string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	if !ok {
		return models.Agent{}, false
	}
	return *agent, true
}

// GroupMembers returns the member resources of a group.
func (r *Registry) GroupMembers(groupID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[groupID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(group.Resources))
	copy(out, group.Resources)
	return out, true
}

// Groups returns every group definition, sorted by id.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Group, 0, len(r.groups))
	for _, group := range r.groups {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Heartbeat records that agent is alive at t and re-arms backfill for it.
func (r *Registry) Heartbeat(agent string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.ensureAgentLocked(agent)
	if t.After(a.LastHeartbeat) {
		a.LastHeartbeat = t
	}
	a.Backfilled = false
}

// RecordReport notes the time of the agent's latest report.
func (r *Registry) RecordReport(agent string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.ensureAgentLocked(agent)
	if t.After(a.LastReport) {
		a.LastReport = t
	}
}

// MarkBackfilled flags the agent's resources as already backfilled.
func (r *Registry) MarkBackfilled(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[agent]; ok {
		a.Backfilled = true
	}
}

func (r *Registry) ensureAgentLocked(name string) *models.Agent {
	agent, ok := r.agents[name]
	if !ok {
		agent = &models.Agent{Name: name}
		r.agents[name] = agent
	}
	return agent
}

func removeString(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
