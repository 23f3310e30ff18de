// Package spawn tracks the spawn tree of runtime identities and governs
// whether an agent may spawn a child, how many generations deep the tree
// may grow, and what happens to descendants when an ancestor is killed.
//
// Capability inheritance itself — deciding what a spawned child is allowed
// to do — is delegated to capability.Manager; the Governor's job is the
// tree bookkeeping around that decision: per-parent and global spawn
// limits, human-approval gating, and cascade kill.
package spawn

import (
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/agentwarden/agentcore/internal/capability"
)

// Config is process-wide spawn governance configuration (spec.md §6).
type Config struct {
	Enabled             bool
	MaxChildrenPerAgent int
	MaxDepth            int
	MaxGlobalAgents     int
	RequireApproval     bool
	CascadeKill         bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		MaxChildrenPerAgent: 10,
		MaxDepth:            5,
		MaxGlobalAgents:     1000,
		RequireApproval:     false,
		CascadeKill:         true,
	}
}

// AgentNode is one node in the spawn tree.
type AgentNode struct {
	AgentID      string
	ParentID     string
	Depth        int
	Children     []string
	CreatedAt    time.Time
	Capabilities capability.Capabilities
}

// SpawnResult is RequestSpawn's outcome. Capabilities and DecayWarnings
// are only meaningful when Allowed is true.
type SpawnResult struct {
	Allowed       bool
	Reason        string
	Capabilities  capability.Capabilities
	DecayWarnings []string
}

// Governor tracks the live spawn tree and decides whether a requested
// spawn is permitted.
type Governor struct {
	mu     sync.Mutex
	config Config
	capMgr *capability.Manager
	agents map[string]*AgentNode
	logger *slog.Logger
}

// NewGovernor constructs a Governor. capMgr computes each child's
// effective capabilities on spawn; a nil capMgr falls back to a
// freshly-built one under capability.DefaultGlobalConfig().
func NewGovernor(cfg Config, capMgr *capability.Manager, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	if capMgr == nil {
		capMgr = capability.NewManager(capability.DefaultGlobalConfig(), logger)
	}
	return &Governor{
		config: cfg,
		capMgr: capMgr,
		agents: make(map[string]*AgentNode),
		logger: logger.With("component", "spawn.Governor"),
	}
}

// RegisterRoot registers agentID as a generation-0 root with the given
// capabilities if it is not already known. Re-registering an existing
// root is a no-op — the first registration wins.
func (g *Governor) RegisterRoot(agentID string, caps capability.Capabilities) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.agents[agentID]; exists {
		return
	}
	g.agents[agentID] = &AgentNode{
		AgentID:      agentID,
		ParentID:     "",
		Depth:        0,
		CreatedAt:    time.Now(),
		Capabilities: caps,
	}
}

// RequestSpawn evaluates whether parentID may spawn childID with the
// requested capability options, and if so computes and registers the
// child's decayed effective capabilities.
func (g *Governor) RequestSpawn(parentID, childID string, opts capability.ChildOptions) SpawnResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.config.Enabled {
		return SpawnResult{Allowed: false, Reason: "agent spawning is disabled"}
	}

	if g.config.MaxGlobalAgents > 0 && len(g.agents) >= g.config.MaxGlobalAgents {
		return SpawnResult{Allowed: false, Reason: fmt.Sprintf("global agent limit reached (%d)", g.config.MaxGlobalAgents)}
	}

	parent, ok := g.agents[parentID]
	if !ok {
		parent = &AgentNode{AgentID: parentID, Depth: 0, CreatedAt: time.Now()}
		g.agents[parentID] = parent
	}

	if !parent.Capabilities.MaySpawnChildren && parentHasKnownCapabilities(parent) {
		return SpawnResult{Allowed: false, Reason: "parent capabilities do not permit spawning"}
	}

	childDepth := parent.Depth + 1
	if g.config.MaxDepth > 0 && childDepth > g.config.MaxDepth {
		return SpawnResult{Allowed: false, Reason: fmt.Sprintf("max spawn depth exceeded (%d)", g.config.MaxDepth)}
	}

	if g.config.MaxChildrenPerAgent > 0 && len(parent.Children) >= g.config.MaxChildrenPerAgent {
		return SpawnResult{Allowed: false, Reason: fmt.Sprintf("max children per agent reached (%d)", g.config.MaxChildrenPerAgent)}
	}

	if g.config.RequireApproval {
		return SpawnResult{Allowed: false, Reason: "spawn requires human approval"}
	}

	decay := g.capMgr.ComputeChild(parentID, parent.Capabilities, opts, childDepth)
	if !decay.Valid {
		reason := "requested capabilities exceed parent's"
		if len(decay.Errors) > 0 {
			reason = decay.Errors[0]
		}
		return SpawnResult{Allowed: false, Reason: reason}
	}

	child := &AgentNode{
		AgentID:      childID,
		ParentID:     parentID,
		Depth:        childDepth,
		CreatedAt:    time.Now(),
		Capabilities: decay.Effective,
	}
	g.agents[childID] = child
	parent.Children = append(parent.Children, childID)

	g.logger.Info("agent spawned",
		"parent_id", parentID,
		"child_id", childID,
		"depth", childDepth,
		"warnings", len(decay.Warnings),
	)

	return SpawnResult{Allowed: true, Capabilities: decay.Effective, DecayWarnings: decay.Warnings}
}

// parentHasKnownCapabilities reports whether parent carries a manifest
// worth enforcing maySpawnChildren against. Auto-registered parents (seen
// only as the source of a spawn request, never themselves registered via
// RegisterRoot or a prior spawn) start from a zero-value Capabilities and
// are treated permissively, since there is nothing to inherit from.
func parentHasKnownCapabilities(node *AgentNode) bool {
	c := node.Capabilities
	return len(c.AllowedTools) > 0 || len(c.AllowedDomains) > 0 || c.MaxCostPerSession != nil || c.MaxCostPerDay != nil
}

// KillAgent removes agentID from the tree. If CascadeKill is configured,
// all descendants are removed too; otherwise only agentID is removed and
// its children stay in the tree unchanged, their ParentID still naming the
// removed agent. Returns the IDs of every agent removed.
func (g *Governor) KillAgent(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.agents[agentID]
	if !ok {
		return nil
	}

	var killed []string
	if g.config.CascadeKill {
		killed = g.cascadeKill(agentID)
	} else {
		killed = []string{agentID}
		delete(g.agents, agentID)
	}

	if node.ParentID != "" {
		if parent, ok := g.agents[node.ParentID]; ok {
			parent.Children = removeString(parent.Children, agentID)
		}
	}

	g.logger.Info("agent killed", "agent_id", agentID, "cascade", g.config.CascadeKill, "killed_count", len(killed))
	return killed
}

func (g *Governor) cascadeKill(agentID string) []string {
	node, ok := g.agents[agentID]
	if !ok {
		return nil
	}
	killed := []string{agentID}
	children := append([]string(nil), node.Children...)
	delete(g.agents, agentID)
	for _, childID := range children {
		killed = append(killed, g.cascadeKill(childID)...)
	}
	return killed
}

// GetTree returns a snapshot of the full spawn tree keyed by agent ID.
func (g *Governor) GetTree() map[string]*AgentNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	tree := make(map[string]*AgentNode, len(g.agents))
	for id, node := range g.agents {
		copied := *node
		copied.Children = append([]string(nil), node.Children...)
		tree[id] = &copied
	}
	return tree
}

// GetDescendants returns the IDs of every descendant of agentID (not
// including agentID itself).
func (g *Governor) GetDescendants(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	g.collectDescendants(agentID, &out)
	return out
}

func (g *Governor) collectDescendants(agentID string, out *[]string) {
	node, ok := g.agents[agentID]
	if !ok {
		return
	}
	for _, childID := range node.Children {
		*out = append(*out, childID)
		g.collectDescendants(childID, out)
	}
}

// AgentCount returns the number of agents currently tracked in the tree.
func (g *Governor) AgentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.agents)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
