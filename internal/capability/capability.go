// Package capability implements the Capabilities Manifest and the
// Capability Decay Manager: computing a spawned child's effective
// capabilities from its parent under decay, explicit, or inherit modes,
// and enforcing that children never exceed their parents.
package capability

import (
	"log/slog"

	"github.com/agentwarden/agentcore/internal/pattern"
)

// Mode selects how a child's capabilities are derived from its parent's.
type Mode string

const (
	ModeDecay    Mode = "decay"
	ModeExplicit Mode = "explicit"
	ModeInherit  Mode = "inherit"
)

// Capabilities is the manifest governing one agent: allow/deny sets,
// budgets, and spawn permissions.
type Capabilities struct {
	AllowedTools   []string `json:"allowedTools"`
	DeniedTools    []string `json:"deniedTools"`
	AllowedDomains []string `json:"allowedDomains"`
	DeniedDomains  []string `json:"deniedDomains"`

	MaxCostPerSession *float64 `json:"maxCostPerSession"`
	MaxCostPerDay     *float64 `json:"maxCostPerDay"`
	MaxTokensPerCall  *int     `json:"maxTokensPerCall"`
	MaxCallsPerMinute *int     `json:"maxCallsPerMinute"`

	MaySpawnChildren bool `json:"maySpawnChildren"`
	MaxChildDepth    int  `json:"maxChildDepth"`

	CapabilityMode Mode `json:"capabilityMode"`
}

// Validate checks the one manifest-level invariant: a manifest that may
// spawn must allow at least one further generation.
func (c Capabilities) Validate() []string {
	var errs []string
	if c.MaySpawnChildren && c.MaxChildDepth < 1 {
		errs = append(errs, "maySpawnChildren=true requires maxChildDepth>=1")
	}
	return errs
}

// Matchers compiles the manifest's four string lists into pattern.Lists.
// Built once per manifest; never recompiled on the hot path.
type Matchers struct {
	AllowedTools   pattern.List
	DeniedTools    pattern.List
	AllowedDomains pattern.List
	DeniedDomains  pattern.List
}

// CompileMatchers compiles c's four lists, failing on the first malformed
// regex pattern.
func CompileMatchers(c Capabilities) (Matchers, error) {
	var m Matchers
	var err error
	if m.AllowedTools, err = pattern.CompileList(c.AllowedTools); err != nil {
		return Matchers{}, err
	}
	if m.DeniedTools, err = pattern.CompileList(c.DeniedTools); err != nil {
		return Matchers{}, err
	}
	if m.AllowedDomains, err = pattern.CompileList(c.AllowedDomains); err != nil {
		return Matchers{}, err
	}
	if m.DeniedDomains, err = pattern.CompileList(c.DeniedDomains); err != nil {
		return Matchers{}, err
	}
	return m, nil
}

// ChildOptions is the caller-supplied request for a spawned child's
// capabilities. Nil pointer fields mean "not specified". The list fields
// do not distinguish nil from empty: either one means "not specified", and
// the parent's list is used.
type ChildOptions struct {
	Mode *Mode

	AllowedTools   []string
	DeniedTools    []string
	AllowedDomains []string
	DeniedDomains  []string

	MaxCostPerSession *float64
	MaxCostPerDay     *float64
	MaxTokensPerCall  *int

	MaySpawnChildren *bool
	MaxChildDepth    *int
}

// GlobalConfig is process-wide decay configuration (spec.md §6).
type GlobalConfig struct {
	DefaultMode      Mode
	CostDecayFactor  float64 // in (0,1]; default 0.8
	GlobalDenyTools  []string
	GlobalDenyDomains []string
	MinChildTools    []string
}

// DefaultGlobalConfig returns the documented defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultMode:     ModeDecay,
		CostDecayFactor: 0.8,
	}
}

// DecayResult is computeChild's return value.
type DecayResult struct {
	Valid    bool
	Effective Capabilities
	Warnings []string
	Errors   []string
}

// Manager computes child capabilities on spawn.
type Manager struct {
	cfg    GlobalConfig
	logger *slog.Logger

	onComputed  func(parentInstanceID string, result DecayResult)
	onEscalated func(parentInstanceID string, detail string)
}

// NewManager constructs a Manager with the given global configuration. A
// zero-value cfg.CostDecayFactor is normalised to the documented default.
func NewManager(cfg GlobalConfig, logger *slog.Logger) *Manager {
	if cfg.CostDecayFactor <= 0 || cfg.CostDecayFactor > 1 {
		cfg.CostDecayFactor = 0.8
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeDecay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "capability.Manager")}
}

// OnComputed registers a handler invoked after every computeChild call,
// whether or not it succeeded — the "capability.computed" /
// "capability.validated" emitter pair of spec.md §4.4 collapsed to one
// typed callback per spec.md §9's "single typed event channel" note.
func (m *Manager) OnComputed(fn func(parentInstanceID string, result DecayResult)) {
	m.onComputed = fn
}

// OnEscalationDenied registers a handler invoked whenever an escalation
// attempt is detected and denied ("capability.escalation_denied").
func (m *Manager) OnEscalationDenied(fn func(parentInstanceID string, detail string)) {
	m.onEscalated = fn
}

// ComputeChild computes a spawned child's effective capabilities from
// parent under the requested (or configured default) mode. generation is
// the child's generation depth (parent's generationDepth + 1), used for
// cost-decay exponentiation.
func (m *Manager) ComputeChild(parentInstanceID string, parent Capabilities, opts ChildOptions, generation int) DecayResult {
	mode := m.cfg.DefaultMode
	if opts.Mode != nil {
		mode = *opts.Mode
	}

	var result DecayResult
	switch mode {
	case ModeExplicit:
		result = m.computeExplicit(parent, opts)
	case ModeInherit:
		result = m.computeInherit(parent, opts, generation)
	default:
		result = m.computeDecay(parent, opts, generation)
	}

	result.Effective.CapabilityMode = mode
	m.applyGlobalDenies(&result.Effective)
	result.Valid = len(result.Errors) == 0

	if m.onComputed != nil {
		m.onComputed(parentInstanceID, result)
	}
	for _, e := range result.Errors {
		if m.onEscalated != nil {
			m.onEscalated(parentInstanceID, e)
		}
	}

	m.logger.Debug("child capabilities computed",
		"parent_instance_id", parentInstanceID,
		"mode", mode,
		"valid", result.Valid,
		"warning_count", len(result.Warnings),
		"error_count", len(result.Errors),
	)

	return result
}

func (m *Manager) applyGlobalDenies(c *Capabilities) {
	c.DeniedTools = unionStrings(c.DeniedTools, m.cfg.GlobalDenyTools)
	c.DeniedDomains = unionStrings(c.DeniedDomains, m.cfg.GlobalDenyDomains)
	if len(m.cfg.MinChildTools) > 0 {
		c.AllowedTools = unionStrings(c.AllowedTools, m.cfg.MinChildTools)
	}
}

// computeDecay intersects allow-lists with the parent's, unions deny-lists,
// decays cost/limits by costDecayFactor^generation capped at the parent's
// own limit, and decrements maxChildDepth.
func (m *Manager) computeDecay(parent Capabilities, opts ChildOptions, generation int) DecayResult {
	var result DecayResult

	allowedTools, toolErrs := intersectOrEscalate(parent.AllowedTools, opts.AllowedTools, "tool")
	result.Errors = append(result.Errors, toolErrs...)
	result.Effective.AllowedTools = allowedTools
	result.Effective.DeniedTools = unionStrings(parent.DeniedTools, opts.DeniedTools)

	allowedDomains, domainErrs := intersectOrEscalate(parent.AllowedDomains, opts.AllowedDomains, "domain")
	result.Errors = append(result.Errors, domainErrs...)
	result.Effective.AllowedDomains = allowedDomains
	result.Effective.DeniedDomains = unionStrings(parent.DeniedDomains, opts.DeniedDomains)

	decay := decayFactor(m.cfg.CostDecayFactor, generation)
	result.Effective.MaxCostPerSession = decayCost(parent.MaxCostPerSession, opts.MaxCostPerSession, decay)
	result.Effective.MaxCostPerDay = decayCost(parent.MaxCostPerDay, opts.MaxCostPerDay, decay)
	result.Effective.MaxTokensPerCall = capIntPtr(parent.MaxTokensPerCall, opts.MaxTokensPerCall)
	result.Effective.MaxCallsPerMinute = parent.MaxCallsPerMinute

	result.Effective.MaxChildDepth = maxInt(0, parent.MaxChildDepth-1)

	maySpawn, warn := decaySpawnPermission(parent.MaySpawnChildren, opts.MaySpawnChildren)
	result.Effective.MaySpawnChildren = maySpawn
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	return result
}

// computeExplicit starts from the caller-supplied set, validating every
// field stays within the parent's bounds rather than intersecting.
func (m *Manager) computeExplicit(parent Capabilities, opts ChildOptions) DecayResult {
	var result DecayResult

	allowedTools := coalesce(opts.AllowedTools, parent.AllowedTools)
	if errs := validateSubset(parent.AllowedTools, allowedTools, "tool"); len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)
	}
	result.Effective.AllowedTools = allowedTools
	result.Effective.DeniedTools = unionStrings(parent.DeniedTools, opts.DeniedTools)

	allowedDomains := coalesce(opts.AllowedDomains, parent.AllowedDomains)
	if errs := validateSubset(parent.AllowedDomains, allowedDomains, "domain"); len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)
	}
	result.Effective.AllowedDomains = allowedDomains
	result.Effective.DeniedDomains = unionStrings(parent.DeniedDomains, opts.DeniedDomains)

	result.Effective.MaxCostPerSession = capFloatPtr(parent.MaxCostPerSession, opts.MaxCostPerSession)
	result.Effective.MaxCostPerDay = capFloatPtr(parent.MaxCostPerDay, opts.MaxCostPerDay)
	result.Effective.MaxTokensPerCall = capIntPtr(parent.MaxTokensPerCall, opts.MaxTokensPerCall)
	result.Effective.MaxCallsPerMinute = parent.MaxCallsPerMinute

	childDepth := parent.MaxChildDepth - 1
	if opts.MaxChildDepth != nil && *opts.MaxChildDepth < childDepth {
		childDepth = *opts.MaxChildDepth
	}
	result.Effective.MaxChildDepth = maxInt(0, childDepth)

	maySpawn, warn := decaySpawnPermission(parent.MaySpawnChildren, opts.MaySpawnChildren)
	result.Effective.MaySpawnChildren = maySpawn
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	return result
}

// computeInherit copies the parent's manifest verbatim, decrementing
// maxChildDepth and always applying cost decay to the cost limits; opts is
// not consulted, so the decay cannot be turned off in this mode.
func (m *Manager) computeInherit(parent Capabilities, opts ChildOptions, generation int) DecayResult {
	result := DecayResult{Effective: parent}
	decay := decayFactor(m.cfg.CostDecayFactor, generation)
	result.Effective.MaxCostPerSession = decayCost(parent.MaxCostPerSession, nil, decay)
	result.Effective.MaxCostPerDay = decayCost(parent.MaxCostPerDay, nil, decay)
	result.Effective.MaxChildDepth = maxInt(0, parent.MaxChildDepth-1)
	return result
}

// CompareResult is compareCapabilities' return value: the canonical
// post-hoc check between a parent and a computed child.
type CompareResult struct {
	AddedTools       []string
	RemovedTools     []string
	AddedDomains     []string
	RemovedDomains   []string
	IncreasedLimits  []string
	DecreasedLimits  []string
	IsDecayed        bool
	HasEscalation    bool
}

// CompareCapabilities diffs a parent and child manifest.
func CompareCapabilities(parent, child Capabilities) CompareResult {
	var r CompareResult

	r.AddedTools, r.RemovedTools = diffLists(parent.AllowedTools, child.AllowedTools)
	r.AddedDomains, r.RemovedDomains = diffLists(parent.AllowedDomains, child.AllowedDomains)

	parentWildcard := contains(parent.AllowedTools, "*")
	if contains(child.AllowedTools, "*") && !parentWildcard {
		r.HasEscalation = true
	}
	parentDomainWildcard := contains(parent.AllowedDomains, "*")
	if contains(child.AllowedDomains, "*") && !parentDomainWildcard {
		r.HasEscalation = true
	}
	if len(r.AddedTools) > 0 && !parentWildcard {
		r.HasEscalation = true
	}
	if len(r.AddedDomains) > 0 && !parentDomainWildcard {
		r.HasEscalation = true
	}

	compareLimit := func(name string, p, c *float64) {
		switch {
		case p == nil && c != nil:
			r.IncreasedLimits = append(r.IncreasedLimits, name)
		case p != nil && c == nil:
			r.DecreasedLimits = append(r.DecreasedLimits, name)
		case p != nil && c != nil:
			if *c > *p {
				r.IncreasedLimits = append(r.IncreasedLimits, name)
				r.HasEscalation = true
			} else if *c < *p {
				r.DecreasedLimits = append(r.DecreasedLimits, name)
			}
		}
	}
	compareLimit("maxCostPerSession", parent.MaxCostPerSession, child.MaxCostPerSession)
	compareLimit("maxCostPerDay", parent.MaxCostPerDay, child.MaxCostPerDay)

	if child.MaxChildDepth > parent.MaxChildDepth {
		r.IncreasedLimits = append(r.IncreasedLimits, "maxChildDepth")
		r.HasEscalation = true
	} else if child.MaxChildDepth < parent.MaxChildDepth {
		r.DecreasedLimits = append(r.DecreasedLimits, "maxChildDepth")
	}

	if !parent.MaySpawnChildren && child.MaySpawnChildren {
		r.IncreasedLimits = append(r.IncreasedLimits, "maySpawnChildren")
		r.HasEscalation = true
	}

	r.IsDecayed = len(r.DecreasedLimits) > 0 || len(r.RemovedTools) > 0 || len(r.RemovedDomains) > 0

	return r
}

// --- helpers ---

func decayFactor(base float64, generation int) float64 {
	f := 1.0
	for i := 0; i < generation; i++ {
		f *= base
	}
	return f
}

func decayCost(parent, requested *float64, decay float64) *float64 {
	if parent == nil && requested == nil {
		return nil
	}
	v := 0.0
	switch {
	case requested != nil && parent != nil:
		v = *requested
		if v > *parent {
			v = *parent
		}
	case requested != nil:
		v = *requested
	case parent != nil:
		v = *parent
	}
	v *= decay
	return &v
}

func capFloatPtr(parent, requested *float64) *float64 {
	if requested == nil {
		return parent
	}
	if parent == nil {
		return requested
	}
	v := *requested
	if v > *parent {
		v = *parent
	}
	return &v
}

func capIntPtr(parent, requested *int) *int {
	if requested == nil {
		return parent
	}
	if parent == nil {
		return requested
	}
	v := *requested
	if v > *parent {
		v = *parent
	}
	return &v
}

func decaySpawnPermission(parentMay bool, requested *bool) (bool, string) {
	want := parentMay
	if requested != nil {
		want = *requested
	}
	if want && !parentMay {
		return false, "maySpawnChildren downgraded to false: parent does not permit spawning"
	}
	return want, ""
}

// intersectOrEscalate intersects requested against parent (unless parent
// has a wildcard, in which case anything requested is allowed); entries in
// requested that aren't covered by parent are reported as escalation
// errors and dropped from the effective set. A nil/empty requested list
// falls back to the parent's list unchanged.
func intersectOrEscalate(parentList, requested []string, kind string) ([]string, []string) {
	if len(requested) == 0 {
		return append([]string{}, parentList...), nil
	}

	parentWildcard := contains(parentList, "*")
	var effective []string
	var errs []string

	for _, r := range requested {
		if r == "*" {
			if parentWildcard {
				effective = append(effective, "*")
			} else {
				errs = append(errs, escalationCode(kind)+": wildcard requested for "+kind+" without parent wildcard")
			}
			continue
		}
		if parentWildcard || contains(parentList, r) {
			effective = append(effective, r)
		} else {
			errs = append(errs, escalationCode(kind)+": "+r)
		}
	}

	return effective, errs
}

func escalationCode(kind string) string {
	if kind == "domain" {
		return "DOMAIN_ESCALATION"
	}
	return "TOOL_ESCALATION"
}

func validateSubset(parentList, requested []string, kind string) []string {
	parentWildcard := contains(parentList, "*")
	var errs []string
	for _, r := range requested {
		if parentWildcard {
			continue
		}
		if r == "*" || !contains(parentList, r) {
			errs = append(errs, escalationCode(kind)+": "+r)
		}
	}
	return errs
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func diffLists(parent, child []string) (added, removed []string) {
	parentSet := make(map[string]bool, len(parent))
	for _, p := range parent {
		parentSet[p] = true
	}
	childSet := make(map[string]bool, len(child))
	for _, c := range child {
		childSet[c] = true
		if !parentSet[c] {
			added = append(added, c)
		}
	}
	for _, p := range parent {
		if !childSet[p] {
			removed = append(removed, p)
		}
	}
	return added, removed
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func coalesce(preferred, fallback []string) []string {
	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
