// Package identity builds and validates the Runtime Identity: a bound,
// hashed description of an agent instance, its approved business
// justification (golden thread), its risk tier, its capabilities, and its
// lineage. An Identity is immutable once built — mode changes or
// re-capability grants produce a new, derived Identity rather than
// mutating the original.
package identity

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentwarden/agentcore/internal/canon"
	"github.com/agentwarden/agentcore/internal/capability"
)

// RiskLevel classifies the asset's risk tier.
type RiskLevel string

const (
	RiskMinimal      RiskLevel = "minimal"
	RiskLimited      RiskLevel = "limited"
	RiskHigh         RiskLevel = "high"
	RiskUnacceptable RiskLevel = "unacceptable"
)

// Mode is the agent's operating mode.
type Mode string

const (
	ModeNormal     Mode = "NORMAL"
	ModeSandbox    Mode = "SANDBOX"
	ModeRestricted Mode = "RESTRICTED"
)

// GoldenThreadKind tags a GoldenThread as linked or orphaned.
type GoldenThreadKind string

const (
	ThreadLinked GoldenThreadKind = "linked"
	ThreadOrphan GoldenThreadKind = "orphan"
)

// GoldenThread ties an asset to its business authorisation, or records why
// one is missing.
type GoldenThread struct {
	Kind GoldenThreadKind `json:"kind"`

	// Linked fields.
	System     string     `json:"system,omitempty"`
	Ref        string     `json:"ref,omitempty"`
	URL        string     `json:"url,omitempty"`
	Status     string     `json:"status,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`

	// Orphan fields.
	Reason              string     `json:"reason,omitempty"`
	DeclaredBy          string     `json:"declaredBy,omitempty"`
	DeclaredAt          *time.Time `json:"declaredAt,omitempty"`
	RemediationDeadline *time.Time `json:"remediationDeadline,omitempty"`
	RemediationNote     string     `json:"remediationNote,omitempty"`
}

// Lineage records an identity's position in its spawn tree.
type Lineage struct {
	ParentInstanceID *string   `json:"parentInstanceId"`
	GenerationDepth  int       `json:"generationDepth"`
	AncestorChain    []string  `json:"ancestorChain"`
	RootInstanceID   string    `json:"rootInstanceId"`
	SpawnedAt        time.Time `json:"spawnedAt"`
}

// Identity is the immutable Runtime Identity.
type Identity struct {
	InstanceID       string                `json:"instanceId"`
	AssetID          string                `json:"assetId"`
	AssetName        string                `json:"assetName"`
	AssetVersion     string                `json:"assetVersion"`
	RiskLevel        RiskLevel             `json:"riskLevel"`
	Mode             Mode                  `json:"mode"`
	GoldenThreadHash string                `json:"goldenThreadHash"`
	GoldenThread     GoldenThread          `json:"goldenThread"`
	Capabilities     capability.Capabilities `json:"capabilities"`
	Lineage          Lineage               `json:"lineage"`
	Verified         bool                  `json:"verified"`
	CreatedAt        time.Time             `json:"createdAt"`
}

// BuildOptions parametrises Build.
type BuildOptions struct {
	AssetID      string
	AssetName    string
	AssetVersion string
	RiskLevel    RiskLevel
	Mode         Mode
	GoldenThread GoldenThread
	Capabilities capability.Capabilities

	// Parent, when non-nil, makes the built identity a spawned child: its
	// lineage is derived from the parent's rather than starting fresh.
	Parent *Identity
}

// Builder constructs Identities and logs construction events.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns a Builder; a nil logger falls back to slog.Default().
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger.With("component", "identity.Builder")}
}

// Build constructs a new Identity. now is injected for determinism in
// tests and checkpoint-adjacent callers; production callers pass
// time.Now().UTC().
func (b *Builder) Build(opts BuildOptions, now time.Time) (Identity, error) {
	instanceID := uuid.NewString()

	hash, verified, err := hashGoldenThread(opts.GoldenThread)
	if err != nil {
		return Identity{}, err
	}

	lineage := rootLineage(instanceID, now)
	if opts.Parent != nil {
		lineage = childLineage(opts.Parent.Lineage, opts.Parent.InstanceID, now)
	}

	id := Identity{
		InstanceID:       instanceID,
		AssetID:          opts.AssetID,
		AssetName:        opts.AssetName,
		AssetVersion:     opts.AssetVersion,
		RiskLevel:        opts.RiskLevel,
		Mode:             opts.Mode,
		GoldenThreadHash: hash,
		GoldenThread:     opts.GoldenThread,
		Capabilities:     opts.Capabilities,
		Lineage:          lineage,
		Verified:         verified,
		CreatedAt:        now,
	}

	b.logger.Info("identity built",
		"instance_id", id.InstanceID,
		"asset_id", id.AssetID,
		"generation_depth", id.Lineage.GenerationDepth,
		"verified", id.Verified,
	)

	return id, nil
}

// WithMode returns a derived Identity with a different Mode. The original
// is never mutated; the derived value is a copy that keeps the same
// InstanceID, lineage and golden thread, with only Mode changed.
func (id Identity) WithMode(mode Mode) Identity {
	derived := id
	derived.Mode = mode
	return derived
}

func rootLineage(instanceID string, now time.Time) Lineage {
	return Lineage{
		ParentInstanceID: nil,
		GenerationDepth:  0,
		AncestorChain:    []string{},
		RootInstanceID:   instanceID,
		SpawnedAt:        now,
	}
}

func childLineage(parent Lineage, parentInstanceID string, now time.Time) Lineage {
	chain := make([]string, len(parent.AncestorChain), len(parent.AncestorChain)+1)
	copy(chain, parent.AncestorChain)
	chain = append(chain, parentInstanceID)

	pid := parentInstanceID
	return Lineage{
		ParentInstanceID: &pid,
		GenerationDepth:  parent.GenerationDepth + 1,
		AncestorChain:    chain,
		RootInstanceID:   parent.RootInstanceID,
		SpawnedAt:        now,
	}
}

// hashGoldenThread computes the sha256 over a canonicalised golden thread
// record and reports whether the thread verifies (a linked thread with a
// non-zero VerifiedAt; an orphan never verifies).
func hashGoldenThread(gt GoldenThread) (hash string, verified bool, err error) {
	h, err := canon.Hash(gt)
	if err != nil {
		return "", false, err
	}
	verified = gt.Kind == ThreadLinked && gt.VerifiedAt != nil
	return h, verified, nil
}

// ValidateInvariants checks the structural invariants spec.md §3/§8 require
// of any Identity: generationDepth == 0 iff parentInstanceId == nil iff
// rootInstanceId == instanceId; ancestorChain length equals generation
// depth; and the chain's leaf equals the parent instance id.
func (id Identity) ValidateInvariants() []string {
	var errs []string

	isRoot := id.Lineage.GenerationDepth == 0
	hasParent := id.Lineage.ParentInstanceID != nil
	isSelfRoot := id.Lineage.RootInstanceID == id.InstanceID

	if isRoot == hasParent {
		errs = append(errs, "generationDepth==0 must be equivalent to parentInstanceId==null")
	}
	if isRoot != isSelfRoot {
		errs = append(errs, "generationDepth==0 must be equivalent to rootInstanceId==instanceId")
	}
	if len(id.Lineage.AncestorChain) != id.Lineage.GenerationDepth {
		errs = append(errs, "ancestorChain length must equal generationDepth")
	}
	if hasParent {
		if len(id.Lineage.AncestorChain) == 0 || id.Lineage.AncestorChain[len(id.Lineage.AncestorChain)-1] != *id.Lineage.ParentInstanceID {
			errs = append(errs, "ancestorChain leaf must equal parentInstanceId")
		}
	}

	return errs
}
