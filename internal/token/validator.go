package token

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrorCode enumerates the Validator's failure taxonomy (spec.md §4.7).
type ErrorCode string

const (
	ErrInvalidFormat    ErrorCode = "INVALID_FORMAT"
	ErrInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	ErrExpired          ErrorCode = "EXPIRED"
	ErrNotYetValid      ErrorCode = "NOT_YET_VALID"
	ErrInvalidIssuer    ErrorCode = "INVALID_ISSUER"
	ErrInvalidAudience  ErrorCode = "INVALID_AUDIENCE"
	ErrInvalidClaims    ErrorCode = "INVALID_CLAIMS"
	ErrKeyNotFound      ErrorCode = "KEY_NOT_FOUND"
	ErrPaused           ErrorCode = "PAUSED"
	ErrTerminationPending ErrorCode = "TERMINATION_PENDING"

	WarnExpiringSoon = "EXPIRING_SOON"
)

// ValidationError is a typed, non-panicking validation failure.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string { return string(e.Code) + ": " + e.Message }

// Result is the Validator's outcome: either Claims is populated and Error
// is nil, or vice versa. Warnings may be present alongside success.
type Result struct {
	Claims   *AigosClaims
	Error    *ValidationError
	Warnings []string
}

// JwksProvider is the external collaborator fetching signing keys by kid
// (spec.md §6).
type JwksProvider interface {
	Fetch() ([]Key, error)
}

// ValidatorConfig configures the Validator.
type ValidatorConfig struct {
	AllowedAlgorithms  []string
	Issuer             string
	Audience           string
	MaxClockSkew       time.Duration // default 60s
	ValidateControl    bool          // reject paused/terminating tokens
	JwksCacheTTL       time.Duration // default 1h
}

// DefaultValidatorConfig fills in documented defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		AllowedAlgorithms: []string{"RS256", "ES256", "HS256", "EdDSA"},
		MaxClockSkew:      60 * time.Second,
		JwksCacheTTL:      time.Hour,
	}
}

// Validator validates AIGOS governance tokens.
type Validator struct {
	cfg    ValidatorConfig
	keys   *KeyStore
	jwks   JwksProvider
	logger *slog.Logger

	mu           sync.Mutex
	jwksFetched  time.Time
	refreshing   bool
}

// NewValidator constructs a Validator. jwks may be nil if no refresh
// endpoint is configured — unknown kids then always fail KEY_NOT_FOUND.
func NewValidator(cfg ValidatorConfig, keys *KeyStore, jwks JwksProvider, logger *slog.Logger) *Validator {
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = 60 * time.Second
	}
	if cfg.JwksCacheTTL == 0 {
		cfg.JwksCacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, keys: keys, jwks: jwks, logger: logger.With("component", "token.Validator")}
}

// Validate runs the ordered validation pipeline of spec.md §4.7 against
// tokenString, evaluated as of now.
func (v *Validator) Validate(tokenString string, now time.Time) Result {
	parsed, err := jwt.ParseWithClaims(tokenString, &AigosClaims{}, v.resolveKey,
		jwt.WithValidMethods(v.cfg.AllowedAlgorithms),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(v.cfg.MaxClockSkew),
	)

	if err != nil {
		return Result{Error: classifyParseError(err)}
	}

	claims, ok := parsed.Claims.(*AigosClaims)
	if !ok || !parsed.Valid {
		return Result{Error: &ValidationError{Code: ErrInvalidFormat, Message: "unexpected claims type"}}
	}

	if typ, _ := parsed.Header["typ"].(string); typ != "" && typ != TypHeader {
		return Result{Error: &ValidationError{Code: ErrInvalidFormat, Message: "unexpected typ header: " + typ}}
	}

	if v.cfg.Issuer != "" && claims.Issuer != v.cfg.Issuer {
		return Result{Error: &ValidationError{Code: ErrInvalidIssuer, Message: "issuer mismatch"}}
	}

	if v.cfg.Audience != "" && !containsAudience(claims.Audience, v.cfg.Audience) {
		return Result{Error: &ValidationError{Code: ErrInvalidAudience, Message: "audience mismatch"}}
	}

	if errs := validateAigosShape(claims); len(errs) > 0 {
		return Result{Error: &ValidationError{Code: ErrInvalidClaims, Message: strings.Join(errs, "; ")}}
	}

	if v.cfg.ValidateControl {
		if claims.Control.TerminationPending {
			return Result{Error: &ValidationError{Code: ErrTerminationPending, Message: "token's agent has a pending termination"}}
		}
		if claims.Control.Paused {
			return Result{Error: &ValidationError{Code: ErrPaused, Message: "token's agent is paused"}}
		}
	}

	var warnings []string
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Sub(now) < 30*time.Second {
		warnings = append(warnings, WarnExpiringSoon)
	}

	return Result{Claims: claims, Warnings: warnings}
}

// ValidateAgainstParent additionally checks the token's capability claims
// never exceed parentCapabilities, per §4.7 step 7.
func ValidateAgainstParent(claims *AigosClaims, parentTools []string, parentMaxBudget *float64) []string {
	var violations []string
	parentWildcard := contains(parentTools, "*")
	for _, tool := range claims.Capabilities.Tools {
		if parentWildcard {
			continue
		}
		if tool == "*" || !contains(parentTools, tool) {
			violations = append(violations, "CAPABILITY_ESCALATION: tool "+tool)
		}
	}
	if parentMaxBudget != nil && claims.Capabilities.MaxBudgetUsd != nil && *claims.Capabilities.MaxBudgetUsd > *parentMaxBudget {
		violations = append(violations, "CAPABILITY_ESCALATION: maxBudgetUsd exceeds parent")
	}
	return violations
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsAudience(auds jwt.ClaimStrings, want string) bool {
	for _, a := range auds {
		if a == want {
			return true
		}
	}
	return false
}

func validateAigosShape(c *AigosClaims) []string {
	var errs []string
	switch c.Governance.RiskLevel {
	case "minimal", "limited", "high", "unacceptable":
	default:
		errs = append(errs, "invalid riskLevel")
	}
	switch c.Governance.Mode {
	case "NORMAL", "SANDBOX", "RESTRICTED":
	default:
		errs = append(errs, "invalid mode")
	}
	switch c.Control.KillSwitch.Channel {
	case "sse", "polling", "file":
	default:
		errs = append(errs, "invalid killSwitch channel")
	}
	if (c.Lineage.GenerationDepth == 0) != (c.Lineage.ParentInstanceID == nil) {
		errs = append(errs, "lineage invariant violated: generationDepth==0 must imply parentInstanceId==null")
	}
	if c.Capabilities.CanSpawn && c.Capabilities.MaxChildDepth < 1 {
		errs = append(errs, "canSpawn requires maxChildDepth>=1")
	}
	return errs
}

func (v *Validator) resolveKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token: missing kid header")
	}
	if key, ok := v.keys.Get(kid); ok {
		if key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("token: kid %q registered for %s, token claims %s", kid, key.Algorithm, t.Method.Alg())
		}
		return key.VerifyKey, nil
	}

	if v.jwks == nil {
		return nil, fmt.Errorf("token: unknown kid %q and no jwks provider configured", kid)
	}

	if err := v.refreshFromJWKS(); err != nil {
		return nil, fmt.Errorf("token: jwks refresh failed: %w", err)
	}
	if key, ok := v.keys.Get(kid); ok {
		return key.VerifyKey, nil
	}
	return nil, fmt.Errorf("token: kid %q not found after jwks refresh", kid)
}

// refreshFromJWKS fetches keys at most once per cache TTL; concurrent
// callers never block behind a refresh they didn't start — a second caller
// arriving mid-refresh simply uses whatever keys are present, consistent
// with spec.md §9's "readers never block behind a refresh" note.
func (v *Validator) refreshFromJWKS() error {
	v.mu.Lock()
	if v.refreshing || time.Since(v.jwksFetched) < v.cfg.JwksCacheTTL {
		v.mu.Unlock()
		return nil
	}
	v.refreshing = true
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.refreshing = false
		v.mu.Unlock()
	}()

	keys, err := v.jwks.Fetch()
	if err != nil {
		return err
	}
	for _, k := range keys {
		v.keys.Add(k)
	}

	v.mu.Lock()
	v.jwksFetched = time.Now()
	v.mu.Unlock()
	return nil
}

func classifyParseError(err error) *ValidationError {
	switch {
	case strings.Contains(err.Error(), "token is expired"):
		return &ValidationError{Code: ErrExpired, Message: err.Error()}
	case strings.Contains(err.Error(), "token is not valid yet") || strings.Contains(err.Error(), "not valid yet"):
		return &ValidationError{Code: ErrNotYetValid, Message: err.Error()}
	case strings.Contains(err.Error(), "signature is invalid"):
		return &ValidationError{Code: ErrInvalidSignature, Message: err.Error()}
	case strings.Contains(err.Error(), "kid") || strings.Contains(err.Error(), "unknown kid"):
		return &ValidationError{Code: ErrKeyNotFound, Message: err.Error()}
	default:
		return &ValidationError{Code: ErrInvalidFormat, Message: err.Error()}
	}
}
