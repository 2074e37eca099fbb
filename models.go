package session

import (
	"math"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

// State is the session lifecycle state
type State string

const (
	// StateInitializing is the state before Initialize completes
	StateInitializing State = "initializing"
	// StateUnauthenticated means there is no principal
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticated means principal and token are valid and trust is in sync
	StateAuthenticated State = "authenticated"
	// StateDegraded means the token is valid but the last trust sync failed
	StateDegraded State = "degraded"
)

// IsAuthenticated reports whether the state grants an authenticated view.
func (s State) IsAuthenticated() bool {
	return s == StateAuthenticated || s == StateDegraded
}

// Principal is the identity record of the authenticated user. It is
// replaced wholesale on refresh; only TrustScore is updated in place by sync.
type Principal struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Role       Role    `json:"role"`
	TenantID   string  `json:"tenant_id,omitempty"`
	MFAEnabled bool    `json:"mfa_enabled"`
	TrustScore float64 `json:"trust_score"`
}

// UUID parses the principal ID as a UUID.
func (p Principal) UUID() (uuid.UUID, error) {
	return uuid.Parse(p.ID)
}

// HasTenant reports whether the principal is scoped to a tenant.
func (p Principal) HasTenant() bool {
	return strings.TrimSpace(p.TenantID) != ""
}

// normalized clamps TrustScore into [0, 1]. NaN becomes 0.
func (p Principal) normalized() Principal {
	switch {
	case math.IsNaN(p.TrustScore) || p.TrustScore < 0:
		p.TrustScore = 0
	case p.TrustScore > 1:
		p.TrustScore = 1
	}
	return p
}

// TrustLevel is the ordinal trust classification of an assessment
type TrustLevel int

const (
	TrustLevelUntrusted TrustLevel = iota
	TrustLevelLow
	TrustLevelMedium
	TrustLevelHigh
	TrustLevelVerified
)

func (l TrustLevel) String() string {
	switch l {
	case TrustLevelUntrusted:
		return "untrusted"
	case TrustLevelLow:
		return "low"
	case TrustLevelMedium:
		return "medium"
	case TrustLevelHigh:
		return "high"
	case TrustLevelVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// AtLeast reports whether l meets the minimum level.
func (l TrustLevel) AtLeast(min TrustLevel) bool {
	return l >= min
}

// SessionRestrictions are constraints the trust service places on the session.
// Extensions carries fields this version does not model.
type SessionRestrictions struct {
	ReadOnly          bool           `json:"read_only,omitempty"`
	RequireMFA        bool           `json:"require_mfa,omitempty"`
	MaxSessionSeconds int            `json:"max_session_seconds,omitempty"`
	AllowedNetworks   []string       `json:"allowed_networks,omitempty"`
	BlockedOperations []string       `json:"blocked_operations,omitempty"`
	Extensions        map[string]any `json:"extensions,omitempty"`
}

// TrustAssessment is a point in time evaluation from the trust service.
type TrustAssessment struct {
	AssessmentID              string              `json:"assessment_id"`
	TrustScore                float64             `json:"trust_score"`
	TrustLevel                TrustLevel          `json:"trust_level"`
	RiskScore                 float64             `json:"risk_score"`
	RequiredActions           []string            `json:"required_actions,omitempty"`
	SessionRestrictions       SessionRestrictions `json:"session_restrictions"`
	NextVerificationInSeconds int                 `json:"next_verification_in_seconds,omitempty"`
}

// Validate will run validation rules
func (a TrustAssessment) Validate() error {
	if math.IsNaN(a.TrustScore) || math.IsNaN(a.RiskScore) {
		return withMetadata(ErrInvalidAssessment, map[string]any{
			"assessment_id": a.AssessmentID,
			"reason":        "score is NaN",
		})
	}

	err := validation.ValidateStruct(&a,
		validation.Field(&a.TrustScore, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&a.RiskScore, validation.Min(0.0)),
		validation.Field(&a.TrustLevel, validation.Min(TrustLevelUntrusted), validation.Max(TrustLevelVerified)),
		validation.Field(&a.NextVerificationInSeconds, validation.Min(0)),
	)
	if err != nil {
		return withMetadata(ErrInvalidAssessment, map[string]any{
			"assessment_id": a.AssessmentID,
			"reason":        err.Error(),
		})
	}
	return nil
}

// HasRequiredAction reports whether action is in the required actions set.
func (a TrustAssessment) HasRequiredAction(action string) bool {
	for _, ra := range a.RequiredActions {
		if ra == action {
			return true
		}
	}
	return false
}

// normalized returns a copy with RequiredActions de-duplicated and sorted.
func (a TrustAssessment) normalized() TrustAssessment {
	if len(a.RequiredActions) == 0 {
		a.RequiredActions = nil
		return a
	}

	seen := make(map[string]struct{}, len(a.RequiredActions))
	actions := make([]string, 0, len(a.RequiredActions))
	for _, action := range a.RequiredActions {
		action = strings.TrimSpace(action)
		if action == "" {
			continue
		}
		if _, ok := seen[action]; ok {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}
	sort.Strings(actions)
	a.RequiredActions = actions
	return a
}

// Session is the published view of the session. Values returned by
// Machine.CurrentSnapshot share no memory with the machine.
type Session struct {
	State        State      `json:"state"`
	Principal    *Principal `json:"principal,omitempty"`
	TrustScore   *float64   `json:"trust_score,omitempty"`
	Generation   uint64     `json:"generation"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	// Revision increases on every published transition.
	Revision uint64 `json:"revision"`
}

// IsAuthenticated reports whether the snapshot grants an authenticated view.
func (s Session) IsAuthenticated() bool {
	return s.State.IsAuthenticated() && s.Principal != nil
}

// Role returns the principal role, or an empty role when unauthenticated.
func (s Session) Role() Role {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.Role
}

func (s Session) clone() Session {
	out := s
	if s.Principal != nil {
		p := *s.Principal
		out.Principal = &p
	}
	if s.TrustScore != nil {
		score := *s.TrustScore
		out.TrustScore = &score
	}
	if s.LastSyncedAt != nil {
		at := *s.LastSyncedAt
		out.LastSyncedAt = &at
	}
	return out
}
