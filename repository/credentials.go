package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	session "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const defaultSlot = "default"

var _ session.CredentialStore = &CredentialStore{}

// CredentialModel is the Bun model for stored session credentials. One row
// per slot.
type CredentialModel struct {
	bun.BaseModel `bun:"table:session_credentials"`

	ID          string    `bun:"id,pk"`
	Token       string    `bun:"token,notnull"`
	PrincipalID string    `bun:"principal_id"`
	Email       string    `bun:"email"`
	Role        string    `bun:"role"`
	TenantID    string    `bun:"tenant_id"`
	MFAEnabled  bool      `bun:"mfa_enabled,notnull"`
	TrustScore  float64   `bun:"trust_score,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Option customizes a CredentialStore.
type Option func(*CredentialStore)

// WithSlot stores credentials under slot, allowing several profiles in one table.
func WithSlot(slot string) Option {
	return func(s *CredentialStore) {
		if slot = strings.TrimSpace(slot); slot != "" {
			s.slot = slot
		}
	}
}

// WithStoreOptions configures token validity checks.
func WithStoreOptions(opts ...session.StoreOption) Option {
	return func(s *CredentialStore) {
		s.options = session.ResolveStoreOptions(opts...)
	}
}

// CredentialStore implements session.CredentialStore using Bun.
type CredentialStore struct {
	db      *bun.DB
	slot    string
	options session.StoreOptions
}

// NewCredentialStore creates a new store. Call EnsureSchema before first use
// unless migrations are managed elsewhere.
func NewCredentialStore(db *bun.DB, opts ...Option) *CredentialStore {
	s := &CredentialStore{
		db:      db,
		slot:    defaultSlot,
		options: session.ResolveStoreOptions(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the credentials table if missing.
func (s *CredentialStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session credentials table")
	}
	return nil
}

// Save implements session.CredentialStore.
func (s *CredentialStore) Save(ctx context.Context, token string, principal session.Principal) error {
	model := s.fromPrincipal(principal)
	model.Token = token

	_, err := s.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("principal_id = EXCLUDED.principal_id").
		Set("email = EXCLUDED.email").
		Set("role = EXCLUDED.role").
		Set("tenant_id = EXCLUDED.tenant_id").
		Set("mfa_enabled = EXCLUDED.mfa_enabled").
		Set("trust_score = EXCLUDED.trust_score").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save session credentials")
	}
	return nil
}

// SavePrincipal implements session.CredentialStore.
func (s *CredentialStore) SavePrincipal(ctx context.Context, principal session.Principal) error {
	model := s.fromPrincipal(principal)

	res, err := s.db.NewUpdate().
		Model(model).
		Column("principal_id", "email", "role", "tenant_id", "mfa_enabled", "trust_score", "updated_at").
		Where("id = ?", s.slot).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update cached principal")
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return s.Save(ctx, "", principal)
	}
	return nil
}

// Principal implements session.CredentialStore.
func (s *CredentialStore) Principal(ctx context.Context) (session.Principal, bool, error) {
	model, err := s.find(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Principal{}, false, nil
		}
		return session.Principal{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read cached principal")
	}

	if model.PrincipalID == "" {
		return session.Principal{}, false, nil
	}
	return s.toPrincipal(model), true, nil
}

// HasValidToken implements session.CredentialStore. Read failures count as
// no valid token.
func (s *CredentialStore) HasValidToken(ctx context.Context) bool {
	model, err := s.find(ctx)
	if err != nil {
		return false
	}
	return session.ValidToken(model.Token, s.options.Now(), s.options.Leeway)
}

// Clear implements session.CredentialStore.
func (s *CredentialStore) Clear(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("id = ?", s.slot).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear session credentials")
	}
	return nil
}

func (s *CredentialStore) find(ctx context.Context) (*CredentialModel, error) {
	model := &CredentialModel{}
	err := s.db.NewSelect().
		Model(model).
		Where("id = ?", s.slot).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model, nil
}

func (s *CredentialStore) toPrincipal(m *CredentialModel) session.Principal {
	return session.Principal{
		ID:         m.PrincipalID,
		Email:      m.Email,
		Role:       session.Role(m.Role),
		TenantID:   m.TenantID,
		MFAEnabled: m.MFAEnabled,
		TrustScore: m.TrustScore,
	}
}

func (s *CredentialStore) fromPrincipal(p session.Principal) *CredentialModel {
	return &CredentialModel{
		ID:          s.slot,
		PrincipalID: p.ID,
		Email:       p.Email,
		Role:        string(p.Role),
		TenantID:    p.TenantID,
		MFAEnabled:  p.MFAEnabled,
		TrustScore:  p.TrustScore,
		UpdatedAt:   s.options.Now().UTC(),
	}
}
