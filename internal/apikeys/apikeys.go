// Package apikeys manages issuance and validation of the bearer keys that
// authenticate job submissions.
package apikeys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/spoolworks/mediaspool/internal/jobs"
)

// Keys look like mk_<keyid>_<secret>. The keyid part is stored in clear for
// lookup; only an argon2id digest of the secret is kept.
const (
	keyPrefix   = "mk"
	keyIDBytes  = 8
	secretBytes = 24
)

// ScopeAdmin grants every operation, key management included.
const ScopeAdmin = "admin"

// Record is the stored form of an issued key. The plaintext secret is never
// persisted.
type Record struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// HasScope reports whether the record grants scope. Admin implies all.
func (r *Record) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, ScopeAdmin) || slices.Contains(r.Scopes, scope)
}

// Store persists key records, indexed by the public key id.
type Store interface {
	InsertKey(ctx context.Context, r *Record) error
	GetKey(ctx context.Context, id string) (*Record, error)
	ListKeys(ctx context.Context) ([]*Record, error)
	UpdateKey(ctx context.Context, r *Record) error
	TouchKey(ctx context.Context, id string, at time.Time) error
}

// Registry issues, validates, rotates and revokes keys.
type Registry struct {
	store Store
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create issues a new key. The returned plaintext is shown exactly once;
// afterwards only its digest exists.
func (reg *Registry) Create(ctx context.Context, name string, scopes []string, ttl time.Duration) (*Record, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("%w: key name is required", jobs.ErrInvalidRequest)
	}
	if len(scopes) == 0 {
		return nil, "", fmt.Errorf("%w: at least one scope is required", jobs.ErrInvalidRequest)
	}

	id, secret, err := generateParts()
	if err != nil {
		return nil, "", fmt.Errorf("generate key material: %w", err)
	}
	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		return nil, "", fmt.Errorf("hash key secret: %w", err)
	}

	record := &Record{
		ID:         id,
		Name:       name,
		SecretHash: hash,
		Scopes:     slices.Clone(scopes),
		CreatedAt:  reg.now(),
	}
	if ttl > 0 {
		exp := reg.now().Add(ttl)
		record.ExpiresAt = &exp
	}

	if err := reg.store.InsertKey(ctx, record); err != nil {
		return nil, "", fmt.Errorf("persist key: %w", err)
	}

	slog.Info("api key created", "key_id", id, "name", name, "scopes", scopes)
	return record, assemble(id, secret), nil
}

// Validate authenticates a presented key and checks it grants scope. On
// success the record's last-used timestamp is touched.
func (reg *Registry) Validate(ctx context.Context, presented, scope string) (*Record, error) {
	id, secret, err := split(presented)
	if err != nil {
		return nil, err
	}

	record, err := reg.store.GetKey(ctx, id)
	if err != nil {
		return nil, jobs.ErrUnauthorized
	}

	match, err := argon2id.ComparePasswordAndHash(secret, record.SecretHash)
	if err != nil || !match {
		return nil, jobs.ErrUnauthorized
	}
	if record.Revoked {
		return nil, fmt.Errorf("%w: key revoked", jobs.ErrUnauthorized)
	}
	if record.ExpiresAt != nil && !reg.now().Before(*record.ExpiresAt) {
		return nil, fmt.Errorf("%w: key expired", jobs.ErrUnauthorized)
	}
	if scope != "" && !record.HasScope(scope) {
		return nil, fmt.Errorf("%w: key lacks scope %q", jobs.ErrUnauthorized, scope)
	}

	if err := reg.store.TouchKey(ctx, id, reg.now()); err != nil {
		slog.Warn("failed to touch api key", "key_id", id, "error", err)
	}
	return record, nil
}

// Revoke permanently disables a key. Revoking twice is not an error.
func (reg *Registry) Revoke(ctx context.Context, id string) error {
	record, err := reg.store.GetKey(ctx, id)
	if err != nil {
		return err
	}
	record.Revoked = true
	if err := reg.store.UpdateKey(ctx, record); err != nil {
		return fmt.Errorf("persist revocation: %w", err)
	}
	slog.Info("api key revoked", "key_id", id)
	return nil
}

// Rotate replaces the secret of an existing key, keeping its id, name and
// scopes. The old plaintext stops working immediately.
func (reg *Registry) Rotate(ctx context.Context, id string) (string, error) {
	record, err := reg.store.GetKey(ctx, id)
	if err != nil {
		return "", err
	}
	if record.Revoked {
		return "", fmt.Errorf("%w: cannot rotate a revoked key", jobs.ErrInvalidState)
	}

	secret, err := randomHex(secretBytes)
	if err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("hash key secret: %w", err)
	}
	record.SecretHash = hash
	if err := reg.store.UpdateKey(ctx, record); err != nil {
		return "", fmt.Errorf("persist rotation: %w", err)
	}

	slog.Info("api key rotated", "key_id", id)
	return assemble(id, secret), nil
}

// List returns all key records, digests omitted by the json tags.
func (reg *Registry) List(ctx context.Context) ([]*Record, error) {
	return reg.store.ListKeys(ctx)
}

func generateParts() (id, secret string, err error) {
	if id, err = randomHex(keyIDBytes); err != nil {
		return "", "", err
	}
	if secret, err = randomHex(secretBytes); err != nil {
		return "", "", err
	}
	return id, secret, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func assemble(id, secret string) string {
	return keyPrefix + "_" + id + "_" + secret
}

func split(presented string) (id, secret string, err error) {
	parts := strings.Split(presented, "_")
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("%w: malformed api key", jobs.ErrUnauthorized)
	}
	return parts[1], parts[2], nil
}
