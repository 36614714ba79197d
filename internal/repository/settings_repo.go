package repository

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/nacl/secretbox"

	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
)

const nonceSize = 24

var ErrSecretCorrupt = errors.New("encrypted secret cannot be opened")

// ParseSecretKey decodes a base64 32-byte secretbox key.
func ParseSecretKey(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid settings key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid settings key: want 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// SealSecret encrypts plaintext as nonce||box.
func SealSecret(key *[32]byte, plaintext string) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key), nil
}

// OpenSecret reverses SealSecret.
func OpenSecret(key *[32]byte, sealed []byte) (string, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrSecretCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrSecretCorrupt
	}
	return string(out), nil
}

// SettingsRepository reads per-organization provider settings.
type SettingsRepository struct {
	db  *pgxpool.Pool
	key *[32]byte
}

func NewSettingsRepository(db *pgxpool.Pool, key *[32]byte) *SettingsRepository {
	return &SettingsRepository{db: db, key: key}
}

func (r *SettingsRepository) GetProviderConfig(ctx context.Context, orgID uuid.UUID) (model.ProviderConfig, error) {
	query := `
        SELECT provider_api_key_enc, provider_base_url, sender_email, sender_name
        FROM organization_settings
        WHERE organization_id = $1
    `
	var (
		cfg    model.ProviderConfig
		sealed []byte
	)
	err := r.db.QueryRow(ctx, query, orgID).Scan(&sealed, &cfg.BaseURL, &cfg.SenderEmail, &cfg.SenderName)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && len(sealed) == 0) {
		return cfg, fmt.Errorf("organization %s: %w", orgID, automation.ErrProviderNotSet)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load provider settings: %w", err)
	}

	cfg.APIKey, err = OpenSecret(r.key, sealed)
	if err != nil {
		return model.ProviderConfig{}, fmt.Errorf("organization %s provider key: %w", orgID, err)
	}
	return cfg, nil
}

// SaveProviderConfig encrypts and stores the provider settings of an organization.
func (r *SettingsRepository) SaveProviderConfig(ctx context.Context, orgID uuid.UUID, cfg model.ProviderConfig) error {
	sealed, err := SealSecret(r.key, cfg.APIKey)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO organization_settings
            (organization_id, provider_api_key_enc, provider_base_url, sender_email, sender_name, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (organization_id) DO UPDATE SET
            provider_api_key_enc = EXCLUDED.provider_api_key_enc,
            provider_base_url    = EXCLUDED.provider_base_url,
            sender_email         = EXCLUDED.sender_email,
            sender_name          = EXCLUDED.sender_name,
            updated_at           = NOW()
    `
	_, err = r.db.Exec(ctx, query, orgID, sealed, cfg.BaseURL, cfg.SenderEmail, cfg.SenderName)
	return err
}
