package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowvault/flowvault/internal/platform/database"
)

// ErrNoCredential is returned when an account has no stored credential
var ErrNoCredential = errors.New("no credential stored for account")

// Credential is a decrypted API key for the automation platform
type Credential struct {
	AccountID string
	APIKey    string
}

// Provider serves valid credentials to the snapshot and rollback services.
// Refresh-on-expiry is the provider's responsibility, never the caller's.
type Provider interface {
	GetValidCredential(ctx context.Context, accountID string) (*Credential, error)
}

// Store persists encrypted API keys and implements Provider. The platform
// keys are long-lived; "refresh" here means re-reading the stored key, which
// an operator rotates out of band.
type Store struct {
	db        *database.DB
	encryptor *Encryptor
}

// NewStore creates a credential store
func NewStore(db *database.DB, encryptor *Encryptor) *Store {
	return &Store{db: db, encryptor: encryptor}
}

// Put stores or replaces an account's API key
func (s *Store) Put(ctx context.Context, accountID, apiKey string) error {
	encrypted, err := s.encryptor.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO account_credentials (account_id, encrypted_key, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (account_id) DO UPDATE SET encrypted_key = $2, updated_at = $3
	`
	if _, err := s.db.ExecContext(ctx, query, accountID, encrypted, now); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	return nil
}

// GetValidCredential returns the account's decrypted API key
func (s *Store) GetValidCredential(ctx context.Context, accountID string) (*Credential, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_key FROM account_credentials WHERE account_id = $1`,
		accountID,
	).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCredential
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	apiKey, err := s.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	return &Credential{AccountID: accountID, APIKey: apiKey}, nil
}

// Delete removes an account's credential
func (s *Store) Delete(ctx context.Context, accountID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM account_credentials WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrNoCredential
	}
	return nil
}
