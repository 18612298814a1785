package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OAuthToken is a stored credential for one upstream provider.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// ErrTokenNotFound is returned when no credential row exists for a provider.
var ErrTokenNotFound = errors.New("oauth token not found")

// GetOAuthToken loads the stored credential for a provider.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (OAuthToken, error) {
	var t OAuthToken
	err := s.DB.QueryRowContext(ctx, `
SELECT provider, access_token, refresh_token, expires_at, updated_at
FROM oauth_tokens WHERE provider = $1
`, provider).Scan(&t.Provider, &t.AccessToken, &t.RefreshToken, &t.ExpiresAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return OAuthToken{}, ErrTokenNotFound
	}
	if err != nil {
		return OAuthToken{}, fmt.Errorf("get oauth token: %w", err)
	}
	return t, nil
}

// SaveOAuthToken upserts a provider credential.
func (s *Store) SaveOAuthToken(ctx context.Context, t OAuthToken) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (provider) DO UPDATE SET
  access_token = EXCLUDED.access_token,
  refresh_token = EXCLUDED.refresh_token,
  expires_at = EXCLUDED.expires_at,
  updated_at = NOW()
`, t.Provider, t.AccessToken, t.RefreshToken, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	return nil
}

// RotateRefreshToken swaps in a freshly issued credential, guarded by the
// refresh token that earned it. When another process already rotated, the
// guard misses and the newer row is left untouched.
func (s *Store) RotateRefreshToken(ctx context.Context, provider, oldRefresh string, t OAuthToken) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE oauth_tokens
SET access_token = $3, refresh_token = $4, expires_at = $5, updated_at = NOW()
WHERE provider = $1 AND refresh_token = $2
`, provider, oldRefresh, t.AccessToken, t.RefreshToken, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rotate refresh token: %w", ErrTokenNotFound)
	}
	return nil
}
