package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/store"
)

// TokenStore persists credentials across restarts. The store package
// satisfies it; a nil store means in-memory only.
type TokenStore interface {
	GetOAuthToken(ctx context.Context, provider string) (store.OAuthToken, error)
	SaveOAuthToken(ctx context.Context, t store.OAuthToken) error
	RotateRefreshToken(ctx context.Context, provider, oldRefresh string, t store.OAuthToken) error
}

const tokenProvider = "reddit"

// refreshSkew renews tokens this long before actual expiry.
const refreshSkew = 2 * time.Minute

// TokenSource obtains app-only bearer tokens via the client_credentials
// grant and caches them until near expiry.
type TokenSource struct {
	mu      sync.Mutex
	http    *http.Client
	authURL string
	id      string
	secret  string
	ua      string
	store   TokenStore

	token        string
	refreshToken string
	expiresAt    time.Time

	now func() time.Time
}

func NewTokenSource(cfg config.RedditConfig, store TokenStore) *TokenSource {
	return &TokenSource{
		http:    &http.Client{Timeout: 15 * time.Second},
		authURL: "https://www.reddit.com/api/v1/access_token",
		id:      cfg.ClientID,
		secret:  cfg.ClientSecret,
		ua:      cfg.UserAgent,
		store:   store,
		now:     time.Now,
	}
}

// Token returns a valid bearer token, refreshing through the auth endpoint
// when the cached one is absent or near expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Add(refreshSkew).Before(ts.expiresAt) {
		return ts.token, nil
	}

	if ts.token == "" && ts.store != nil {
		if stored, err := ts.store.GetOAuthToken(ctx, tokenProvider); err == nil {
			ts.refreshToken = stored.RefreshToken
			if ts.now().Add(refreshSkew).Before(stored.ExpiresAt) {
				ts.token = stored.AccessToken
				ts.expiresAt = stored.ExpiresAt
				return ts.token, nil
			}
		}
	}

	// A stored refresh token means the credential came from a code grant;
	// renew by rotation. On any refresh failure, fall back to the app-only
	// client_credentials grant.
	if ts.refreshToken != "" {
		if token, err := ts.refresh(ctx); err == nil {
			return token, nil
		}
		ts.refreshToken = ""
	}

	token, expiresIn, err := ts.fetch(ctx)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expiresAt = ts.now().Add(time.Duration(expiresIn) * time.Second)

	if ts.store != nil {
		saveErr := ts.store.SaveOAuthToken(ctx, store.OAuthToken{
			Provider:    tokenProvider,
			AccessToken: token,
			ExpiresAt:   ts.expiresAt,
		})
		if saveErr != nil {
			// Persistence is best-effort; the in-memory token still works.
			return ts.token, nil
		}
	}
	return ts.token, nil
}

// refresh renews through the refresh_token grant and rotates the stored
// credential, guarded by the refresh token that earned the new one so a
// concurrent rotation by another replica is never overwritten.
func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	old := ts.refreshToken
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {old}}
	token, newRefresh, expiresIn, err := ts.grant(ctx, form)
	if err != nil {
		return "", err
	}
	ts.token = token
	ts.expiresAt = ts.now().Add(time.Duration(expiresIn) * time.Second)
	if newRefresh != "" {
		ts.refreshToken = newRefresh
	}
	if ts.store != nil {
		// Best-effort, like SaveOAuthToken: a guard miss means another
		// process already rotated and its row wins.
		_ = ts.store.RotateRefreshToken(ctx, tokenProvider, old, store.OAuthToken{
			Provider:     tokenProvider,
			AccessToken:  token,
			RefreshToken: ts.refreshToken,
			ExpiresAt:    ts.expiresAt,
		})
	}
	return ts.token, nil
}

func (ts *TokenSource) fetch(ctx context.Context) (string, int, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	token, _, expiresIn, err := ts.grant(ctx, form)
	return token, expiresIn, err
}

func (ts *TokenSource) grant(ctx context.Context, form url.Values) (string, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(ts.id, ts.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", ts.ua)

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", 0, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", 0, &APIError{Endpoint: "/api/v1/access_token", Status: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", "", 0, fmt.Errorf("token response missing access_token")
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}
	return payload.AccessToken, payload.RefreshToken, payload.ExpiresIn, nil
}
