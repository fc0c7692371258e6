// Package oauth manages the authorization lifecycle against an OAuth
// identity provider using the implicit grant: it opens the provider's
// authorization page in a browser, accepts the token delivered by the
// external callback listener, and validates or revokes stored tokens.
//
// All session state is derived from variables: the anti-CSRF state token
// lives in the Transient scope (so it cannot survive a process restart) and
// the access token with its derived identity data lives in the durable App
// scope. Clearing those variables is the single "de-authorize" code path.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatflow/internal/bus"
	"chatflow/internal/variables"
)

// Variable names used by the manager within its integration context.
const (
	accessTokenName = "oauth.access-token"
	stateTokenName  = "oauth.state"
	usernameName    = "username"
	userIDName      = "user-id"
	tokenExpiryName = "token-expiry"
	scopesName      = "oauth.scopes"
)

// ErrStateMismatch is returned when an authorization callback carries a state
// token that does not match the stored transient value.
var ErrStateMismatch = errors.New("authorization state token mismatch")

// AccessTokenKey returns the durable key holding the access token for the
// given integration context.
func AccessTokenKey(context string) variables.Key {
	return variables.NewContextKey(accessTokenName, context)
}

// StateTokenKey returns the transient key holding the anti-CSRF state token.
func StateTokenKey(context string) variables.Key {
	return variables.NewContextKey(stateTokenName, context)
}

// UsernameKey returns the durable key holding the authenticated username.
func UsernameKey(context string) variables.Key {
	return variables.NewContextKey(usernameName, context)
}

// UserIDKey returns the durable key holding the authenticated user id.
func UserIDKey(context string) variables.Key {
	return variables.NewContextKey(userIDName, context)
}

// TokenExpiryKey returns the durable key holding the absolute token expiry.
func TokenExpiryKey(context string) variables.Key {
	return variables.NewContextKey(tokenExpiryName, context)
}

// ScopesKey returns the durable key holding the comma-joined granted scopes.
func ScopesKey(context string) variables.Key {
	return variables.NewContextKey(scopesName, context)
}

// Launcher opens an external URL for user authorization. The browser itself
// is outside this package; only the hand-off is modelled.
type Launcher interface {
	OpenURL(url string) error
}

// AuthorizedEvent is published after a token validates successfully.
type AuthorizedEvent struct {
	Username string
	UserID   string
}

// RevokedEvent is published after a token is revoked with the provider.
type RevokedEvent struct{}

// ValidationPayload is the provider's validation response.
type ValidationPayload struct {
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	ExpiresIn int      `json:"expires_in"`
	Scopes    []string `json:"scopes"`
}

// Config identifies the application against the provider.
type Config struct {
	ClientID    string `yaml:"client_id"`
	CallbackURL string `yaml:"callback_url"`
	// BaseURL is the provider's OAuth root, e.g. "https://id.twitch.tv/oauth2".
	BaseURL string `yaml:"base_url"`
	// Context is the integration context the session variables live in.
	Context string `yaml:"context"`
}

// Manager drives the authorization state machine. All methods are safe for
// concurrent use; state lives in the variable store.
type Manager struct {
	store   *variables.Store
	bus     *bus.Bus
	client  *http.Client
	browser Launcher
	logger  *zap.Logger
	config  Config
}

// NewManager creates an authorization manager. A nil httpClient falls back to
// http.DefaultClient.
func NewManager(store *variables.Store, b *bus.Bus, httpClient *http.Client, browser Launcher, logger *zap.Logger, config Config) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		store:   store,
		bus:     b,
		client:  httpClient,
		browser: browser,
		logger:  logger,
		config:  config,
	}
}

// StartAuthorization generates a single-use state token, stores it in the
// Transient scope and opens the provider's authorization URL. It does not
// block: the resulting token arrives later through the external callback
// listener via CompleteAuthorization.
func (m *Manager) StartAuthorization(scopes []string) error {
	m.logger.Info("starting authorization process", zap.String("context", m.config.Context))

	state, err := randomState()
	if err != nil {
		return fmt.Errorf("failed to generate state token: %w", err)
	}
	m.store.Transient.Set(StateTokenKey(m.config.Context), state)

	query := url.Values{}
	query.Set("client_id", m.config.ClientID)
	query.Set("redirect_uri", m.config.CallbackURL)
	query.Set("response_type", "token")
	query.Set("scope", strings.Join(scopes, " "))
	query.Set("state", state)

	authorizeURL := m.config.BaseURL + "/authorize?" + query.Encode()
	if err := m.browser.OpenURL(authorizeURL); err != nil {
		return fmt.Errorf("failed to open authorization URL: %w", err)
	}
	return nil
}

// CompleteAuthorization accepts the access token delivered by the callback
// listener. The returned state token must match the stored transient value;
// a mismatch is a failed authorization attempt and the token is not stored.
func (m *Manager) CompleteAuthorization(accessToken, state string) error {
	stateKey := StateTokenKey(m.config.Context)
	stored, ok := m.store.Transient.Get(stateKey)
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		m.logger.Warn("rejecting authorization callback with mismatched state token")
		return ErrStateMismatch
	}

	m.store.Transient.Delete(stateKey)
	m.store.App.Set(AccessTokenKey(m.config.Context), accessToken)
	return nil
}

// HasToken reports whether an access token is currently stored.
func (m *Manager) HasToken() bool {
	return m.store.App.Has(AccessTokenKey(m.config.Context))
}

// HasScope reports whether the stored grant includes the given scope.
func (m *Manager) HasScope(scope string) bool {
	stored, ok := m.store.App.Get(ScopesKey(m.config.Context))
	if !ok {
		return false
	}
	for _, granted := range strings.Split(stored, ",") {
		if granted == scope {
			return true
		}
	}
	return false
}

// Username returns the authenticated username, or "" if not authorized.
func (m *Manager) Username() string {
	return m.store.App.GetDefault(UsernameKey(m.config.Context), "")
}

// accessToken returns the stored token, logging when absent.
func (m *Manager) accessToken() (string, bool) {
	token, ok := m.store.App.Get(AccessTokenKey(m.config.Context))
	if !ok {
		m.logger.Warn("cannot find access token in variables for provider request")
	}
	return token, ok
}

// ValidateToken calls the provider's validation endpoint for the stored
// token. A missing token fails fast without a network call. Any non-success
// outcome clears all token-derived state: a token that does not validate is
// equivalent to never having been authorized. On success the identity
// payload is written into durable variables and an AuthorizedEvent is
// published.
func (m *Manager) ValidateToken(ctx context.Context) bool {
	m.logger.Info("validating access token")

	token, ok := m.accessToken()
	if !ok {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.config.BaseURL+"/validate", nil)
	if err != nil {
		m.logger.Error("failed to build validation request", zap.Error(err))
		return false
	}
	req.Header.Set("Authorization", "OAuth "+token)

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("validation request failed", zap.Error(err))
		bus.Publish(m.bus, bus.ErrorEvent{Source: "oauth:validate", Message: err.Error()})
		m.ClearTokenState()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Error("validation rejected", zap.Int("status", resp.StatusCode))
		bus.Publish(m.bus, bus.ErrorEvent{Source: "oauth:validate", Message: fmt.Sprintf("validation failed with status %d", resp.StatusCode)})
		m.ClearTokenState()
		return false
	}

	var payload ValidationPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		m.logger.Error("failed to decode validation payload", zap.Error(err))
		bus.Publish(m.bus, bus.ErrorEvent{Source: "oauth:validate", Message: err.Error()})
		m.ClearTokenState()
		return false
	}

	m.updateTokenState(payload)
	bus.Publish(m.bus, AuthorizedEvent{Username: payload.Login, UserID: payload.UserID})
	return true
}

// RevokeToken calls the provider's revoke endpoint for the stored token. On
// success a RevokedEvent is published and token state is cleared; on failure
// the state is left untouched since the provider may still consider the
// token live.
func (m *Manager) RevokeToken(ctx context.Context) bool {
	m.logger.Info("revoking access token")

	token, ok := m.accessToken()
	if !ok {
		return false
	}

	form := url.Values{}
	form.Set("client_id", m.config.ClientID)
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BaseURL+"/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		m.logger.Error("failed to build revoke request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Error("revoke request failed", zap.Error(err))
		bus.Publish(m.bus, bus.ErrorEvent{Source: "oauth:revoke", Message: err.Error()})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Error("revoke rejected", zap.Int("status", resp.StatusCode))
		bus.Publish(m.bus, bus.ErrorEvent{Source: "oauth:revoke", Message: fmt.Sprintf("revoke failed with status %d", resp.StatusCode)})
		return false
	}

	bus.Publish(m.bus, RevokedEvent{})
	m.ClearTokenState()
	return true
}

// updateTokenState writes the validated identity into durable variables,
// converting the relative expiry into an absolute timestamp.
func (m *Manager) updateTokenState(payload ValidationPayload) {
	ctx := m.config.Context
	m.store.App.Set(UsernameKey(ctx), payload.Login)
	m.store.App.Set(UserIDKey(ctx), payload.UserID)

	expiry := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	m.store.App.Set(TokenExpiryKey(ctx), expiry.Format(time.RFC3339))

	m.store.App.Set(ScopesKey(ctx), strings.Join(payload.Scopes, ","))
}

// ClearTokenState deletes every token-derived variable. Both validation
// failure and explicit revoke funnel through here so there is exactly one
// de-authorize path.
func (m *Manager) ClearTokenState() {
	ctx := m.config.Context
	m.store.App.Delete(UsernameKey(ctx))
	m.store.App.Delete(UserIDKey(ctx))
	m.store.App.Delete(TokenExpiryKey(ctx))
	m.store.App.Delete(ScopesKey(ctx))
	m.store.App.Delete(AccessTokenKey(ctx))
}

// randomState produces a 32-character hex state token from a CSPRNG.
func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
