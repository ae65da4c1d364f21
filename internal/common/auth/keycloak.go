// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "companion-workers/internal/common/errors"
	httpclient "companion-workers/internal/common/http"
	"companion-workers/internal/models"
)

// Doer sends HTTP requests. *httpclient.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeycloakClient resolves user contacts from the Keycloak admin API using a
// client-credentials service account.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	http         Doer
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// User is the subset of a Keycloak user representation we read.
type User struct {
	ID         string              `json:"id,omitempty"`
	Email      string              `json:"email"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
	Username   string              `json:"username"`
	Enabled    bool                `json:"enabled"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Contact maps the user onto the notification contact. The role comes from
// the "role" attribute when present.
func (u *User) Contact() models.Contact {
	c := models.Contact{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
	if c.DisplayName == "" {
		c.DisplayName = u.Username
	}
	if roles := u.Attributes["role"]; len(roles) > 0 {
		if r := models.Role(roles[0]); r.IsValid() {
			c.Role = r
		}
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, doer Doer) *KeycloakClient {
	if doer == nil {
		doer = httpclient.NewClient(30 * time.Second)
	}
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         doer,
		now:          time.Now,
	}
}

// token returns a cached access token, refreshing it 30s before expiry.
func (k *KeycloakClient) token(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.accessToken != "" && k.now().Before(k.tokenExpiry) {
		return k.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", k.clientID)
	form.Set("client_secret", k.clientSecret)

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if err := httpclient.CheckStatus(resp); err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	k.accessToken = tr.AccessToken
	k.tokenExpiry = k.now().Add(time.Duration(tr.ExpiresIn)*time.Second - 30*time.Second)
	return k.accessToken, nil
}

// GetUser fetches one user by id.
func (k *KeycloakClient) GetUser(ctx context.Context, userID string) (*User, error) {
	token, err := k.token(ctx)
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("keycloak", err)
	}

	userURL := fmt.Sprintf("%s/admin/realms/%s/users/%s", k.baseURL, k.realm, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := k.http.Do(req)
	if err != nil {
		return nil, apperrors.NewDependencyFailureError("keycloak", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewNotFoundError("user", userID)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		de := apperrors.NewDependencyFailureError("keycloak", err)
		if se, ok := err.(*httpclient.StatusError); ok {
			de.Retryable = se.Transient()
		}
		return nil, de
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, apperrors.NewDependencyFailureError("keycloak", fmt.Errorf("decode user: %w", err))
	}
	return &u, nil
}

// LookupContact resolves the notification contact for userID.
func (k *KeycloakClient) LookupContact(ctx context.Context, userID string) (models.Contact, error) {
	u, err := k.GetUser(ctx, userID)
	if err != nil {
		return models.Contact{}, err
	}
	return u.Contact(), nil
}
