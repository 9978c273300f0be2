package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"hirecall/internal/core/domain"
)

// tokenSlack is how long before expiry a cached token is renewed.
const tokenSlack = 30 * time.Second

// DevTokenSource obtains tokens from the relay's development token endpoint
// and caches them until shortly before they expire.
type DevTokenSource struct {
	BaseURL  string
	UserID   domain.UserID
	Username string
	HTTP     *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

type tokenRequest struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *DevTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.token != "" && now.Add(tokenSlack).Before(s.expires) {
		return s.token, nil
	}

	resp, err := s.issue(ctx)
	if err != nil {
		return "", err
	}
	s.token = resp.AccessToken
	s.expires = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	return s.token, nil
}

func (s *DevTokenSource) issue(ctx context.Context) (*tokenResponse, error) {
	payload, err := json.Marshal(tokenRequest{UserID: s.UserID, Username: s.Username})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("issue token: %w", decodeError(resp))
	}
	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("issue token: %w", domain.ErrAuth)
	}
	return &out, nil
}

func (s *DevTokenSource) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
