package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ident-Gate/Identgate/internal/domain/scim"
	"github.com/Ident-Gate/Identgate/internal/domain/token"
)

// Grant type constants for the token endpoint.
const (
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
)

// defaultScope is granted when a client requests no scope.
const defaultScope = "read"

// Client is a pre-configured OAuth-style client for the client_credentials
// grant.
type Client struct {
	ID     string
	Secret string
	Scopes []string
}

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// AuthService verifies credentials against the record store (users) and the
// configured client map, and issues tokens via the token service.
type AuthService struct {
	users   scim.UserStore
	tokens  *token.Service
	clients map[string]Client
	logger  *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(users scim.UserStore, tokens *token.Service, clients []Client, logger *slog.Logger) *AuthService {
	byID := make(map[string]Client, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	return &AuthService{
		users:   users,
		tokens:  tokens,
		clients: byID,
		logger:  logger,
	}
}

// PasswordGrant verifies a username/password pair and issues a token whose
// sub is the user's id. Unknown users, wrong passwords, and inactive users
// all surface as ErrBadCredentials.
func (s *AuthService) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	u, err := s.users.GetUserByUserName(ctx, username)
	if err != nil {
		if errors.Is(err, scim.ErrNotFound) {
			return nil, token.ErrBadCredentials
		}
		return nil, fmt.Errorf("resolving user: %w", err)
	}
	if !u.Active {
		return nil, token.ErrBadCredentials
	}
	if err := token.VerifyPassword(password, u.PasswordVerifier); err != nil {
		return nil, err
	}

	scope := "read write"
	signed, expiresAt, err := s.tokens.Issue(token.Grant{
		Subject:   u.ID,
		Scope:     scope,
		Groups:    u.Groups,
		Dept:      u.Dept,
		RiskScore: u.RiskScore,
	})
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("token issued",
		"grant_type", GrantPassword,
		"sub", u.ID,
	)
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		Scope:       scope,
	}, nil
}

// ClientCredentialsGrant verifies a client id/secret pair and issues a token
// whose sub is the client id. The granted scope is the intersection of the
// requested scopes with the client's configured scopes; an empty request
// grants the default scope.
func (s *AuthService) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret, requestedScope string) (*TokenResponse, error) {
	client, ok := s.clients[clientID]
	if !ok {
		return nil, token.ErrBadCredentials
	}
	if subtle.ConstantTimeCompare([]byte(client.Secret), []byte(clientSecret)) != 1 {
		return nil, token.ErrBadCredentials
	}

	scope := narrowScope(requestedScope, client.Scopes)

	signed, expiresAt, err := s.tokens.Issue(token.Grant{
		Subject: clientID,
		Scope:   scope,
	})
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("token issued",
		"grant_type", GrantClientCredentials,
		"sub", clientID,
	)
	return &TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
		Scope:       scope,
	}, nil
}

// narrowScope intersects the requested scopes with the available ones,
// preserving request order. No request, or no overlap with a request of
// only unknown scopes, falls back to the default scope when available.
func narrowScope(requested string, available []string) string {
	avail := make(map[string]struct{}, len(available))
	for _, sc := range available {
		avail[sc] = struct{}{}
	}

	if strings.TrimSpace(requested) == "" {
		if _, ok := avail[defaultScope]; ok {
			return defaultScope
		}
		return strings.Join(available, " ")
	}

	var granted []string
	for _, sc := range strings.Fields(requested) {
		if _, ok := avail[sc]; ok {
			granted = append(granted, sc)
		}
	}
	if len(granted) == 0 {
		if _, ok := avail[defaultScope]; ok {
			return defaultScope
		}
		return ""
	}
	return strings.Join(granted, " ")
}
