package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a bearer token to the caller's owner id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// StaticTokens authenticates against a fixed token → owner table.
type StaticTokens map[string]string

func (t StaticTokens) Authenticate(_ context.Context, token string) (string, error) {
	owner, ok := t[token]
	if !ok || owner == "" {
		return "", ErrUnauthorized
	}
	return owner, nil
}

type ownerKey struct{}

func (s *Server) authenticate(c fiber.Ctx) error {
	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	owner, err := s.auth.Authenticate(c.Context(), token)
	if err != nil {
		s.logger.Debug("authentication failed", "error", err)
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	c.Locals(ownerKey{}, owner)
	return c.Next()
}

func ownerOf(c fiber.Ctx) string {
	owner, _ := c.Locals(ownerKey{}).(string)
	return owner
}
