package users

import (
	"context"
	"errors"

	"github.com/docsync/docsync/internal/models"
)

var ErrNotFound = errors.New("user not found")

// Service encapsulates user-related business logic. New users are created
// on first authenticated contact with the configured default quotas.
type Service struct {
	repo     Repository
	defaults models.Quotas
}

func NewService(r Repository, defaults models.Quotas) *Service {
	return &Service{repo: r, defaults: defaults}
}

// GetOrCreate returns the user with the given id, creating it with default
// quotas on first contact. Email and name refresh on every call.
func (s *Service) GetOrCreate(ctx context.Context, id, email, name string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	u := &models.User{ID: id, Email: email, Name: name, Quotas: s.defaults}
	return s.repo.Upsert(ctx, u)
}

// UpsertFromClaims creates or updates a user from an OIDC claims map.
func (s *Service) UpsertFromClaims(ctx context.Context, claims map[string]interface{}) (*models.User, error) {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return s.GetOrCreate(ctx, sub, email, name)
}

func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	return s.repo.Get(ctx, id)
}

// Quotas returns the effective quotas for userID. Unknown users fall back
// to the configured defaults so quota checks stay meaningful before the
// user record materializes.
func (s *Service) Quotas(ctx context.Context, userID string) (models.Quotas, error) {
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return models.Quotas{}, err
	}
	if u == nil {
		return s.defaults, nil
	}
	return u.Quotas, nil
}

// UpdateQuotas replaces the quota limits of an existing user (admin
// operation).
func (s *Service) UpdateQuotas(ctx context.Context, id string, q models.Quotas) error {
	return s.repo.UpdateQuotas(ctx, id, q)
}
