package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/markdownflow/flowrun/pkg/models"
)

// UserService reads the minimal user rows the run loop consults. Identity
// management lives in another system; this table is a read model.
type UserService struct {
	db DBTX
}

// NewUserService creates a new UserService.
func NewUserService(db DBTX) *UserService {
	return &UserService{db: db}
}

// GetUser returns the user row, or nil when the bid is unknown here. An
// unknown user counts as not logged in for trial outlines.
func (s *UserService) GetUser(ctx context.Context, userBID string) (*models.AuthUser, error) {
	var u models.AuthUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_bid, mobile, state
		FROM auth_user
		WHERE user_bid = $1`,
		userBID).Scan(&u.ID, &u.UserBID, &u.Mobile, &u.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
