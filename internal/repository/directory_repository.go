package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/database"
)

// DirectoryRepository resolves active users from the replicated company
// directory. Role-based recipient strategies fan out through it.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindByRole returns every active holder of a role in a company. A non-nil
// locationID narrows the result to users assigned to that location.
func (r *DirectoryRepository) FindByRole(ctx context.Context, companyID, role string, locationID *string) ([]*DirectoryUser, error) {
	query := `
		SELECT id, company_id, email, name, role, location_id, is_active
		FROM directory_users
		WHERE company_id = $1 AND role = $2 AND is_active = TRUE
	`
	args := []any{companyID, role}
	if locationID != nil {
		query += " AND (location_id IS NULL OR location_id = $3)"
		args = append(args, *locationID)
	}
	query += " ORDER BY email ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load users by role")
	}
	defer rows.Close()

	var users []*DirectoryUser
	for rows.Next() {
		u := &DirectoryUser{}
		if err := rows.Scan(&u.ID, &u.CompanyID, &u.Email, &u.Name, &u.Role, &u.LocationID, &u.IsActive); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan directory user")
		}
		users = append(users, u)
	}
	return users, nil
}

// FindByID returns one active user, or nil when unknown or deactivated.
func (r *DirectoryRepository) FindByID(ctx context.Context, companyID, userID string) (*DirectoryUser, error) {
	query := `
		SELECT id, company_id, email, name, role, location_id, is_active
		FROM directory_users
		WHERE company_id = $1 AND id = $2 AND is_active = TRUE
	`

	u := &DirectoryUser{}
	err := r.db.QueryRow(ctx, query, companyID, userID).Scan(
		&u.ID, &u.CompanyID, &u.Email, &u.Name, &u.Role, &u.LocationID, &u.IsActive,
	)
	if err == pgx.ErrNoRows {
		// Missing users resolve to no recipient, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load directory user")
	}
	return u, nil
}
