package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByStripeCustomerID loads the user owning the given Stripe customer.
func (r *Repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// SetStripeCustomerID backfills the provider customer reference on the user.
func (r *Repository) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("stripe_customer_id", customerID).Error
}

// ApplyEntitlement writes the plan and quota columns directly. Plan changes
// reset the consumed counter so the new allowance starts clean; renewals of
// the same plan pass resetUsed=false and keep mid-cycle usage intact.
func (r *Repository) ApplyEntitlement(ctx context.Context, id uuid.UUID, plan enums.Plan, quota int, resetUsed bool) error {
	columns := map[string]interface{}{
		"plan":             plan,
		"generation_quota": quota,
	}
	if resetUsed {
		columns["generations_used"] = 0
	}
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumns(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApplyEntitlementPrivileged routes the same write through the
// apply_user_entitlement database function, which runs with definer rights.
// It exists for deployments where the API role lacks UPDATE on users and is
// only used after the direct write fails.
func (r *Repository) ApplyEntitlementPrivileged(ctx context.Context, id uuid.UUID, plan enums.Plan, quota int, resetUsed bool) error {
	return r.db.WithContext(ctx).
		Exec("SELECT apply_user_entitlement(?, ?, ?, ?)", id, plan.String(), quota, resetUsed).Error
}

// ConsumeGeneration spends one unit of quota. The guard rides in the WHERE
// clause so concurrent requests cannot overdraw; returns false when the quota
// is exhausted or the user is inactive.
func (r *Repository) ConsumeGeneration(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND is_active AND generations_used < generation_quota", id).
		UpdateColumn("generations_used", gorm.Expr("generations_used + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
