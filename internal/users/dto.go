package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// EntitlementDTO is the account-facing view of plan and quota state.
type EntitlementDTO struct {
	UserID               uuid.UUID  `json:"user_id"`
	Email                string     `json:"email"`
	Plan                 enums.Plan `json:"plan"`
	GenerationQuota      int        `json:"generation_quota"`
	GenerationsUsed      int        `json:"generations_used"`
	GenerationsRemaining int        `json:"generations_remaining"`
	IsActive             bool       `json:"is_active"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func EntitlementFromModel(u *models.User) *EntitlementDTO {
	if u == nil {
		return nil
	}

	remaining := u.GenerationQuota - u.GenerationsUsed
	if remaining < 0 {
		remaining = 0
	}
	return &EntitlementDTO{
		UserID:               u.ID,
		Email:                u.Email,
		Plan:                 u.Plan,
		GenerationQuota:      u.GenerationQuota,
		GenerationsUsed:      u.GenerationsUsed,
		GenerationsRemaining: remaining,
		IsActive:             u.IsActive,
		UpdatedAt:            u.UpdatedAt,
	}
}
