package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
)

// profileRepository implements ProfileRepository using GORM.
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// Create creates a new profile.
func (r *profileRepository) Create(ctx context.Context, profile *models.Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating profile: %w", err)
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

// GetByID retrieves a profile by ID.
func (r *profileRepository) GetByID(ctx context.Context, id uint) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// GetByName retrieves a profile by name.
func (r *profileRepository) GetByName(ctx context.Context, name string) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// GetAll retrieves all profiles ordered by name.
func (r *profileRepository) GetAll(ctx context.Context) ([]*models.Profile, error) {
	var profiles []*models.Profile
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// Update updates an existing profile.
func (r *profileRepository) Update(ctx context.Context, profile *models.Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating profile: %w", err)
	}
	return r.db.WithContext(ctx).Save(profile).Error
}

// Delete deletes a profile by ID.
func (r *profileRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Profile{}, "id = ?", id).Error
}
