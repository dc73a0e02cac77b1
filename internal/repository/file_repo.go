package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
)

// fileRepository implements FileRepository using GORM.
type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository creates a new FileRepository.
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

// Create creates a new file record.
func (r *fileRepository) Create(ctx context.Context, file *models.File) error {
	if err := file.Validate(); err != nil {
		return fmt.Errorf("validating file: %w", err)
	}
	return r.db.WithContext(ctx).Create(file).Error
}

// GetByID retrieves a file by ID.
func (r *fileRepository) GetByID(ctx context.Context, id uint) (*models.File, error) {
	var file models.File
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// GetByNameAndDirectory retrieves a file by its unique (name, directory) pair.
func (r *fileRepository) GetByNameAndDirectory(ctx context.Context, name, directory string) (*models.File, error) {
	var file models.File
	err := r.db.WithContext(ctx).
		First(&file, "name = ? AND directory = ?", name, directory).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// GetOrCreate returns the existing record for the file's (name, directory)
// pair or creates one from the given fields.
func (r *fileRepository) GetOrCreate(ctx context.Context, file *models.File) (*models.File, error) {
	existing, err := r.GetByNameAndDirectory(ctx, file.Name, file.Directory)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if err := r.Create(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}

// GetByDirectory retrieves all files registered under a directory.
func (r *fileRepository) GetByDirectory(ctx context.Context, directory string) ([]*models.File, error) {
	var files []*models.File
	err := r.db.WithContext(ctx).
		Where("directory = ?", directory).
		Order("name ASC").
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Update updates an existing file record.
func (r *fileRepository) Update(ctx context.Context, file *models.File) error {
	if err := file.Validate(); err != nil {
		return fmt.Errorf("validating file: %w", err)
	}
	return r.db.WithContext(ctx).Save(file).Error
}

// Delete deletes a file record by ID.
func (r *fileRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.File{}, "id = ?", id).Error
}
