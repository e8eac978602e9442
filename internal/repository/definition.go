package repository

import (
	"errors"
	"fmt"

	"assurance/internal/apperr"
	"assurance/internal/db"
	"assurance/internal/model"

	"gorm.io/gorm"
)

type DefinitionRepository struct{}

func NewDefinitionRepository() *DefinitionRepository {
	return &DefinitionRepository{}
}

func (r *DefinitionRepository) Add(def *model.ScanDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}

	if err := db.DB.Create(def).Error; err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) GetAll() ([]model.ScanDefinition, error) {
	var defs []model.ScanDefinition
	if err := db.DB.Order("created_at, id").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return defs, nil
}

func (r *DefinitionRepository) GetByID(id string) (model.ScanDefinition, error) {
	var def model.ScanDefinition
	if err := db.DB.First(&def, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return def, apperr.NotFound("definition", id)
		}
		return def, fmt.Errorf("failed to get definition %s: %w", id, err)
	}

	return def, nil
}

// Update replaces every editable field of an existing definition.
func (r *DefinitionRepository) Update(def *model.ScanDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return err
	}

	existing, err := r.GetByID(def.ID)
	if err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt

	if err := db.DB.Save(def).Error; err != nil {
		return fmt.Errorf("failed to update definition %s: %w", def.ID, err)
	}

	return nil
}

// Delete removes the definition only. Results produced by it are kept.
func (r *DefinitionRepository) Delete(id string) error {
	res := db.DB.Delete(&model.ScanDefinition{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete definition %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("definition", id)
	}

	return nil
}
