package repository

import (
	"errors"
	"fmt"

	"assurance/internal/apperr"
	"assurance/internal/db"
	"assurance/internal/model"

	"gorm.io/gorm"
)

const entryBatchSize = 500

type ResultRepository struct{}

func NewResultRepository() *ResultRepository {
	return &ResultRepository{}
}

// Save persists a completed result with all its entries in one transaction.
func (r *ResultRepository) Save(result *model.ScanResult) error {
	result.Tally()
	result.Status = model.ComputeStatus(result.Entries, result.Resolutions)

	entries := result.Entries
	resolutions := result.Resolutions

	return db.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Entries", "Resolutions").Create(result).Error; err != nil {
			return fmt.Errorf("failed to create result: %w", err)
		}

		for i := range entries {
			entries[i].ID = 0
			entries[i].ResultID = result.ID
		}
		if len(entries) > 0 {
			if err := tx.CreateInBatches(&entries, entryBatchSize).Error; err != nil {
				return fmt.Errorf("failed to create entries: %w", err)
			}
		}

		for i := range resolutions {
			resolutions[i].ResultID = result.ID
		}
		if len(resolutions) > 0 {
			if err := tx.Create(&resolutions).Error; err != nil {
				return fmt.Errorf("failed to create resolutions: %w", err)
			}
		}

		return nil
	})
}

// List returns results newest first without entries. An empty definitionID
// lists results of every definition; n <= 0 means no limit.
func (r *ResultRepository) List(definitionID string, n int) ([]model.ScanResult, error) {
	q := db.DB.Order("completed_at desc, id")
	if definitionID != "" {
		q = q.Where("definition_id = ?", definitionID)
	}
	if n > 0 {
		q = q.Limit(n)
	}

	var results []model.ScanResult
	if err := q.Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	return results, nil
}

// GetByID loads a result with its entries in comparison order and its
// resolutions in append order.
func (r *ResultRepository) GetByID(id string) (model.ScanResult, error) {
	return r.get(db.DB, id)
}

func (r *ResultRepository) get(tx *gorm.DB, id string) (model.ScanResult, error) {
	var result model.ScanResult
	err := tx.
		Preload("Entries", func(q *gorm.DB) *gorm.DB { return q.Order("seq") }).
		Preload("Resolutions", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		First(&result, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return result, apperr.NotFound("result", id)
		}
		return result, fmt.Errorf("failed to get result %s: %w", id, err)
	}

	return result, nil
}

func (r *ResultRepository) Delete(id string) error {
	return db.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&model.ScanResult{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete result %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("result", id)
		}

		if err := tx.Where("result_id = ?", id).Delete(&model.ComparisonEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of %s: %w", id, err)
		}
		if err := tx.Where("result_id = ?", id).Delete(&model.MergeResolution{}).Error; err != nil {
			return fmt.Errorf("failed to delete resolutions of %s: %w", id, err)
		}

		return nil
	})
}

// AppendResolution records res on its result and refreshes the result's
// resolution status. It returns the updated status.
func (r *ResultRepository) AppendResolution(res *model.MergeResolution) (model.ResolutionStatus, error) {
	var status model.ResolutionStatus

	err := db.DB.Transaction(func(tx *gorm.DB) error {
		result, err := r.get(tx, res.ResultID)
		if err != nil {
			return err
		}
		if _, ok := result.Entry(res.EntryPath); !ok {
			return apperr.NotFound("entry", res.EntryPath)
		}

		if err := tx.Create(res).Error; err != nil {
			return fmt.Errorf("failed to record resolution: %w", err)
		}

		status = model.ComputeStatus(result.Entries, append(result.Resolutions, *res))
		if err := tx.Model(&model.ScanResult{}).
			Where("id = ?", res.ResultID).
			Update("status", status).Error; err != nil {
			return fmt.Errorf("failed to update result status: %w", err)
		}

		return nil
	})

	return status, err
}
