package infrastructure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourusername/fetchq-go/internal/domain"
)

// SQLiteTaskRepository implements TaskRepository using SQLite
type SQLiteTaskRepository struct {
	db *gorm.DB
}

// NewSQLiteTaskRepository creates a new SQLite repository
func NewSQLiteTaskRepository(dbPath string) (*SQLiteTaskRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.TaskRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteTaskRepository{db: db}, nil
}

// Save inserts a record or replaces the one with the same ID
func (r *SQLiteTaskRepository) Save(record *domain.TaskRecord) error {
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error
}

// FindByID finds a record by task ID
func (r *SQLiteTaskRepository) FindByID(id string) (*domain.TaskRecord, error) {
	var record domain.TaskRecord
	err := r.db.First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindByBatch finds all records of a batch in creation order
func (r *SQLiteTaskRepository) FindByBatch(batchID string) ([]*domain.TaskRecord, error) {
	var records []*domain.TaskRecord
	err := r.db.Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// FindRecent returns the most recently completed records
func (r *SQLiteTaskRepository) FindRecent(limit int) ([]*domain.TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*domain.TaskRecord
	err := r.db.Order("completed_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

// GetStats returns history statistics
func (r *SQLiteTaskRepository) GetStats() (*domain.TaskStats, error) {
	stats := &domain.TaskStats{}

	if err := r.db.Model(&domain.TaskRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	statusCounts := []struct {
		Status domain.TaskStatus
		Count  int64
	}{}

	if err := r.db.Model(&domain.TaskRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch sc.Status {
		case domain.StatusCompleted:
			stats.Completed = sc.Count
		case domain.StatusFailed:
			stats.Failed = sc.Count
		case domain.StatusCancelled:
			stats.Cancelled = sc.Count
		}
	}

	if err := r.db.Model(&domain.TaskRecord{}).Where("resumed = ?", true).Count(&stats.Resumed).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteTaskRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
