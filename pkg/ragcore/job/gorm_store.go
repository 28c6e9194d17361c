package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// jobRow is the GORM model backing Store, shaped after the teacher's
// flat, directly-queryable repository models (model.Note and friends)
// rather than any one specific table.
type jobRow struct {
	JobID      string `gorm:"column:job_id;primaryKey"`
	TenantID   string `gorm:"column:tenant_id;not null;index"`
	Kind       string `gorm:"column:kind;not null"`
	DocumentID string `gorm:"column:document_id;not null;index"`
	RawText    string `gorm:"column:raw_text"`
	Filename   string `gorm:"column:filename"`
	Status     string `gorm:"column:status;not null"`
	Progress   float64 `gorm:"column:progress"`
	Error      string  `gorm:"column:error"`
	Result     []byte  `gorm:"column:result;type:jsonb"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (jobRow) TableName() string { return "ingestion_jobs" }

// GORMStore is the production job.Store.
type GORMStore struct {
	db *gorm.DB
}

func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

var _ Store = (*GORMStore)(nil)

// AutoMigrate creates/updates the ingestion_jobs table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&jobRow{})
}

func (s *GORMStore) Create(ctx context.Context, j *Job) error {
	row := jobRow{
		JobID:      j.JobID,
		TenantID:   j.TenantID,
		Kind:       string(j.Kind),
		DocumentID: j.DocumentID,
		RawText:    j.RawText,
		Filename:   j.Filename,
		Status:     string(j.Status),
		Progress:   j.Progress,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("job.Create: %w", err)
	}
	return nil
}

func (s *GORMStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job.Get: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("job.Get: %w", err)
	}
	return rowToJob(row), nil
}

func (s *GORMStore) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	err := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{"progress": progress, "status": string(StatusProcessing), "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("job.UpdateProgress: %w", err)
	}
	return nil
}

func (s *GORMStore) Complete(ctx context.Context, jobID string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("job.Complete: marshal result: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&jobRow{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"status":     string(StatusCompleted),
			"progress":   1.0,
			"result":     data,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("job.Complete: %w", err)
	}
	return nil
}

func (s *GORMStore) Fail(ctx context.Context, jobID string, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&jobRow{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{
			"status":     string(StatusFailed),
			"error":      errMsg,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("job.Fail: %w", err)
	}
	return nil
}

func rowToJob(row jobRow) *Job {
	j := &Job{
		JobID:      row.JobID,
		TenantID:   row.TenantID,
		Kind:       Kind(row.Kind),
		DocumentID: row.DocumentID,
		RawText:    row.RawText,
		Filename:   row.Filename,
		Status:     Status(row.Status),
		Progress:   row.Progress,
		Error:      row.Error,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if len(row.Result) > 0 {
		var result Result
		if err := json.Unmarshal(row.Result, &result); err == nil {
			j.Result = &result
		}
	}
	return j
}
