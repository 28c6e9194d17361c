package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragcore-service/pkg/ragcore/rerr"
	"ragcore-service/pkg/ragcore/tenant"
)

// embeddingRow is the GORM model backing the pgvector-partitioned table,
// shaped after the teacher's model.NoteEmbedding (pgvector.Vector column),
// generalized to carry an explicit tenant_id column instead of joining out
// to an owning notes table; it has no soft-delete or timestamp columns.
type embeddingRow struct {
	ChunkID    string          `gorm:"column:chunk_id;primaryKey"`
	TenantID   string          `gorm:"column:tenant_id;not null;index:idx_embeddings_tenant"`
	DocumentID string          `gorm:"column:document_id;not null;index"`
	Vector     pgvector.Vector `gorm:"column:vector;type:vector(1536)"`
	Metadata   []byte          `gorm:"column:metadata;type:jsonb"`
}

func (embeddingRow) TableName() string { return "chunk_embeddings" }

// PGVectorStore is the production Store, backed by Postgres+pgvector.
// Every query filters on tenant_id server-side, matching the teacher's
// join-and-filter idiom in SearchSimilarWithScore.
type PGVectorStore struct {
	db *gorm.DB
}

func NewPGVectorStore(db *gorm.DB) *PGVectorStore {
	return &PGVectorStore{db: db}
}

var _ Store = (*PGVectorStore)(nil)

// AutoMigrate creates/updates the chunk_embeddings table. The pgvector
// extension must already exist (see cmd/migrate), since GORM's
// AutoMigrate doesn't create extensions.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&embeddingRow{})
}

func (s *PGVectorStore) Upsert(ctx context.Context, t tenant.ID, items []Item) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Upsert", err)
	}
	if len(items) == 0 {
		return nil
	}

	rows := make([]embeddingRow, len(items))
	for i, item := range items {
		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return rerr.New(rerr.KindIndexWriteFailure, "vectorindex.Upsert", fmt.Errorf("marshal metadata: %w", err))
		}
		rows[i] = embeddingRow{
			ChunkID:    item.ChunkID,
			TenantID:   t.String(),
			DocumentID: item.DocumentID,
			Vector:     pgvector.NewVector(item.Vector),
			Metadata:   meta,
		}
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "document_id", "vector", "metadata"}),
		}).
		Create(&rows).Error
	if err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "vectorindex.Upsert", err)
	}
	return nil
}

func (s *PGVectorStore) Search(ctx context.Context, t tenant.ID, queryVector []float32, k int) ([]Result, error) {
	if err := tenant.Require(t); err != nil {
		return nil, rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Search", err)
	}
	if k <= 0 {
		k = 10
	}

	type scored struct {
		embeddingRow
		Similarity float64
	}
	var rows []scored

	qv := pgvector.NewVector(queryVector)
	err := s.db.WithContext(ctx).
		Table("chunk_embeddings").
		Select("chunk_embeddings.*, 1 - (vector <=> ?) as similarity", qv).
		Where("tenant_id = ?", t.String()).
		Order("similarity DESC").
		Order("chunk_id ASC").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vectorindex.Search: %w", err)
	}

	results := make([]Result, len(rows))
	for i, r := range rows {
		var meta map[string]any
		_ = json.Unmarshal(r.Metadata, &meta)
		results[i] = Result{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Score:      float32(r.Similarity),
			Metadata:   meta,
		}
	}
	return results, nil
}

func (s *PGVectorStore) DeleteByDocument(ctx context.Context, t tenant.ID, documentID string) error {
	if err := tenant.Require(t); err != nil {
		return rerr.New(rerr.KindTenantScopeViolation, "vectorindex.DeleteByDocument", err)
	}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id = ?", t.String(), documentID).
		Delete(&embeddingRow{}).Error
	if err != nil {
		return rerr.New(rerr.KindIndexWriteFailure, "vectorindex.DeleteByDocument", err)
	}
	return nil
}

func (s *PGVectorStore) Count(ctx context.Context, t tenant.ID) (int, error) {
	if err := tenant.Require(t); err != nil {
		return 0, rerr.New(rerr.KindTenantScopeViolation, "vectorindex.Count", err)
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&embeddingRow{}).Where("tenant_id = ?", t.String()).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("vectorindex.Count: %w", err)
	}
	return int(count), nil
}
