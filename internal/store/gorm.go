package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/emrgen/docsearch/internal/filter"
	"github.com/emrgen/docsearch/internal/model"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func (g *GormStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	err := g.db.WithContext(ctx).Create(doc).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateContent
	}

	return err
}

func (g *GormStore) GetDocument(ctx context.Context, id uint) (*model.Document, error) {
	var doc model.Document
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

func (g *GormStore) GetDocumentByUUID(ctx context.Context, uuid string) (*model.Document, error) {
	var doc model.Document
	err := g.db.WithContext(ctx).Where("uuid = ?", uuid).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

func (g *GormStore) GetDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	var doc model.Document
	err := g.db.WithContext(ctx).Where("content_hash = ?", hash).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

func (g *GormStore) ListDocuments(ctx context.Context, f *filter.Filter) ([]*model.Document, error) {
	query := g.db.WithContext(ctx).Model(&model.Document{}).Order("uploaded_at desc")
	if f != nil {
		clause, args, err := f.SQL("documents")
		if err != nil {
			return nil, err
		}
		if clause != "" {
			query = query.Where(clause, args...)
		}
	}

	var docs []*model.Document
	err := query.Find(&docs).Error

	return docs, err
}

func (g *GormStore) ListDocumentUUIDs(ctx context.Context) ([]string, error) {
	var uuids []string
	err := g.db.WithContext(ctx).Model(&model.Document{}).Pluck("uuid", &uuids).Error

	return uuids, err
}

func (g *GormStore) UpdateChunkCount(ctx context.Context, id uint, count int) error {
	return g.db.WithContext(ctx).Model(&model.Document{}).
		Where("id = ?", id).
		Update("chunk_count", count).Error
}

func (g *GormStore) DeleteDocument(ctx context.Context, id uint) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Delete chunks explicitly so stores without FK cascade enforcement
		// still satisfy the deletion invariant.
		if err := tx.Where("document_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDocumentNotFound
		}
		return nil
	})
}

func (g *GormStore) CreateChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return g.db.WithContext(ctx).Omit(clause.Associations).Create(chunks).Error
}

func (g *GormStore) CountChunks(ctx context.Context, docID uint) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&model.Chunk{}).
		Where("document_id = ?", docID).
		Count(&count).Error

	return count, err
}

// chunkRow is the scan target for the raw k-NN query.
type chunkRow struct {
	ChunkID      uint
	ChunkIndex   int
	DocumentID   uint
	DocumentUUID string
	Filename     string
	UploadedBy   string
	Similarity   float64
	Summary      *string
	Keywords     string
	Metadata     string
	TokenCount   int
}

func (g *GormStore) SearchChunks(ctx context.Context, embedding []float32, opts SearchOptions) ([]*ChunkHit, error) {
	vec := pgvector.NewVector(embedding)

	where := []string{"(1 - (c.embedding <=> ?)) >= ?"}
	args := []any{vec, opts.MinSimilarity}

	if opts.Filter != nil {
		clause, filterArgs, err := opts.Filter.SQL("d")
		if err != nil {
			return nil, err
		}
		if clause != "" {
			where = append(where, "("+clause+")")
			args = append(args, filterArgs...)
		}
	}

	query := `
		SELECT
			c.id AS chunk_id,
			c.chunk_index,
			c.document_id,
			d.uuid AS document_uuid,
			d.filename,
			d.uploaded_by,
			d.summary,
			d.keywords,
			d.metadata,
			d.token_count,
			1 - (c.embedding <=> ?) AS similarity
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY c.embedding <=> ?, c.id ASC
		LIMIT ?`

	queryArgs := append([]any{vec}, args...)
	queryArgs = append(queryArgs, vec, opts.TopK)

	var rows []chunkRow
	if err := g.db.WithContext(ctx).Raw(query, queryArgs...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	hits := make([]*ChunkHit, 0, len(rows))
	for _, row := range rows {
		hit := &ChunkHit{
			ChunkID:      row.ChunkID,
			ChunkIndex:   row.ChunkIndex,
			DocumentID:   row.DocumentID,
			DocumentUUID: row.DocumentUUID,
			Filename:     row.Filename,
			UploadedBy:   row.UploadedBy,
			Similarity:   row.Similarity,
			Summary:      row.Summary,
			TokenCount:   row.TokenCount,
			Metadata:     map[string]any{},
		}
		if row.Keywords != "" {
			if err := json.Unmarshal([]byte(row.Keywords), &hit.Keywords); err != nil {
				logrus.Errorf("chunk %d: corrupt keywords column: %v", row.ChunkID, err)
			}
		}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &hit.Metadata); err != nil {
				logrus.Errorf("chunk %d: corrupt metadata column: %v", row.ChunkID, err)
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
