package model

import (
	"encoding/json"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"
)

// Document is the unit of ingestion. The row holds searchable metadata only;
// the original bytes, the extracted text and the chunk texts live in the
// object store under the UUID prefix.
type Document struct {
	ID          uint   `gorm:"primaryKey"`
	UUID        string `gorm:"type:uuid;uniqueIndex;not null"`
	Filename    string `gorm:"not null"`
	FileType    string `gorm:"index;not null"`
	FileSize    int64
	ContentHash string `gorm:"uniqueIndex;not null"`
	UploadedBy  string `gorm:"index;not null"`
	UploadedVia string `gorm:"default:api"`
	UploadedAt  time.Time `gorm:"index"`
	// Metadata holds only user-supplied fields as a JSON object. System
	// fields are columns and can never be shadowed from here.
	Metadata string `gorm:"type:jsonb;default:'{}'"`
	// Summary and Keywords are LLM-extracted at ingestion. Summary stays
	// NULL when extraction failed; search works without it.
	Summary    *string
	Keywords   string `gorm:"type:jsonb;default:'[]'"`
	TokenCount int
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk holds one embedding. The chunk text is not stored here, it lives at
// {uuid}/chunks/NNN.json in the object store.
type Chunk struct {
	ID         uint `gorm:"primaryKey"`
	DocumentID uint `gorm:"index;not null;uniqueIndex:idx_chunks_doc_index,priority:1"`
	Document   Document `gorm:"constraint:OnDelete:CASCADE"`
	ChunkIndex int `gorm:"not null;uniqueIndex:idx_chunks_doc_index,priority:2"`
	Embedding  pgvector.Vector `gorm:"type:vector(768);not null"`
	CreatedAt  time.Time
}

func (d *Document) Meta() map[string]any {
	meta := make(map[string]any)
	if d.Metadata == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(d.Metadata), &meta); err != nil {
		logrus.Errorf("document %s has corrupt metadata: %v", d.UUID, err)
	}

	return meta
}

func (d *Document) SetMeta(meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	d.Metadata = string(data)

	return nil
}

func (d *Document) KeywordList() []string {
	var keywords []string
	if d.Keywords == "" {
		return keywords
	}
	if err := json.Unmarshal([]byte(d.Keywords), &keywords); err != nil {
		logrus.Errorf("document %s has corrupt keywords: %v", d.UUID, err)
	}

	return keywords
}

func (d *Document) SetKeywords(keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return err
	}
	d.Keywords = string(data)

	return nil
}

func (d *Document) MarshalBinary() ([]byte, error) {
	return json.Marshal(d)
}

func (d *Document) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, d)
}
