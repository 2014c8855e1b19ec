package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/compress"
	"github.com/emrgen/docsearch/internal/model"
	redis "github.com/redis/go-redis/v9"
)

const cacheTTL = time.Hour

func documentKey(uuid string) string {
	return "document:" + uuid
}

func bm25Key(uuid string) string {
	return "document:bm25:" + uuid
}

var _ DocumentCache = (*RedisDocumentCache)(nil)

type RedisDocumentCache struct {
	client  *redis.Client
	encoder compress.Compress
}

func NewRedisDocumentCache(addr string) *RedisDocumentCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password set
		DB:       0,  // Use default DB
		Protocol: 2,  // Connection protocol
	})

	return &RedisDocumentCache{client: client, encoder: compress.NewGZip()}
}

func (r *RedisDocumentCache) GetDocument(ctx context.Context, uuid string) (*model.Document, error) {
	buf, err := r.get(ctx, documentKey(uuid))
	if err != nil || buf == nil {
		return nil, err
	}

	doc := &model.Document{}
	if err := json.Unmarshal(buf, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func (r *RedisDocumentCache) SetDocument(ctx context.Context, doc *model.Document) error {
	marshal, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	return r.set(ctx, documentKey(doc.UUID), marshal)
}

func (r *RedisDocumentCache) GetBM25Index(ctx context.Context, uuid string) (*blob.BM25Index, error) {
	buf, err := r.get(ctx, bm25Key(uuid))
	if err != nil || buf == nil {
		return nil, err
	}

	index := &blob.BM25Index{}
	if err := json.Unmarshal(buf, index); err != nil {
		return nil, err
	}

	return index, nil
}

func (r *RedisDocumentCache) SetBM25Index(ctx context.Context, uuid string, index *blob.BM25Index) error {
	marshal, err := json.Marshal(index)
	if err != nil {
		return err
	}

	return r.set(ctx, bm25Key(uuid), marshal)
}

func (r *RedisDocumentCache) InvalidateDocument(ctx context.Context, uuid string) error {
	return r.client.Del(ctx, documentKey(uuid), bm25Key(uuid)).Err()
}

func (r *RedisDocumentCache) get(ctx context.Context, key string) ([]byte, error) {
	res := r.client.Get(ctx, key)
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, nil
		}
		return nil, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, err
	}

	return r.encoder.Decode(buf)
}

func (r *RedisDocumentCache) set(ctx context.Context, key string, value []byte) error {
	encoded, err := r.encoder.Encode(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, encoded, cacheTTL).Err()
}
