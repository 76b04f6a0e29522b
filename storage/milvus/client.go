// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package milvus implements the knowledge and intent indexes on a Milvus
// vector database.
package milvus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/poiesic/medrag/storage"
)

const (
	// DefaultKnowledgeCollection holds embedded knowledge chunks.
	DefaultKnowledgeCollection = "knowledge_base"
	// DefaultIntentCollection holds labelled reference queries.
	DefaultIntentCollection = "intent_queries"

	vectorField = "vector"
	idField     = "id"

	hnswM              = 16
	hnswEfConstruction = 200
	hnswEf             = 64
)

// Config describes how to reach Milvus and which collections to use.
type Config struct {
	Address             string
	Username            string
	Password            string
	KnowledgeCollection string
	IntentCollection    string
	Dimension           int
}

func (c Config) withDefaults() Config {
	if c.KnowledgeCollection == "" {
		c.KnowledgeCollection = DefaultKnowledgeCollection
	}
	if c.IntentCollection == "" {
		c.IntentCollection = DefaultIntentCollection
	}
	return c
}

// Client owns a Milvus connection shared by the indexes built from it.
type Client struct {
	milvus client.Client
	config Config
	logger *slog.Logger
}

var _ storage.HealthChecker = (*Client)(nil)

// NewClient connects to Milvus.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("milvus: address is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("milvus: dimension must be positive, got %d", cfg.Dimension)
	}

	mc, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		milvus: mc,
		config: cfg,
		logger: slog.Default().With("component", "milvus"),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck verifies the server answers a metadata request.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.milvus.HasCollection(ctx, c.config.KnowledgeCollection); err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	return nil
}

// EnsureCollections creates any missing collection with its index and
// loads both into memory so they can be searched.
func (c *Client) EnsureCollections(ctx context.Context) error {
	schemas := []*entity.Schema{
		knowledgeSchema(c.config.KnowledgeCollection, c.config.Dimension),
		intentSchema(c.config.IntentCollection, c.config.Dimension),
	}
	for _, schema := range schemas {
		if err := c.ensureCollection(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, schema *entity.Schema) error {
	name := schema.CollectionName
	has, err := c.milvus.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !has {
		c.logger.Info("creating collection", "collection", name, "dimension", c.config.Dimension)
		if err := c.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, hnswM, hnswEfConstruction)
		if err != nil {
			return fmt.Errorf("failed to build index for %s: %w", name, err)
		}
		if err := c.milvus.CreateIndex(ctx, name, vectorField, idx, false); err != nil {
			return fmt.Errorf("failed to create index for %s: %w", name, err)
		}
	}
	if err := c.milvus.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("failed to load collection %s: %w", name, err)
	}
	return nil
}

// search runs a single-vector COSINE search and hands each hit to visit
// with its score and a column lookup for the requested output fields.
func (c *Client) search(ctx context.Context, collection string, vector []float32, topK int,
	outputFields []string, visit func(i int, score float32, col columnLookup)) error {
	if topK <= 0 || len(vector) == 0 {
		return nil
	}
	if len(vector) != c.config.Dimension {
		return fmt.Errorf("%w: query has %d dimensions, collection has %d",
			storage.ErrDimensionMismatch, len(vector), c.config.Dimension)
	}

	sp, err := entity.NewIndexHNSWSearchParam(hnswEf)
	if err != nil {
		return fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := c.milvus.Search(ctx,
		collection,
		nil,
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		vectorField,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return fmt.Errorf("failed to search %s: %w", collection, err)
	}

	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			visit(i, result.Scores[i], result.Fields.GetColumn)
		}
	}
	return nil
}

// upsert writes columns and flushes so the rows are immediately searchable.
func (c *Client) upsert(ctx context.Context, collection string, columns ...entity.Column) error {
	if _, err := c.milvus.Upsert(ctx, collection, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", collection, err)
	}
	if err := c.milvus.Flush(ctx, collection, false); err != nil {
		return fmt.Errorf("failed to flush %s: %w", collection, err)
	}
	return nil
}

func (c *Client) checkDimension(vector []float32) error {
	if len(vector) != c.config.Dimension {
		return fmt.Errorf("%w: vector has %d dimensions, collection has %d",
			storage.ErrDimensionMismatch, len(vector), c.config.Dimension)
	}
	return nil
}

func varCharField(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLength)},
	}
}

func primaryKeyField() *entity.Field {
	return &entity.Field{
		Name:       idField,
		DataType:   entity.FieldTypeInt64,
		PrimaryKey: true,
		AutoID:     false,
	}
}

func vectorFieldSchema(dim int) *entity.Field {
	return &entity.Field{
		Name:       vectorField,
		DataType:   entity.FieldTypeFloatVector,
		TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
	}
}
