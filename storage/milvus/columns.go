package milvus

import (
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/poiesic/medrag/core"
)

const (
	contentField        = "content"
	categoryField       = "category"
	recommendationField = "recommendation"
	descriptionField    = "description"
	queryField          = "query"
	labelField          = "label"

	maxTextLength  = 65535
	maxShortLength = 512
	maxLabelLength = 32
)

// fitVarChar trims s to at most limit bytes without splitting a rune.
// Milvus rejects the whole insert when any row exceeds a VarChar max_length.
func fitVarChar(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// columnLookup returns the named output column of a search result, or nil.
type columnLookup func(name string) entity.Column

var knowledgeOutputFields = []string{idField, contentField, categoryField, recommendationField, descriptionField}

var intentOutputFields = []string{idField, queryField, labelField}

func knowledgeSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Medical knowledge chunks",
		Fields: []*entity.Field{
			primaryKeyField(),
			vectorFieldSchema(dim),
			varCharField(contentField, maxTextLength),
			varCharField(categoryField, maxShortLength),
			varCharField(recommendationField, maxTextLength),
			varCharField(descriptionField, maxTextLength),
		},
	}
}

func intentSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Labelled reference queries for intent voting",
		Fields: []*entity.Field{
			primaryKeyField(),
			vectorFieldSchema(dim),
			varCharField(queryField, maxTextLength),
			varCharField(labelField, maxLabelLength),
		},
	}
}

// core.ID is a uint64 hash; Milvus keys are int64, so the bits are
// reinterpreted in both directions.
func toPrimaryKey(id core.ID) int64 {
	return int64(id)
}

func fromPrimaryKey(v int64) core.ID {
	return core.ID(uint64(v))
}

func knowledgeColumns(dim int, chunks []*core.KnowledgeChunk) []entity.Column {
	ids := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))
	contents := make([]string, len(chunks))
	categories := make([]string, len(chunks))
	recommendations := make([]string, len(chunks))
	descriptions := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = toPrimaryKey(chunk.Id)
		vectors[i] = chunk.Vector
		contents[i] = fitVarChar(chunk.Content, maxTextLength)
		categories[i] = fitVarChar(chunk.Category, maxShortLength)
		recommendations[i] = fitVarChar(chunk.Recommendation, maxTextLength)
		descriptions[i] = fitVarChar(chunk.Description, maxTextLength)
	}
	return []entity.Column{
		entity.NewColumnInt64(idField, ids),
		entity.NewColumnFloatVector(vectorField, dim, vectors),
		entity.NewColumnVarChar(contentField, contents),
		entity.NewColumnVarChar(categoryField, categories),
		entity.NewColumnVarChar(recommendationField, recommendations),
		entity.NewColumnVarChar(descriptionField, descriptions),
	}
}

func intentColumns(dim int, examples []*core.IntentExample) []entity.Column {
	ids := make([]int64, len(examples))
	vectors := make([][]float32, len(examples))
	queries := make([]string, len(examples))
	labels := make([]string, len(examples))
	for i, ex := range examples {
		ids[i] = toPrimaryKey(ex.Id)
		vectors[i] = ex.Vector
		queries[i] = fitVarChar(ex.Query, maxTextLength)
		labels[i] = fitVarChar(string(ex.Label), maxLabelLength)
	}
	return []entity.Column{
		entity.NewColumnInt64(idField, ids),
		entity.NewColumnFloatVector(vectorField, dim, vectors),
		entity.NewColumnVarChar(queryField, queries),
		entity.NewColumnVarChar(labelField, labels),
	}
}

func int64At(col columnLookup, name string, i int) int64 {
	if c, ok := col(name).(*entity.ColumnInt64); ok && i < c.Len() {
		return c.Data()[i]
	}
	return 0
}

func stringAt(col columnLookup, name string, i int) string {
	if c, ok := col(name).(*entity.ColumnVarChar); ok && i < c.Len() {
		return c.Data()[i]
	}
	return ""
}

func knowledgeHitAt(col columnLookup, i int, score float32) *core.KnowledgeHit {
	return &core.KnowledgeHit{
		Chunk: &core.KnowledgeChunk{
			Id:             fromPrimaryKey(int64At(col, idField, i)),
			Content:        stringAt(col, contentField, i),
			Category:       stringAt(col, categoryField, i),
			Recommendation: stringAt(col, recommendationField, i),
			Description:    stringAt(col, descriptionField, i),
		},
		Score: score,
	}
}

func intentMatchAt(col columnLookup, i int, score float32) *core.IntentMatch {
	return &core.IntentMatch{
		Example: &core.IntentExample{
			Id:    fromPrimaryKey(int64At(col, idField, i)),
			Query: stringAt(col, queryField, i),
			Label: core.Intent(stringAt(col, labelField, i)),
		},
		Score: score,
	}
}
