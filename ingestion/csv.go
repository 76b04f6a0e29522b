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

package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/medrag/core"
)

// Knowledge CSV column names.
const (
	colName            = "name"
	colGroup           = "group"
	colRelatedDiseases = "related_diseases"
	colRelatedGene     = "related_gene"
	colProductNames    = "product_names"
	colCategory        = "category"
	colRecommendation  = "recommendation"
	colDescription     = "description"

	colQuery       = "query"
	colLabel       = "label"
	colIntentLabel = "intent_label"
)

// contentLines maps knowledge columns to the line prefix used in chunk text.
var contentLines = []struct {
	column string
	prefix string
}{
	{colName, "Active ingredient: "},
	{colGroup, "Group: "},
	{colRelatedDiseases, "Indicated for: "},
	{colRelatedGene, "Related gene: "},
	{colProductNames, "Products containing it: "},
}

// row is one CSV record addressed by lower-cased header name.
type row map[string]string

func (r row) get(column string) string {
	return strings.TrimSpace(r[column])
}

// readRows reads a headed CSV and calls fn for every data row.
func readRows(r io.Reader, fn func(row) error) (header []string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err = reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return header, nil
		}
		if err != nil {
			return header, fmt.Errorf("read csv: %w", err)
		}
		values := make(row, len(header))
		for i, h := range header {
			if i < len(record) {
				values[h] = record[i]
			}
		}
		if err := fn(values); err != nil {
			return header, err
		}
	}
}

// KnowledgeChunkFromRow builds a chunk from a knowledge CSV row, or
// returns nil when the row has no content columns set.
func KnowledgeChunkFromRow(r map[string]string) *core.KnowledgeChunk {
	values := row(r)
	var lines []string
	for _, line := range contentLines {
		if v := values.get(line.column); v != "" {
			lines = append(lines, line.prefix+v)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	content := strings.Join(lines, "\n")
	return &core.KnowledgeChunk{
		Id:             core.IDFromContent(content),
		Content:        content,
		Category:       values.get(colCategory),
		Recommendation: values.get(colRecommendation),
		Description:    values.get(colDescription),
	}
}

// ParseKnowledgeCSV reads knowledge rows into chunks. Rows without
// content are counted as skipped; duplicate content is kept once.
func ParseKnowledgeCSV(r io.Reader) ([]*core.KnowledgeChunk, Stats, error) {
	var stats Stats
	var chunks []*core.KnowledgeChunk
	seen := make(map[core.ID]bool)

	_, err := readRows(r, func(values row) error {
		stats.Rows++
		chunk := KnowledgeChunkFromRow(values)
		if chunk == nil || seen[chunk.Id] {
			stats.Skipped++
			return nil
		}
		seen[chunk.Id] = true
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	stats.Chunks = len(chunks)
	return chunks, stats, nil
}

// parseLabel accepts the intent labels used in reference datasets.
func parseLabel(label string) (core.Intent, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "non-medical", "non_medical", "nonmedical", "other":
		return core.IntentGeneral, nil
	}
	return core.ParseIntent(strings.ToLower(strings.TrimSpace(label)))
}

// ParseIntentCSV reads query/label rows into intent examples. The label
// column may be named "label" or "intent_label". Rows with a missing query
// or an unknown label are skipped.
func ParseIntentCSV(r io.Reader) ([]*core.IntentExample, Stats, error) {
	var stats Stats
	var examples []*core.IntentExample
	labelColumn := ""

	header, err := readRows(r, func(values row) error {
		if labelColumn == "" {
			if _, ok := values[colIntentLabel]; ok {
				labelColumn = colIntentLabel
			} else if _, ok := values[colLabel]; ok {
				labelColumn = colLabel
			} else {
				return fmt.Errorf("%w: %s or %s", ErrMissingColumn, colLabel, colIntentLabel)
			}
			if _, ok := values[colQuery]; !ok {
				return fmt.Errorf("%w: %s", ErrMissingColumn, colQuery)
			}
		}

		stats.Rows++
		text := values.get(colQuery)
		label, err := parseLabel(values.get(labelColumn))
		if text == "" || err != nil {
			stats.Skipped++
			return nil
		}
		examples = append(examples, &core.IntentExample{
			Id:    core.IDFromContent(string(label) + "\x00" + text),
			Query: text,
			Label: label,
		})
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	if stats.Rows == 0 && !hasColumn(header, colQuery) {
		return nil, stats, fmt.Errorf("%w: %s", ErrMissingColumn, colQuery)
	}
	stats.Chunks = len(examples)
	return examples, stats, nil
}

func hasColumn(header []string, column string) bool {
	for _, h := range header {
		if h == column {
			return true
		}
	}
	return false
}

// IndexKnowledgeCSV parses and indexes a knowledge CSV.
func (p *Pipeline) IndexKnowledgeCSV(ctx context.Context, r io.Reader) (Stats, error) {
	chunks, stats, err := ParseKnowledgeCSV(r)
	if err != nil {
		return stats, err
	}
	p.logger.Info("indexing knowledge", "rows", stats.Rows, "chunks", stats.Chunks)
	stats.Indexed, stats.Failed, err = p.IndexKnowledge(ctx, chunks)
	return stats, err
}

// IndexIntentsCSV parses and indexes an intent reference CSV.
func (p *Pipeline) IndexIntentsCSV(ctx context.Context, r io.Reader) (Stats, error) {
	examples, stats, err := ParseIntentCSV(r)
	if err != nil {
		return stats, err
	}
	p.logger.Info("indexing intent references", "rows", stats.Rows, "examples", stats.Chunks)
	stats.Indexed, stats.Failed, err = p.IndexIntents(ctx, examples)
	return stats, err
}
