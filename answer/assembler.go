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

// Package answer assembles the final prompt context and produces the
// user-facing answer.
package answer

import (
	"fmt"
	"strings"

	"github.com/poiesic/medrag/core"
)

const (
	// DefaultWebBudget caps each web item's content, in characters.
	DefaultWebBudget = 10000
	// DefaultHistoryWindow is the number of recent turns passed to the answerer.
	DefaultHistoryWindow = 3
)

// Assembler renders evidence and history for the answer prompt.
type Assembler struct {
	webBudget     int
	historyWindow int
}

// NewAssembler creates an assembler. Non-positive values select the defaults.
func NewAssembler(webBudget, historyWindow int) Assembler {
	if webBudget <= 0 {
		webBudget = DefaultWebBudget
	}
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return Assembler{webBudget: webBudget, historyWindow: historyWindow}
}

// HistoryWindow returns the configured number of recent turns.
func (a Assembler) HistoryWindow() int {
	return a.historyWindow
}

// RenderEvidence renders the knowledge-base block first, then the web
// block. Empty blocks are omitted; an empty set renders as "".
func (a Assembler) RenderEvidence(set core.EvidenceSet) string {
	var sections []string

	if vector := set.BySource(core.SourceVector); len(vector) > 0 {
		var sb strings.Builder
		sb.WriteString("Knowledge base:\n")
		for i, item := range vector {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, item.Content)
			writeField(&sb, "Category", item.Meta(core.MetaCategory))
			writeField(&sb, "Recommendation", item.Meta(core.MetaRecommendation))
			writeField(&sb, "Description", item.Meta(core.MetaDescription))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if web := set.BySource(core.SourceWeb); len(web) > 0 {
		var sb strings.Builder
		sb.WriteString("Web sources:\n")
		for i, item := range web {
			fmt.Fprintf(&sb, "[%d] Source: %s\n%s\n", i+1, item.URL, core.TruncateRunes(item.Content, a.webBudget))
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func writeField(sb *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value != "" {
		fmt.Fprintf(sb, "%s: %s\n", label, value)
	}
}

// History keeps the most recent turns of an oldest-first history,
// preserving order.
func (a Assembler) History(turns []*core.ConversationTurn) []*core.ConversationTurn {
	if len(turns) > a.historyWindow {
		turns = turns[len(turns)-a.historyWindow:]
	}
	out := make([]*core.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}
