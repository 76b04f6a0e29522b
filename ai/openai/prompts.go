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

package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
)

const structureSystemPrompt = `You are an expert in medicine, pharmacology and genetics.
Rewrite the user's question as a short structured query naming the drugs, diseases and genes it is about.
Keep it concise and in the language of the question.
Respond with JSON only:
{"structured_query": "<structured query>"}

Example question: "What does meloxicam do in treating arthritis?"
Example response: {"structured_query": "meloxicam in the treatment of arthritis"}

Example question: "I have a cough and flu, with my CYP2D6 genotype should I take hydrocodone?"
Example response: {"structured_query": "cough, flu, CYP2D6 genotype, hydrocodone"}`

const reflectionSystemPrompt = `You are a reviewer of medical information.
Decide whether the available information is sufficient to answer the main question.
If it is not, propose exactly one follow-up search query that would fill the gap.
If the information is long, you may also return a condensed summary of only the relevant facts.
Respond with JSON only:
{"sufficient": true or false, "follow_up_query": "<query or empty>", "summary_context": "<optional summary>"}`

const summarySystemPrompt = `You are a medical expert. Summarize the web content so that it answers the given question.
Keep only accurate, relevant information. Be brief (at most 200 words).`

const answerSystemPrompt = `You are an AI assistant specialized in medicine and pharmacology.
Answer the user's current question using the reference information provided.
- Be accurate and rely on the reference information
- Use clear structure with headings or bullet points when useful
- Mention sources when available
- If the information is insufficient, say so and give general advice
- Always recommend consulting a doctor for medical concerns`

const generalSystemPrompt = `You are an AI assistant specialized in medicine and pharmacology.
The user's question appears to be outside your field. Reply politely and briefly.
Explain that you can help with drug information (uses, side effects, dosage), drug-drug, drug-gene and
drug-disease interactions, and information about diseases, then invite a question on those topics.`

const relevanceSystemPrompt = `You judge whether a document is relevant to a medical search query.
Respond with JSON only:
{"relevant": true or false, "confidence": <number between 0 and 1>}`

// buildPrompt returns the system and user messages for a prompt kind.
func buildPrompt(kind ai.PromptKind, args ai.PromptArgs) (string, string, error) {
	switch kind {
	case ai.PromptStructure:
		return structureSystemPrompt, "Question: " + args.Query, nil
	case ai.PromptReflect:
		return reflectionSystemPrompt, fmt.Sprintf("Main question: %s\n\nAvailable information:\n%s",
			args.StructuredQuery, args.Evidence), nil
	case ai.PromptSummary:
		return summarySystemPrompt, fmt.Sprintf("Question: %s\n\nWeb content:\n%s", args.Query, args.Evidence), nil
	case ai.PromptAnswer:
		return answerSystemPrompt, fmt.Sprintf("Conversation history:\n%s\nCurrent question: %s\n\nReference information:\n%s\n\nAnswer:",
			formatHistory(args.History), args.Query, args.Context), nil
	case ai.PromptGeneral:
		return generalSystemPrompt, fmt.Sprintf("Conversation history:\n%s\nQuestion: %s",
			formatHistory(args.History), args.Query), nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownPromptKind, kind)
}

func buildRelevancePrompt(query, document string) string {
	return fmt.Sprintf("Query: %s\n\nDocument:\n%s", query, document)
}

func formatHistory(history []*core.ConversationTurn) string {
	var sb strings.Builder
	for _, turn := range history {
		sb.WriteString("User: ")
		sb.WriteString(turn.Query)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(turn.Answer)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
