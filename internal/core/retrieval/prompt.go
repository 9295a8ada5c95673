package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/markdave123-py/policyqa/internal/models"
)

const systemPrompt = `You are a helpful assistant that answers questions about a policy document using the provided document snippets.
RULES:
1. Use any relevant information from the snippets, even if it is indirect.
2. Make reasonable inferences from abbreviations, codes, partial names or headers.
3. Cite page numbers as (page N) whenever you use specific information.
4. Use the conversation history for context on follow-up questions.
5. Connect related information across snippets.
6. Only say "I don't know" if there is truly no relevant information.`

const noContextNotice = `NO GROUNDING CONTEXT: no passage of the document matched this question closely enough.
Say that you don't know based on the document. Do not guess or invent policy details.`

// formatSnippet renders a hit as "(page N) text", with text capped at maxChars runes.
func formatSnippet(hit models.QueryResult, maxChars int) string {
	text := hit.Text
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
		}
	}
	return fmt.Sprintf("(page %d) %s", hit.PageStart, text)
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

// buildMessages assembles system instructions, recent history and the
// current question with its snippets. An empty snippet set switches the
// prompt to the no-context notice.
func buildMessages(snippets []string, history []models.ChatMessage, question string) []models.ChatMessage {
	msgs := make([]models.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	for _, h := range history {
		if h.Role == models.RoleUser || h.Role == models.RoleAssistant {
			msgs = append(msgs, models.ChatMessage{Role: h.Role, Content: h.Content})
		}
	}

	var b strings.Builder
	if len(snippets) == 0 {
		b.WriteString(noContextNotice)
	} else {
		b.WriteString("DOCUMENT SNIPPETS:\n\n")
		b.WriteString(strings.Join(snippets, "\n\n---\n\n"))
	}
	b.WriteString("\n\nCURRENT QUESTION: ")
	b.WriteString(question)
	if len(snippets) > 0 {
		b.WriteString("\n\nAnswer based only on the snippets above:")
	}

	msgs = append(msgs, models.ChatMessage{Role: models.RoleUser, Content: b.String(), Timestamp: time.Now()})
	return msgs
}
