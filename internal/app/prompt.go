package app

import (
	"fmt"
	"strings"

	"studiumai/pkg/domain"
)

const (
	replyNoSources = "Please upload some source documents first before asking questions."
	replyFailed    = "Sorry, I encountered an error processing your question. Please try again."
	unreadableText = "[Error reading file]"
)

// sourceBlock is one source document rendered for the prompt.
type sourceBlock struct {
	FileName string
	Text     string
}

func buildContext(blocks []sourceBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = fmt.Sprintf("--- %s ---\n%s\n", b.FileName, b.Text)
	}
	return strings.Join(parts, "\n\n")
}

func buildHistory(history []domain.Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		role := "User"
		if m.Role == domain.RoleAssistant {
			role = "Assistant"
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n\n")
}

// buildPrompt renders the grounded question-answering prompt.
func buildPrompt(question string, blocks []sourceBlock, history []domain.Message) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI assistant that answers questions based on the provided source documents.\n\n")
	b.WriteString("SOURCE DOCUMENTS:\n")
	b.WriteString(buildContext(blocks))
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("CONVERSATION HISTORY:\n")
		b.WriteString(buildHistory(history))
		b.WriteString("\n\n")
	}
	b.WriteString("\nUSER QUESTION: ")
	b.WriteString(question)
	b.WriteString(`

Instructions:
- Answer the question based ONLY on the information in the source documents
- If the answer cannot be found in the sources, say so clearly
- Be concise but thorough
- Reference which source document contains the relevant information when possible

YOUR ANSWER:`)
	return b.String()
}
