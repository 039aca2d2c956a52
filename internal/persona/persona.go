// Package persona renders the prompt for the answering model: the bot's
// identity, the retrieved context, and the user's question.
package persona

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/strandchat/strand/internal/assemble"
	"github.com/strandchat/strand/internal/message"
	"github.com/strandchat/strand/internal/vector"
)

// Config is the bot's identity as surfaced in prompts.
type Config struct {
	// Name is how the bot refers to itself.
	Name string

	// Voice describes the tone of replies, e.g. "friendly, concise".
	Voice string
}

// promptTemplate orders the sections so the model reads identity first,
// then retrieved context, then the live conversation, then the question.
var promptTemplate = template.Must(template.New("prompt").Parse(`You are {{.Name}}, a chat assistant embedded in this channel.
Your tone is {{.Voice}}. Answer using the context below. When the context
does not contain the answer, say so plainly instead of guessing.
{{- if .Matches}}

Relevant earlier messages (similarity score, highest first):
{{- range .Matches}}
[{{printf "%.2f" .Score}}] {{.Content}}
{{- end}}
{{- end}}
{{- if .History}}

Recent conversation:
{{- range .History}}
{{.Content}}
{{- end}}
{{- end}}

Question:
{{.Question}}
`))

type promptData struct {
	Name     string
	Voice    string
	Matches  []vector.Match
	History  []message.Message
	Question string
}

// Build renders the prompt for a question and its assembled context.
// Pure: no I/O, deterministic for identical inputs.
func Build(cfg Config, question string, bundle assemble.Bundle) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is required")
	}

	name := cfg.Name
	if name == "" {
		name = "Assistant"
	}
	voice := cfg.Voice
	if voice == "" {
		voice = "helpful and concise"
	}

	var sb strings.Builder
	err := promptTemplate.Execute(&sb, promptData{
		Name:     name,
		Voice:    voice,
		Matches:  bundle.Matches,
		History:  bundle.History,
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return sb.String(), nil
}

// summaryTemplate renders the prompt for channel summaries.
var summaryTemplate = template.Must(template.New("summary").Parse(`You are {{.Name}}, a chat assistant embedded in this channel.
Summarize the conversation below in a few sentences. Mention decisions
and open questions; skip greetings and small talk.

Conversation:
{{- range .History}}
{{.Content}}
{{- end}}
`))

// BuildSummary renders the prompt for summarizing recent history.
func BuildSummary(cfg Config, history []message.Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("history is required")
	}

	name := cfg.Name
	if name == "" {
		name = "Assistant"
	}

	var sb strings.Builder
	err := summaryTemplate.Execute(&sb, promptData{Name: name, History: history})
	if err != nil {
		return "", fmt.Errorf("rendering summary prompt: %w", err)
	}
	return sb.String(), nil
}
