// Package prompts builds the system instruction sent ahead of every chat
// exchange: a fixed persona followed by optional context sections.
package prompts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Per-item character budgets for each context section.
const (
	KnowledgeBudget = 1000
	OpenDocBudget   = 2000
	MentionBudget   = 3000
)

// Snippet is one piece of retrieved or attached note text
type Snippet struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Sections holds the optional context attached to an exchange. Any of the
// lists may be empty, in which case its block is omitted.
type Sections struct {
	Knowledge     []Snippet `yaml:"knowledge"`
	OpenDocuments []Snippet `yaml:"open_documents"`
	Mentioned     []Snippet `yaml:"mentioned"`
}

// PromptBuilder constructs the system prompt from components
type PromptBuilder struct {
	sections    *Sections
	customRules string
	components  []func(*Sections) string
}

// NewPromptBuilder creates a new builder with default components
func NewPromptBuilder(sections *Sections) *PromptBuilder {
	if sections == nil {
		sections = &Sections{}
	}
	return &PromptBuilder{
		sections: sections,
		components: []func(*Sections) string{
			persona,
			knowledge,
			openDocuments,
			mentioned,
		},
	}
}

// WithCustomRules adds user-defined rules
func (b *PromptBuilder) WithCustomRules(rules string) *PromptBuilder {
	b.customRules = strings.TrimSpace(rules)
	return b
}

// Build generates the complete system prompt
func (b *PromptBuilder) Build() string {
	var parts []string

	for _, component := range b.components {
		section := component(b.sections)
		if section != "" {
			parts = append(parts, section)
		}
	}

	if b.customRules != "" {
		parts = append(parts, fmt.Sprintf("USER INSTRUCTIONS\n\n%s", b.customRules))
	}

	return strings.Join(parts, "\n\n")
}

// =============================================================================
// PROMPT COMPONENTS
// =============================================================================

func persona(_ *Sections) string {
	return `You are Z-Note's writing assistant, embedded in the user's personal knowledge base. You help the user think, write and connect ideas across their notes.

- Answer in Markdown. Keep answers focused and skip preamble.
- When context from the user's notes is provided below, ground your answer in it and cite note titles in [[double brackets]].
- If the notes do not contain the answer, say so before answering from general knowledge.`
}

func knowledge(s *Sections) string {
	return block("RELEVANT KNOWLEDGE FROM YOUR NOTES", s.Knowledge, KnowledgeBudget)
}

func openDocuments(s *Sections) string {
	return block("CURRENTLY OPEN DOCUMENTS", s.OpenDocuments, OpenDocBudget)
}

func mentioned(s *Sections) string {
	return block("DOCUMENTS MENTIONED BY THE USER", s.Mentioned, MentionBudget)
}

// block renders a labeled section, truncating each item to budget runes.
func block(label string, items []Snippet, budget int) string {
	var b strings.Builder
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(label)
			b.WriteString(":")
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", title, Truncate(content, budget))
	}
	return b.String()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// LoadSections reads a YAML context bundle:
//
//	knowledge:
//	  - title: Meeting notes
//	    content: ...
//	open_documents: [...]
//	mentioned: [...]
func LoadSections(path string) (*Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context bundle: %w", err)
	}

	var s Sections
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse context bundle %s: %w", path, err)
	}
	return &s, nil
}
