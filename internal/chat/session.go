package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/prompts"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// titleLength is the number of runes of the first user message kept as title.
const titleLength = 40

// Rating is the user's feedback on an assistant message
type Rating int

const (
	Unrated Rating = iota
	ThumbsUp
	ThumbsDown
)

// Message is one entry of a conversation. Content grows in place while
// Generating is set and is fixed afterwards.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Rating     Rating `json:"rating,omitempty"`
	ImageURL   string `json:"image_url,omitempty"`
	Generating bool   `json:"generating,omitempty"`
}

// Session is an ordered conversation
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session with a fresh id
func NewSession() Session {
	return Session{
		ID:        uuid.NewString(),
		UpdatedAt: time.Now(),
	}
}

// clone returns a copy whose message slice does not alias s.
func (s Session) clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// updateTitle derives the title from the first user message once the
// conversation holds more than one message.
func (s *Session) updateTitle() {
	if s.Title != "" || len(s.Messages) < 2 {
		return
	}
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			s.Title = prompts.Truncate(m.Content, titleLength)
			return
		}
	}
}

// history converts settled messages to provider messages.
func (s Session) history() []llm.Message {
	out := make([]llm.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Generating {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
