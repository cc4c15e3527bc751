package domain

import (
	"strings"
	"time"
)

// EntryKind tags a transcript entry so prompt rendering never has to parse
// free-form prefixes back out of the text.
type EntryKind string

const (
	EntryInitialRequirement EntryKind = "initial_requirement"
	EntryAgentQuestion      EntryKind = "agent_question"
	EntryUserAnswer         EntryKind = "user_answer"
)

// TranscriptEntry is one line of a conversation transcript.
type TranscriptEntry struct {
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
}

// Status is the lifecycle state of a conversation session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Session is one requirements-gathering conversation. The session store is
// the single owner of Session state; callers re-read, mutate and write back
// within a single request.
type Session struct {
	ID         string            `json:"id"`
	Specialist string            `json:"specialist"`
	Transcript []TranscriptEntry `json:"transcript"`
	Questions  []string          `json:"questions"`
	Cursor     int               `json:"cursor"`
	Status     Status            `json:"status"`
	Result     string            `json:"result,omitempty"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewSession creates an in-progress session with the cursor at the first
// question and the initial requirement as the sole transcript entry.
func NewSession(id, specialist, requirements string, questions []string) *Session {
	return &Session{
		ID:         id,
		Specialist: specialist,
		Transcript: []TranscriptEntry{{Kind: EntryInitialRequirement, Text: requirements}},
		Questions:  questions,
		Cursor:     0,
		Status:     StatusInProgress,
		CreatedAt:  time.Now().UTC(),
	}
}

// CurrentQuestion returns the next unanswered question, or false when every
// question has been consumed.
func (s *Session) CurrentQuestion() (string, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Questions) {
		return "", false
	}
	return s.Questions[s.Cursor], true
}

// Exhausted reports whether all questions have been answered.
func (s *Session) Exhausted() bool {
	return s.Cursor >= len(s.Questions)
}

// RecordAnswer appends the current question and the user's answer to the
// transcript and advances the cursor by exactly one.
func (s *Session) RecordAnswer(answer string) {
	question, ok := s.CurrentQuestion()
	if !ok {
		return
	}
	s.Transcript = append(s.Transcript,
		TranscriptEntry{Kind: EntryAgentQuestion, Text: question},
		TranscriptEntry{Kind: EntryUserAnswer, Text: answer},
	)
	s.Cursor++
}

// RenderTranscript flattens the tagged transcript into the line format the
// synthesis prompt expects. Entry order is preserved verbatim.
func (s *Session) RenderTranscript() string {
	lines := make([]string, 0, len(s.Transcript))
	for _, e := range s.Transcript {
		switch e.Kind {
		case EntryAgentQuestion:
			lines = append(lines, "Agent Question: "+e.Text)
		case EntryUserAnswer:
			lines = append(lines, "User Answer: "+e.Text)
		default:
			lines = append(lines, e.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// Clone returns a deep copy so stores can hand out sessions without sharing
// mutable slices with callers.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	cp.Questions = append([]string(nil), s.Questions...)
	return &cp
}
