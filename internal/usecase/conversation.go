package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Kartavya-AI/SRS-Generator/internal/domain"
	"github.com/Kartavya-AI/SRS-Generator/internal/repository"
)

const (
	questionTemperature  float32 = 0.8
	synthesisTemperature float32 = 0.7
)

// LLMGateway invokes the external generation model with a fully built prompt.
type LLMGateway interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}

// SessionStore owns all conversation session state.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ConversationService sequences question generation, answer collection and
// final document synthesis. Every operation re-reads the session from the
// store, mutates it, and writes it back; a per-session mutex serializes the
// whole read-modify-write so concurrent submissions cannot double-increment
// the cursor or interleave transcript writes.
type ConversationService struct {
	llm   LLMGateway
	store SessionStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type StartInput struct {
	Specialist   string
	Requirements string
}

type StartOutput struct {
	ConversationID string
	NextQuestion   string
	TotalQuestions int
}

type SubmitInput struct {
	ConversationID string
	Answer         string
}

type SubmitOutput struct {
	Status       domain.Status
	NextQuestion string
	Document     string
}

type StatusOutput struct {
	ConversationID string
	Specialist     string
	Answered       int
	TotalQuestions int
	Status         domain.Status
	Document       string
}

type GenerateInput struct {
	Specialist   string
	Requirements string
}

func NewConversationService(llm LLMGateway, store SessionStore) (*ConversationService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm gateway must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &ConversationService{
		llm:   llm,
		store: store,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Start generates the clarifying questions for a new conversation and
// persists the session. The session is only created after question
// generation succeeds, so a failed or retried Start leaves no orphans.
func (s *ConversationService) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	specialist := strings.TrimSpace(in.Specialist)
	requirements := strings.TrimSpace(in.Requirements)
	if specialist == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "empty_specialist", nil)
	}
	if requirements == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "empty_requirements", nil)
	}

	prompt, err := BuildQuestionPrompt(specialist, requirements)
	if err != nil {
		return StartOutput{}, newError(ErrorInternal, "prompt_render_error", err)
	}
	raw, err := s.llm.Generate(ctx, prompt, questionTemperature)
	if err != nil {
		return StartOutput{}, classifyGenerationError("question_generation_failed", err)
	}
	questions := ParseQuestionList(raw)
	if len(questions) == 0 {
		return StartOutput{}, newError(ErrorGeneration, "empty_question_list", nil)
	}

	session := domain.NewSession(newUUID(), specialist, requirements, questions)
	if err := s.store.Create(ctx, session); err != nil {
		return StartOutput{}, newError(ErrorInternal, "session_create_error", err)
	}

	return StartOutput{
		ConversationID: session.ID,
		NextQuestion:   questions[0],
		TotalQuestions: len(questions),
	}, nil
}

// SubmitAnswer records an answer against the current question. The transcript
// append and cursor increment are committed before synthesis is attempted, so
// a failed terminal synthesis leaves the session completable via Finalize
// without re-consuming a question.
func (s *ConversationService) SubmitAnswer(ctx context.Context, in SubmitInput) (SubmitOutput, error) {
	id := strings.TrimSpace(in.ConversationID)
	answer := strings.TrimSpace(in.Answer)
	if id == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	if answer == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "empty_answer", nil)
	}

	unlock := s.lockSession(id)
	defer unlock()

	session, err := s.readSession(ctx, id)
	if err != nil {
		return SubmitOutput{}, err
	}
	if session.Status == domain.StatusCompleted {
		return SubmitOutput{}, newError(ErrorInvalidState, "conversation_completed", nil)
	}
	if session.Exhausted() {
		// Every question was consumed but synthesis has not succeeded yet;
		// the caller must retry via Finalize instead of spending an answer.
		return SubmitOutput{}, newError(ErrorInvalidState, "awaiting_finalize", nil)
	}

	session.RecordAnswer(answer)
	if err := s.store.Update(ctx, session); err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "session_write_error", err)
	}

	if next, ok := session.CurrentQuestion(); ok {
		return SubmitOutput{Status: domain.StatusInProgress, NextQuestion: next}, nil
	}
	return s.synthesizeLocked(ctx, session)
}

// Finalize re-runs document synthesis from the recorded transcript. It is the
// retry path for a terminal SubmitAnswer whose synthesis call failed.
func (s *ConversationService) Finalize(ctx context.Context, conversationID string) (SubmitOutput, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return SubmitOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	unlock := s.lockSession(id)
	defer unlock()

	session, err := s.readSession(ctx, id)
	if err != nil {
		return SubmitOutput{}, err
	}
	if session.Status == domain.StatusCompleted {
		return SubmitOutput{Status: domain.StatusCompleted, Document: session.Result}, nil
	}
	if !session.Exhausted() {
		return SubmitOutput{}, newError(ErrorInvalidState, "questions_remaining", nil)
	}
	return s.synthesizeLocked(ctx, session)
}

// Status returns a read-only snapshot. Reading a completed session hands the
// result to the caller and removes the session from the store.
func (s *ConversationService) Status(ctx context.Context, conversationID string) (StatusOutput, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return StatusOutput{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	unlock := s.lockSession(id)
	defer unlock()

	session, err := s.readSession(ctx, id)
	if err != nil {
		return StatusOutput{}, err
	}
	out := StatusOutput{
		ConversationID: session.ID,
		Specialist:     session.Specialist,
		Answered:       session.Cursor,
		TotalQuestions: len(session.Questions),
		Status:         session.Status,
		Document:       session.Result,
	}
	if session.Status == domain.StatusCompleted {
		// Best effort: the result has been fetched, the session is done.
		_ = s.store.Delete(ctx, id)
		s.dropLock(id)
	}
	return out, nil
}

// Cancel removes a session unconditionally. A second Cancel fails with
// NOT_FOUND; idempotent deletion is deliberately not guaranteed.
func (s *ConversationService) Cancel(ctx context.Context, conversationID string) error {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	unlock := s.lockSession(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrorNotFound, "unknown_conversation", err)
		}
		return newError(ErrorInternal, "session_delete_error", err)
	}
	s.dropLock(id)
	return nil
}

// GenerateDocument is the one-shot flow: synthesize an SRS directly from the
// requirement statement with no clarifying questions.
func (s *ConversationService) GenerateDocument(ctx context.Context, in GenerateInput) (string, error) {
	specialist := strings.TrimSpace(in.Specialist)
	requirements := strings.TrimSpace(in.Requirements)
	if specialist == "" {
		return "", newError(ErrorInvalidInput, "empty_specialist", nil)
	}
	if requirements == "" {
		return "", newError(ErrorInvalidInput, "empty_requirements", nil)
	}
	return s.synthesize(ctx, specialist, requirements)
}

// synthesizeLocked runs synthesis for a session whose questions are all
// consumed, persists the completed state and returns the document. Caller
// must hold the session lock.
func (s *ConversationService) synthesizeLocked(ctx context.Context, session *domain.Session) (SubmitOutput, error) {
	document, err := s.synthesize(ctx, session.Specialist, session.RenderTranscript())
	if err != nil {
		return SubmitOutput{}, err
	}
	session.Status = domain.StatusCompleted
	session.Result = document
	if err := s.store.Update(ctx, session); err != nil {
		return SubmitOutput{}, newError(ErrorInternal, "session_write_error", err)
	}
	return SubmitOutput{Status: domain.StatusCompleted, Document: document}, nil
}

func (s *ConversationService) synthesize(ctx context.Context, specialist, conversation string) (string, error) {
	prompt, err := BuildSynthesisPrompt(specialist, conversation)
	if err != nil {
		return "", newError(ErrorInternal, "prompt_render_error", err)
	}
	raw, err := s.llm.Generate(ctx, prompt, synthesisTemperature)
	if err != nil {
		return "", classifyGenerationError("synthesis_failed", err)
	}
	document := strings.TrimSpace(Normalize(raw))
	if document == "" {
		return "", newError(ErrorGeneration, "empty_document", nil)
	}
	return document, nil
}

func (s *ConversationService) readSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrorNotFound, "unknown_conversation", err)
		}
		return nil, newError(ErrorInternal, "session_read_error", err)
	}
	return session, nil
}

// lockSession serializes all operations on one conversation id.
func (s *ConversationService) lockSession(id string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *ConversationService) dropLock(id string) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func classifyGenerationError(reason string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorGeneration, "llm_timeout", err)
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 429 {
		return newError(ErrorRateLimited, "llm_rate_limited", err)
	}
	return newError(ErrorGeneration, reason, err)
}

var newUUID = func() string {
	return uuid.NewString()
}
