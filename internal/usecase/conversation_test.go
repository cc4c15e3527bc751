package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Kartavya-AI/SRS-Generator/internal/domain"
	"github.com/Kartavya-AI/SRS-Generator/internal/repository"
)

type llmResponse struct {
	text string
	err  error
}

// mockLLM replays scripted responses and records every prompt it saw.
type mockLLM struct {
	mu           sync.Mutex
	responses    []llmResponse
	callCount    int
	prompts      []string
	temperatures []float32
}

func (m *mockLLM) Generate(_ context.Context, prompt string, temperature float32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.temperatures = append(m.temperatures, temperature)
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := m.callCount
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.callCount++
	return m.responses[idx].text, m.responses[idx].err
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type rateLimitedError struct{}

func (e *rateLimitedError) Error() string       { return "429 from upstream" }
func (e *rateLimitedError) HTTPStatusCode() int { return 429 }

// failingStore injects errors into individual store operations.
type failingStore struct {
	createErr error
	getErr    error
	updateErr error
	deleteErr error
}

func (f *failingStore) Create(context.Context, *domain.Session) error { return f.createErr }
func (f *failingStore) Get(context.Context, string) (*domain.Session, error) {
	return nil, f.getErr
}
func (f *failingStore) Update(context.Context, *domain.Session) error { return f.updateErr }
func (f *failingStore) Delete(context.Context, string) error          { return f.deleteErr }

func newTestService(t *testing.T, llm LLMGateway, store SessionStore) *ConversationService {
	t.Helper()
	svc, err := NewConversationService(llm, store)
	require.NoError(t, err)
	return svc
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

// seedSession creates an in-progress session directly in the store, skipping
// the question-generation call.
func seedSession(t *testing.T, store SessionStore, id string, questions ...string) *domain.Session {
	t.Helper()
	sess := domain.NewSession(id, "Full Stack Web Specialist", "A todo app", questions)
	require.NoError(t, store.Create(context.Background(), sess))
	return sess
}

func TestNewConversationService_ValidatesDependencies(t *testing.T) {
	_, err := NewConversationService(nil, repository.NewMemoryStore(0, 0))
	require.Error(t, err)

	_, err = NewConversationService(&mockLLM{}, nil)
	require.Error(t, err)
}

func TestStart_HappyPath(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	llm := &mockLLM{responses: []llmResponse{{text: "What platform?\nWho are users?\n"}}}
	svc := newTestService(t, llm, store)

	out, err := svc.Start(context.Background(), StartInput{
		Specialist:   "Full Stack Web Specialist",
		Requirements: "A todo app",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.ConversationID)
	require.Equal(t, "What platform?", out.NextQuestion)
	require.Equal(t, 2, out.TotalQuestions)
	require.Equal(t, float32(0.8), llm.temperatures[0])

	sess, err := store.Get(context.Background(), out.ConversationID)
	require.NoError(t, err)
	require.Equal(t, []string{"What platform?", "Who are users?"}, sess.Questions)
	require.Equal(t, 0, sess.Cursor)
	require.Equal(t, domain.StatusInProgress, sess.Status)
	require.Len(t, sess.Transcript, 1)
	require.Equal(t, domain.EntryInitialRequirement, sess.Transcript[0].Kind)
}

func TestStart_ValidationErrors(t *testing.T) {
	svc := newTestService(t, &mockLLM{}, repository.NewMemoryStore(0, 0))

	_, err := svc.Start(context.Background(), StartInput{Specialist: "  ", Requirements: "A todo app"})
	expectError(t, err, ErrorInvalidInput, "empty_specialist")

	_, err = svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: " \n "})
	expectError(t, err, ErrorInvalidInput, "empty_requirements")
}

func TestStart_EmptyQuestionList(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	llm := &mockLLM{responses: []llmResponse{{text: "  \n\n  \n"}}}
	svc := newTestService(t, llm, store)

	_, err := svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: "A chatbot"})
	expectError(t, err, ErrorGeneration, "empty_question_list")
	require.Zero(t, store.Len(), "no orphaned session on generation failure")
}

func TestStart_LLMErrors(t *testing.T) {
	svc := newTestService(t, &mockLLM{responses: []llmResponse{{err: errors.New("provider down")}}}, repository.NewMemoryStore(0, 0))
	_, err := svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: "A chatbot"})
	expectError(t, err, ErrorGeneration, "question_generation_failed")

	svc = newTestService(t, &mockLLM{responses: []llmResponse{{err: &rateLimitedError{}}}}, repository.NewMemoryStore(0, 0))
	_, err = svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: "A chatbot"})
	expectError(t, err, ErrorRateLimited, "llm_rate_limited")

	svc = newTestService(t, &mockLLM{responses: []llmResponse{{err: context.DeadlineExceeded}}}, repository.NewMemoryStore(0, 0))
	_, err = svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: "A chatbot"})
	expectError(t, err, ErrorGeneration, "llm_timeout")
}

func TestStart_StoreError(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{{text: "Q1\nQ2"}}}
	svc := newTestService(t, llm, &failingStore{createErr: errors.New("write failed")})

	_, err := svc.Start(context.Background(), StartInput{Specialist: "AI/ML Specialist", Requirements: "A chatbot"})
	expectError(t, err, ErrorInternal, "session_create_error")
}

func TestSubmitAnswer_ProgressesToCompletion(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "What platform?", "Who are users?")
	llm := &mockLLM{responses: []llmResponse{{text: "1. INTRODUCTION\nThe document."}}}
	svc := newTestService(t, llm, store)

	out, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "Web"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, out.Status)
	require.Equal(t, "Who are users?", out.NextQuestion)
	require.Zero(t, llm.calls(), "no synthesis before the last answer")

	sess, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Cursor)
	require.Len(t, sess.Transcript, 3)

	out, err = svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "Students"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, out.Status)
	require.Equal(t, "1. INTRODUCTION\nThe document.", out.Document)
	require.Empty(t, out.NextQuestion)
	require.Equal(t, 1, llm.calls(), "completion triggers exactly one synthesis call")

	// The synthesis prompt carries all five transcript lines in order.
	prompt := llm.prompts[0]
	require.Contains(t, prompt, "A todo app")
	require.Contains(t, prompt, "Agent Question: What platform?")
	require.Contains(t, prompt, "User Answer: Web")
	require.Contains(t, prompt, "Agent Question: Who are users?")
	require.Contains(t, prompt, "User Answer: Students")
	require.Less(t, strings.Index(prompt, "User Answer: Web"), strings.Index(prompt, "Agent Question: Who are users?"))
	require.Equal(t, float32(0.7), llm.temperatures[0])

	sess, err = store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, sess.Status)
	require.Equal(t, 2, sess.Cursor)
	require.Len(t, sess.Transcript, 5)
}

func TestSubmitAnswer_CursorIsMonotonic(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1", "Q2", "Q3")
	svc := newTestService(t, &mockLLM{responses: []llmResponse{{text: "doc"}}}, store)

	for i := 1; i <= 3; i++ {
		_, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: fmt.Sprintf("answer %d", i)})
		require.NoError(t, err)
		sess, err := store.Get(context.Background(), "conv-1")
		require.NoError(t, err)
		require.Equal(t, i, sess.Cursor)
		require.Len(t, sess.Transcript, 1+2*i)
	}
}

func TestSubmitAnswer_UnknownConversation(t *testing.T) {
	svc := newTestService(t, &mockLLM{}, repository.NewMemoryStore(0, 0))
	_, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "missing", Answer: "hi"})
	expectError(t, err, ErrorNotFound, "unknown_conversation")
}

func TestSubmitAnswer_BlankAnswer_DoesNotMutateState(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1")
	svc := newTestService(t, &mockLLM{}, store)

	_, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "   "})
	expectError(t, err, ErrorInvalidInput, "empty_answer")

	sess, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 0, sess.Cursor)
	require.Len(t, sess.Transcript, 1)
}

func TestSubmitAnswer_CompletedSession(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	sess := seedSession(t, store, "conv-1", "Q1")
	sess.RecordAnswer("done")
	sess.Status = domain.StatusCompleted
	sess.Result = "doc"
	require.NoError(t, store.Update(context.Background(), sess))
	svc := newTestService(t, &mockLLM{}, store)

	_, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "again"})
	expectError(t, err, ErrorInvalidState, "conversation_completed")
}

func TestSubmitAnswer_SynthesisFailure_IsRetryableViaFinalize(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1")
	llm := &mockLLM{responses: []llmResponse{
		{err: errors.New("provider down")},
		{text: "# THE DOCUMENT"},
	}}
	svc := newTestService(t, llm, store)

	_, err := svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "yes"})
	expectError(t, err, ErrorGeneration, "synthesis_failed")

	// The answer was durably recorded; the question is not re-consumed.
	sess, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Cursor)
	require.Equal(t, domain.StatusInProgress, sess.Status)
	require.Len(t, sess.Transcript, 3)

	// A repeated submit cannot spend a nonexistent question.
	_, err = svc.SubmitAnswer(context.Background(), SubmitInput{ConversationID: "conv-1", Answer: "yes"})
	expectError(t, err, ErrorInvalidState, "awaiting_finalize")

	out, err := svc.Finalize(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, out.Status)
	require.Equal(t, "THE DOCUMENT", out.Document, "markdown artifacts stripped")

	sess, err = store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, sess.Status)
	require.Len(t, sess.Transcript, 3, "finalize does not touch the transcript")
}

func TestFinalize_QuestionsRemaining(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1", "Q2")
	svc := newTestService(t, &mockLLM{}, store)

	_, err := svc.Finalize(context.Background(), "conv-1")
	expectError(t, err, ErrorInvalidState, "questions_remaining")
}

func TestFinalize_AlreadyCompleted_ReturnsStoredDocument(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	sess := seedSession(t, store, "conv-1", "Q1")
	sess.RecordAnswer("done")
	sess.Status = domain.StatusCompleted
	sess.Result = "stored doc"
	require.NoError(t, store.Update(context.Background(), sess))
	llm := &mockLLM{}
	svc := newTestService(t, llm, store)

	out, err := svc.Finalize(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "stored doc", out.Document)
	require.Zero(t, llm.calls(), "no re-synthesis for a completed session")
}

func TestFinalize_UnknownConversation(t *testing.T) {
	svc := newTestService(t, &mockLLM{}, repository.NewMemoryStore(0, 0))
	_, err := svc.Finalize(context.Background(), "missing")
	expectError(t, err, ErrorNotFound, "unknown_conversation")
}

func TestStatus_InProgressSnapshot(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	sess := seedSession(t, store, "conv-1", "Q1", "Q2", "Q3")
	sess.RecordAnswer("first")
	require.NoError(t, store.Update(context.Background(), sess))
	svc := newTestService(t, &mockLLM{}, store)

	out, err := svc.Status(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "Full Stack Web Specialist", out.Specialist)
	require.Equal(t, 1, out.Answered)
	require.Equal(t, 3, out.TotalQuestions)
	require.Equal(t, domain.StatusInProgress, out.Status)
	require.Empty(t, out.Document)

	// Reading an in-progress session does not destroy it.
	_, err = store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
}

func TestStatus_CompletedSession_IsRemovedAfterRead(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	sess := seedSession(t, store, "conv-1", "Q1")
	sess.RecordAnswer("done")
	sess.Status = domain.StatusCompleted
	sess.Result = "the document"
	require.NoError(t, store.Update(context.Background(), sess))
	svc := newTestService(t, &mockLLM{}, store)

	out, err := svc.Status(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, out.Status)
	require.Equal(t, "the document", out.Document)

	_, err = svc.Status(context.Background(), "conv-1")
	expectError(t, err, ErrorNotFound, "unknown_conversation")
}

func TestCancel(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1")
	svc := newTestService(t, &mockLLM{}, store)

	require.NoError(t, svc.Cancel(context.Background(), "conv-1"))

	err := svc.Cancel(context.Background(), "conv-1")
	expectError(t, err, ErrorNotFound, "unknown_conversation")
}

func TestGenerateDocument_OneShot(t *testing.T) {
	llm := &mockLLM{responses: []llmResponse{{text: "## 1. INTRODUCTION\n*Scope*"}}}
	svc := newTestService(t, llm, repository.NewMemoryStore(0, 0))

	doc, err := svc.GenerateDocument(context.Background(), GenerateInput{
		Specialist:   "AI/ML Specialist",
		Requirements: "A recommender system",
	})
	require.NoError(t, err)
	require.Equal(t, "1. INTRODUCTION\nScope", doc)
	require.Contains(t, llm.prompts[0], "A recommender system")
	require.Contains(t, llm.prompts[0], "AI/ML Specialist")

	_, err = svc.GenerateDocument(context.Background(), GenerateInput{Specialist: "", Requirements: "x"})
	expectError(t, err, ErrorInvalidInput, "empty_specialist")
}

func TestSubmitAnswer_ConcurrentCallsAreSerialized(t *testing.T) {
	store := repository.NewMemoryStore(0, 0)
	seedSession(t, store, "conv-1", "Q1", "Q2", "Q3", "Q4", "Q5", "Q6", "Q7", "Q8", "Q9", "Q10")
	svc := newTestService(t, &mockLLM{responses: []llmResponse{{text: "doc"}}}, store)

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.SubmitAnswer(context.Background(), SubmitInput{
				ConversationID: "conv-1",
				Answer:         fmt.Sprintf("answer %d", n),
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	sess, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, 5, sess.Cursor, "each call advances the cursor exactly once")
	require.Len(t, sess.Transcript, 11)
}
