package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Kartavya-AI/SRS-Generator/internal/usecase"
)

const maxAudioBytes = 10 << 20

// ConversationUseCase is the orchestrator surface the server depends on.
type ConversationUseCase interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	SubmitAnswer(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Finalize(ctx context.Context, conversationID string) (usecase.SubmitOutput, error)
	Status(ctx context.Context, conversationID string) (usecase.StatusOutput, error)
	Cancel(ctx context.Context, conversationID string) error
	GenerateDocument(ctx context.Context, in usecase.GenerateInput) (string, error)
}

// TranscribeUseCase is the transcription surface the server depends on.
type TranscribeUseCase interface {
	Transcribe(ctx context.Context, in usecase.TranscribeInput) (string, error)
}

// Server is the standalone HTTP shell around the conversation logic, for
// local and container deployments. The Lambda handler is the other shell.
type Server struct {
	echo *echo.Echo
	addr string
}

func New(conv ConversationUseCase, tr TranscribeUseCase, addr string) (*Server, error) {
	if conv == nil {
		return nil, errors.New("httpserver: conversation usecase must not be nil")
	}
	if tr == nil {
		return nil, errors.New("httpserver: transcribe usecase must not be nil")
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	registerRoutes(e, conv, tr)

	return &Server{echo: e, addr: addr}, nil
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func registerRoutes(e *echo.Echo, conv ConversationUseCase, tr TranscribeUseCase) {
	h := &routes{conv: conv, tr: tr}
	e.GET("/", h.health)
	e.GET("/health", h.health)
	e.POST("/conversation/start", h.start)
	e.POST("/conversation/submit_answer", h.submit)
	e.POST("/conversation/finalize", h.finalize)
	e.GET("/conversation/:id/status", h.status)
	e.DELETE("/conversation/:id", h.cancel)
	e.POST("/generate_srs", h.generate)
	e.POST("/transcribe", h.transcribe)
}

type routes struct {
	conv ConversationUseCase
	tr   TranscribeUseCase
}

type startRequest struct {
	Specialist   string `json:"specialist"`
	Requirements string `json:"requirements"`
}

type startResponse struct {
	ConversationID string `json:"conversation_id"`
	NextQuestion   string `json:"next_question"`
	TotalQuestions int    `json:"total_questions"`
}

type submitRequest struct {
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
}

type finalizeRequest struct {
	ConversationID string `json:"conversation_id"`
}

type conversationResponse struct {
	Status       string `json:"status"`
	NextQuestion string `json:"next_question,omitempty"`
	SRSDocument  string `json:"srs_document,omitempty"`
}

type statusResponse struct {
	ConversationID string `json:"conversation_id"`
	Specialist     string `json:"specialist"`
	Answered       int    `json:"answered"`
	TotalQuestions int    `json:"total_questions"`
	Status         string `json:"status"`
	SRSDocument    string `json:"srs_document,omitempty"`
}

type generateRequest struct {
	Specialist   string `json:"specialist"`
	Requirements string `json:"requirements"`
}

type generateResponse struct {
	SRSDocument string `json:"srs_document"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r *routes) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "SRS Generator API is running"})
}

func (r *routes) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "request body is not valid JSON")
	}
	out, err := r.conv.Start(c.Request().Context(), usecase.StartInput{
		Specialist:   req.Specialist,
		Requirements: req.Requirements,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, startResponse{
		ConversationID: out.ConversationID,
		NextQuestion:   out.NextQuestion,
		TotalQuestions: out.TotalQuestions,
	})
}

func (r *routes) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "request body is not valid JSON")
	}
	out, err := r.conv.SubmitAnswer(c.Request().Context(), usecase.SubmitInput{
		ConversationID: req.ConversationID,
		Answer:         req.Answer,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, conversationResponse{
		Status:       string(out.Status),
		NextQuestion: out.NextQuestion,
		SRSDocument:  out.Document,
	})
}

func (r *routes) finalize(c echo.Context) error {
	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "request body is not valid JSON")
	}
	out, err := r.conv.Finalize(c.Request().Context(), req.ConversationID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, conversationResponse{
		Status:      string(out.Status),
		SRSDocument: out.Document,
	})
}

func (r *routes) status(c echo.Context) error {
	out, err := r.conv.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, statusResponse{
		ConversationID: out.ConversationID,
		Specialist:     out.Specialist,
		Answered:       out.Answered,
		TotalQuestions: out.TotalQuestions,
		Status:         string(out.Status),
		SRSDocument:    out.Document,
	})
}

func (r *routes) cancel(c echo.Context) error {
	if err := r.conv.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (r *routes) generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "request body is not valid JSON")
	}
	doc, err := r.conv.GenerateDocument(c.Request().Context(), usecase.GenerateInput{
		Specialist:   req.Specialist,
		Requirements: req.Requirements,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, generateResponse{SRSDocument: doc})
}

func (r *routes) transcribe(c echo.Context) error {
	file, err := c.FormFile("audio_file")
	if err != nil {
		return badRequest(c, "audio_file part is required")
	}
	src, err := file.Open()
	if err != nil {
		return badRequest(c, "could not open audio part")
	}
	defer func() { _ = src.Close() }()

	audio, err := io.ReadAll(io.LimitReader(src, maxAudioBytes))
	if err != nil {
		return badRequest(c, "could not read audio part")
	}

	text, err := r.tr.Transcribe(c.Request().Context(), usecase.TranscribeInput{
		Audio:    audio,
		Language: c.FormValue("language"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, transcribeResponse{Transcription: text})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Message: message,
	})
}

func writeError(c echo.Context, err error) error {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		slog.Error("unexpected error", "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: "unexpected error",
		})
	}
	status := statusForCode(ucErr.Code)
	if status >= 500 {
		slog.Error("request failed", "path", c.Path(), "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return c.JSON(status, errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnintelligibleAudio:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorInvalidState:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorGeneration:
		return http.StatusBadGateway
	case usecase.ErrorTranscriptionUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
