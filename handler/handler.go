package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/Kartavya-AI/SRS-Generator/internal/usecase"
)

// maxAudioBytes bounds the decoded multipart audio payload.
const maxAudioBytes = 10 << 20

// ConversationUseCase is the orchestrator surface the handler depends on.
type ConversationUseCase interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	SubmitAnswer(ctx context.Context, in usecase.SubmitInput) (usecase.SubmitOutput, error)
	Finalize(ctx context.Context, conversationID string) (usecase.SubmitOutput, error)
	Status(ctx context.Context, conversationID string) (usecase.StatusOutput, error)
	Cancel(ctx context.Context, conversationID string) error
	GenerateDocument(ctx context.Context, in usecase.GenerateInput) (string, error)
}

// TranscribeUseCase is the transcription surface the handler depends on.
type TranscribeUseCase interface {
	Transcribe(ctx context.Context, in usecase.TranscribeInput) (string, error)
}

type Handler struct {
	conv ConversationUseCase
	tr   TranscribeUseCase
}

func NewHandler(conv ConversationUseCase, tr TranscribeUseCase) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation usecase must not be nil")
	}
	if tr == nil {
		return nil, errors.New("handler: transcribe usecase must not be nil")
	}
	return &Handler{conv: conv, tr: tr}, nil
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

type healthResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle routes one API Gateway proxy event to the matching usecase call.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := resolveCorrelationID(event.Headers)
	resp := h.route(ctx, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers["X-Correlation-Id"] = correlationID
	if resp.StatusCode >= 500 {
		slog.Error("request failed",
			"method", event.HTTPMethod,
			"path", event.Path,
			"status", resp.StatusCode,
			"correlation_id", correlationID,
		)
	}
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	path := strings.TrimRight(event.Path, "/")
	if path == "" {
		path = "/"
	}

	switch {
	case event.HTTPMethod == http.MethodGet && (path == "/" || path == "/health"):
		return jsonResponse(http.StatusOK, healthResponse{Message: "SRS Generator API is running"})
	case event.HTTPMethod == http.MethodPost && path == "/conversation/start":
		return h.handleStart(ctx, event.Body)
	case event.HTTPMethod == http.MethodPost && path == "/conversation/submit_answer":
		return h.handleSubmit(ctx, event.Body)
	case event.HTTPMethod == http.MethodPost && path == "/conversation/finalize":
		return h.handleFinalize(ctx, event.Body)
	case event.HTTPMethod == http.MethodGet && strings.HasPrefix(path, "/conversation/") && strings.HasSuffix(path, "/status"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/conversation/"), "/status")
		return h.handleStatus(ctx, id)
	case event.HTTPMethod == http.MethodDelete && strings.HasPrefix(path, "/conversation/"):
		return h.handleCancel(ctx, strings.TrimPrefix(path, "/conversation/"))
	case event.HTTPMethod == http.MethodPost && path == "/generate_srs":
		return h.handleGenerate(ctx, event.Body)
	case event.HTTPMethod == http.MethodPost && path == "/transcribe":
		return h.handleTranscribe(ctx, event)
	default:
		return errorJSON(http.StatusNotFound, string(usecase.ErrorNotFound), "no such route")
	}
}

func (h *Handler) handleStart(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req startRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body is not valid JSON")
	}
	out, err := h.conv.Start(ctx, usecase.StartInput{Specialist: req.Specialist, Requirements: req.Requirements})
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, startResponse{
		ConversationID: out.ConversationID,
		NextQuestion:   out.NextQuestion,
		TotalQuestions: out.TotalQuestions,
	})
}

func (h *Handler) handleSubmit(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req submitRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body is not valid JSON")
	}
	out, err := h.conv.SubmitAnswer(ctx, usecase.SubmitInput{ConversationID: req.ConversationID, Answer: req.Answer})
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, conversationResponse{
		Status:       string(out.Status),
		NextQuestion: out.NextQuestion,
		SRSDocument:  out.Document,
	})
}

func (h *Handler) handleFinalize(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req finalizeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body is not valid JSON")
	}
	out, err := h.conv.Finalize(ctx, req.ConversationID)
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, conversationResponse{
		Status:      string(out.Status),
		SRSDocument: out.Document,
	})
}

func (h *Handler) handleStatus(ctx context.Context, id string) events.APIGatewayProxyResponse {
	out, err := h.conv.Status(ctx, id)
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, statusResponse{
		ConversationID: out.ConversationID,
		Specialist:     out.Specialist,
		Answered:       out.Answered,
		TotalQuestions: out.TotalQuestions,
		Status:         string(out.Status),
		SRSDocument:    out.Document,
	})
}

func (h *Handler) handleCancel(ctx context.Context, id string) events.APIGatewayProxyResponse {
	if err := h.conv.Cancel(ctx, id); err != nil {
		return errorFromUseCase(err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

func (h *Handler) handleGenerate(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var req generateRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "request body is not valid JSON")
	}
	doc, err := h.conv.GenerateDocument(ctx, usecase.GenerateInput{Specialist: req.Specialist, Requirements: req.Requirements})
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, generateResponse{SRSDocument: doc})
}

func (h *Handler) handleTranscribe(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	audio, language, err := parseTranscribeForm(event)
	if err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), err.Error())
	}
	text, err := h.tr.Transcribe(ctx, usecase.TranscribeInput{Audio: audio, Language: language})
	if err != nil {
		return errorFromUseCase(err)
	}
	return jsonResponse(http.StatusOK, transcribeResponse{Transcription: text})
}

// parseTranscribeForm extracts the audio_file part and language field from a
// multipart proxy event. API Gateway delivers binary bodies base64-encoded.
func parseTranscribeForm(event events.APIGatewayProxyRequest) (audio []byte, language string, err error) {
	contentType := headerValue(event.Headers, "Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, "", errors.New("expected a multipart/form-data body")
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		body, err = base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, "", errors.New("body is not valid base64")
		}
	}

	reader := multipart.NewReader(strings.NewReader(string(body)), params["boundary"])
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", errors.New("malformed multipart body")
		}
		switch part.FormName() {
		case "audio_file":
			audio, err = io.ReadAll(io.LimitReader(part, maxAudioBytes))
			if err != nil {
				return nil, "", errors.New("could not read audio part")
			}
		case "language":
			raw, err := io.ReadAll(io.LimitReader(part, 64))
			if err != nil {
				return nil, "", errors.New("could not read language part")
			}
			language = strings.TrimSpace(string(raw))
		}
	}
	if len(audio) == 0 {
		return nil, "", errors.New("audio_file part is required")
	}
	return audio, language, nil
}

func errorFromUseCase(err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "unexpected error")
	}
	return errorJSON(statusForCode(ucErr.Code), string(ucErr.Code), ucErr.Reason)
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

func jsonResponse(status int, payload any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"INTERNAL_ERROR","message":"encode response"}`,
		}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}

func errorJSON(status int, code, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Message: message})
}

// headerValue looks up a header case-insensitively. API Gateway does not
// normalize header casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// resolveCorrelationID reuses the caller's correlation id when present,
// matching on the header name case-insensitively.
func resolveCorrelationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
