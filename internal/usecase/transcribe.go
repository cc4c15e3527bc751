package usecase

import (
	"context"
	"errors"
	"strings"
)

const defaultLanguage = "en-US"

// SpeechRecognizer turns audio bytes into text for a BCP-47-style language tag.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) (string, error)
}

// unintelligibleCoder marks recognizer errors caused by audio the service
// could not understand, as opposed to the service being unreachable.
type unintelligibleCoder interface {
	Unintelligible() bool
}

// TranscribeService wraps the external speech-recognition collaborator and
// reclassifies its failures into the usecase error taxonomy.
type TranscribeService struct {
	recognizer SpeechRecognizer
}

type TranscribeInput struct {
	Audio    []byte
	Language string
}

func NewTranscribeService(recognizer SpeechRecognizer) (*TranscribeService, error) {
	if recognizer == nil {
		return nil, errors.New("usecase: speech recognizer must not be nil")
	}
	return &TranscribeService{recognizer: recognizer}, nil
}

func (s *TranscribeService) Transcribe(ctx context.Context, in TranscribeInput) (string, error) {
	if len(in.Audio) == 0 {
		return "", newError(ErrorInvalidInput, "empty_audio", nil)
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = defaultLanguage
	}

	text, err := s.recognizer.Recognize(ctx, in.Audio, language)
	if err != nil {
		var uc unintelligibleCoder
		if errors.As(err, &uc) && uc.Unintelligible() {
			return "", newError(ErrorUnintelligibleAudio, "unintelligible_audio", err)
		}
		return "", newError(ErrorTranscriptionUnavailable, "speech_service_error", err)
	}
	return text, nil
}
