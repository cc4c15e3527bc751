package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/Kartavya-AI/SRS-Generator/handler"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/llm"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/paramstore"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/speech"
	"github.com/Kartavya-AI/SRS-Generator/internal/repository"
	"github.com/Kartavya-AI/SRS-Generator/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := os.Getenv("STATE_TABLE") // empty selects the in-memory store
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxSessions := envInt("MAX_SESSIONS", 100)
	sessionFloor := envInt("SESSION_FLOOR", 50)
	llmTimeout := envInt("LLM_TIMEOUT_SECONDS", 60)
	llmBaseURL := os.Getenv("LLM_BASE_URL")

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	var store usecase.SessionStore
	if stateTable != "" {
		store, err = repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), stateTable)
		if err != nil {
			slog.Error("failed to create session store", "err", err)
			os.Exit(1)
		}
	} else {
		store = repository.NewMemoryStore(maxSessions, sessionFloor)
	}

	llmOpts := []llm.Option{llm.WithTimeout(time.Duration(llmTimeout) * time.Second)}
	if llmBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(llmBaseURL))
	}
	llmClient, err := llm.NewClient(ssmClient, paramPrefix, llmOpts...)
	if err != nil {
		slog.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}

	// ---- Services ----
	convService, err := usecase.NewConversationService(llmClient, store)
	if err != nil {
		slog.Error("failed to create conversation service", "err", err)
		os.Exit(1)
	}
	trService, err := usecase.NewTranscribeService(speech.NewClient())
	if err != nil {
		slog.Error("failed to create transcribe service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(convService, trService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
