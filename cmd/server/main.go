package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/viper"

	"github.com/Kartavya-AI/SRS-Generator/internal/httpserver"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/llm"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/paramstore"
	"github.com/Kartavya-AI/SRS-Generator/internal/integrations/speech"
	"github.com/Kartavya-AI/SRS-Generator/internal/repository"
	"github.com/Kartavya-AI/SRS-Generator/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v := viper.New()
	v.SetEnvPrefix("SRS")
	v.AutomaticEnv()
	v.SetConfigName("srs")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("max_sessions", 100)
	v.SetDefault("session_floor", 50)
	v.SetDefault("llm_timeout_seconds", 60)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", "err", err)
			os.Exit(1)
		}
	}

	store, ssmClient, err := buildStore(ctx, v)
	if err != nil {
		slog.Error("failed to create session store", "err", err)
		os.Exit(1)
	}

	llmClient, err := buildLLMClient(v, ssmClient)
	if err != nil {
		slog.Error("failed to create LLM client", "err", err)
		os.Exit(1)
	}

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

	srv, err := httpserver.New(convService, trService, v.GetString("listen_addr"))
	if err != nil {
		slog.Error("failed to create server", "err", err)
		os.Exit(1)
	}

	slog.Info("server listening", "addr", v.GetString("listen_addr"))
	if err := srv.Start(ctx); err != nil {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// buildStore selects DynamoDB when state_table is configured, otherwise the
// bounded in-memory store. The SSM client is only created when AWS is in play
// or a parameter prefix is configured.
func buildStore(ctx context.Context, v *viper.Viper) (usecase.SessionStore, paramstore.Getter, error) {
	stateTable := v.GetString("state_table")
	paramPrefix := v.GetString("param_prefix")

	var ssmClient paramstore.Getter
	if stateTable != "" || paramPrefix != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		ssmClient, err = paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		if stateTable != "" {
			store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(cfg), stateTable)
			if err != nil {
				return nil, nil, err
			}
			return store, ssmClient, nil
		}
	}
	return repository.NewMemoryStore(v.GetInt("max_sessions"), v.GetInt("session_floor")), ssmClient, nil
}

func buildLLMClient(v *viper.Viper, ssmClient paramstore.Getter) (*llm.Client, error) {
	opts := []llm.Option{
		llm.WithTimeout(time.Duration(v.GetInt("llm_timeout_seconds")) * time.Second),
	}
	if baseURL := v.GetString("llm_base_url"); baseURL != "" {
		opts = append(opts, llm.WithBaseURL(baseURL))
	}
	if model := v.GetString("llm_model"); model != "" {
		opts = append(opts, llm.WithModel(model))
	}
	if key := v.GetString("llm_api_key"); key != "" {
		opts = append(opts, llm.WithAPIKey(key))
	}
	return llm.NewClient(ssmClient, v.GetString("param_prefix"), opts...)
}
