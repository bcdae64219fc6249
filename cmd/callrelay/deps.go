package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/adapters"
	"github.com/satriahrh/callrelay/adapters/gormstore"
	"github.com/satriahrh/callrelay/adapters/llm"
	"github.com/satriahrh/callrelay/adapters/mongo"
	"github.com/satriahrh/callrelay/domain/repositories"
	"github.com/satriahrh/callrelay/internal/config"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStorage connects the configured journal and transcript backend
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (repositories.Storage, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return adapters.NewMemoryStore(), nil

	case config.StorageMongo:
		client, err := mongo.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := mongo.NewStore(ctx, client, logger)
		if err != nil {
			client.Close(ctx)
			return nil, err
		}
		return store, nil

	case config.StorageSQLite:
		return gormstore.Open("sqlite", cfg.SQLitePath)

	case config.StorageMySQL:
		return gormstore.Open("mysql", cfg.MySQLDSN)
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

// newLanguageModel creates the configured model adapter
func newLanguageModel(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch cfg.Provider {
	case config.LLMGemini:
		return llm.NewGeminiLLM(ctx, llm.GeminiConfig{
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TimeoutSeconds:  cfg.TimeoutSeconds,
			BaseURL:         cfg.BaseURL,
		}, logger)

	case config.LLMScripted:
		logger.Warn("Using the scripted language model")
		return llm.NewScriptedLLM(), nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}
