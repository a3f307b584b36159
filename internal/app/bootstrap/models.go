package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/llm"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// BuildModelClient wires the language-model backend used for triage and
// report narratives. Each client carries its own model id; requests
// leave Model empty. Provider "none" returns a nil client, which sends every
// intake to the keyword fallback.
func BuildModelClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	provider := cfg.Model.Provider
	if cfg.Model.UseLocal {
		provider = "local"
	}
	if provider == "none" {
		logger.Warn("no language model configured; triage runs on keyword fallback")
		return nil, nil
	}

	primary, err := buildProvider(ctx, provider, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	fallbackName := cfg.Model.FallbackProvider
	if fallbackName == "" || fallbackName == provider {
		logger.Info("language model configured", "provider", provider)
		return primary, nil
	}

	fallback, err := buildProvider(ctx, fallbackName, cfg, awsCfg)
	if err != nil {
		logger.Warn("fallback model unavailable; continuing with primary only", "provider", fallbackName, "error", err)
		return primary, nil
	}
	logger.Info("language model configured", "provider", provider, "fallback", fallbackName)
	return llm.NewFallbackClient(primary, fallback, logger), nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg aws.Config) (llm.Client, error) {
	switch name {
	case "local", "":
		return llm.NewLocalClient(cfg.Model.LocalEndpoint, cfg.Model.ModelName, llm.WithAPIKey(cfg.Model.APIKey)), nil
	case "bedrock":
		modelID := strings.TrimSpace(cfg.Model.BedrockModelID)
		if modelID == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for bedrock")
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), modelID), nil
	case "gemini":
		if strings.TrimSpace(cfg.Model.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("bootstrap: GEMINI_API_KEY is required for gemini")
		}
		client, err := llm.NewGeminiClient(ctx, cfg.Model.GeminiAPIKey, cfg.Model.ModelName)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}
