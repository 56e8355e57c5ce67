package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marginops/dealguard/internal/domain"
)

const systemPrompt = "You are a pricing governance analyst for a B2B sales organization. " +
	"You assess discount requests for risk and recommend discount levels. " +
	"Always respond with ONLY a valid JSON object, no markdown and no prose."

// buildRiskPrompt asks the model for a risk assessment of one request.
func buildRiskPrompt(ec *domain.EvaluationContext) string {
	var b strings.Builder

	b.WriteString("Assess the risk of this discount request.\n\n")
	writeContext(&b, ec)

	b.WriteString(`
Respond with this exact JSON structure:
{
  "score": number between 0 and 100 (higher = riskier),
  "level": "low" | "medium" | "high" | "very_high",
  "factors": [string array of the main risk drivers],
  "confidence": number between 0.0 and 1.0
}`)
	return b.String()
}

// buildRecommendPrompt asks the model for a suggested discount.
func buildRecommendPrompt(ec *domain.EvaluationContext) string {
	var b strings.Builder

	b.WriteString("Recommend a discount percentage for this request that balances win probability against margin.\n\n")
	writeContext(&b, ec)

	b.WriteString(`
Respond with this exact JSON structure:
{
  "discountPct": number between 0 and 100,
  "marginPct": expected margin percentage after the recommended discount,
  "confidence": number between 0.0 and 1.0,
  "explanation": string
}`)
	return b.String()
}

// buildExplainPrompt asks the model to explain a decision to a salesperson.
func buildExplainPrompt(req *domain.ExplanationRequest) string {
	var b strings.Builder

	b.WriteString("Explain this discount decision to the salesperson who submitted it.\n\n")

	if req.Request != nil {
		fmt.Fprintf(&b, "Requested discount: %.1f%%\n", req.Request.RequestedDiscountPct)
		fmt.Fprintf(&b, "Deal value: %.2f\n", req.Request.TotalValue())
	}
	if req.Assessment != nil {
		fmt.Fprintf(&b, "Risk score: %.1f (%s)\n", req.Assessment.Score, req.Assessment.Level)
		for _, factor := range req.Assessment.Factors {
			fmt.Fprintf(&b, "Risk factor: %s\n", factor)
		}
	}
	if req.Evaluation != nil {
		fmt.Fprintf(&b, "Auto-approved: %t\n", req.Evaluation.CanAutoApprove)
		for _, detail := range req.Evaluation.RejectionDetails {
			fmt.Fprintf(&b, "Failed condition: %s\n", detail)
		}
	}

	b.WriteString(`
Respond with this exact JSON structure:
{
  "summary": one-sentence summary of the decision,
  "details": [string array explaining each contributing factor],
  "recommendations": [string array of concrete suggestions for the salesperson]
}`)
	return b.String()
}

func writeContext(b *strings.Builder, ec *domain.EvaluationContext) {
	req := ec.Request

	fmt.Fprintf(b, "Requested discount: %.1f%%\n", req.RequestedDiscountPct)
	fmt.Fprintf(b, "Deal value: %.2f across %d item(s)\n", req.TotalValue(), len(req.Items))
	if req.EstimatedMarginPct != nil {
		fmt.Fprintf(b, "Estimated margin after discount: %.1f%%\n", *req.EstimatedMarginPct)
	} else {
		b.WriteString("Estimated margin: unknown\n")
	}
	if req.Justification != "" {
		fmt.Fprintf(b, "Justification: %s\n", req.Justification)
	}

	if ec.Customer != nil {
		fmt.Fprintf(b, "Customer status: %s, segment: %s\n", ec.Customer.Status, ec.Customer.Segment)
	}
	if h := ec.CustomerHistory; !h.IsEmpty() {
		data, _ := json.Marshal(h)
		fmt.Fprintf(b, "Customer discount history: %s\n", data)
	} else {
		b.WriteString("Customer discount history: none\n")
	}
	if h := ec.SalespersonHistory; !h.IsEmpty() {
		data, _ := json.Marshal(h)
		fmt.Fprintf(b, "Salesperson history: %s\n", data)
	}
}

// extractJSON pulls the first balanced JSON object out of a model response.
// Models occasionally wrap JSON in markdown fences despite instructions.
func extractJSON(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1], true
				}
			}
		}
	}
	return "", false
}
