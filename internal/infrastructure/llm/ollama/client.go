// Package ollama adapts an Ollama-compatible generate endpoint as the
// report analyzer: the model is asked for strict JSON with a health score,
// general suggestions and a 14-day plan, and the response is validated
// before anything reaches the domain.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/healthscoreai/healthscore/internal/core/domain"
	"github.com/healthscoreai/healthscore/internal/infrastructure/resilience"
)

const maxPlanDays = 14

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout  time.Duration
	Executor *resilience.Executor
}

func New(baseURL, model string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.Executor,
	}
}

type Analyzer struct {
	client *Client
}

func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

func (a *Analyzer) Analyze(ctx context.Context, reportText string) (domain.Analysis, error) {
	raw, err := a.client.generateJSON(ctx, buildAnalysisPrompt(reportText))
	if err != nil {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysis, "analyze report", err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return domain.Analysis{}, domain.WrapError(domain.ErrAnalysis, "analyze report", err)
	}
	return analysis, nil
}

// analysisPayload mirrors the JSON schema the prompt demands.
type analysisPayload struct {
	HealthScore        *int `json:"healthScore"`
	GeneralSuggestions []struct {
		Suggestion string `json:"suggestion"`
	} `json:"generalSuggestions"`
	DailyPlan []struct {
		Day   *int   `json:"day"`
		Title string `json:"title"`
		Tasks []struct {
			Task string `json:"task"`
		} `json:"tasks"`
	} `json:"dailyPlan"`
}

// parseAnalysis validates the model output against the analyzer contract.
// Completion flags are always forced to false regardless of what the
// model emitted.
func parseAnalysis(raw string) (domain.Analysis, error) {
	var payload analysisPayload
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return domain.Analysis{}, fmt.Errorf("parse analysis json: %w", err)
	}

	if payload.HealthScore == nil {
		return domain.Analysis{}, errors.New("analysis missing healthScore")
	}
	score := *payload.HealthScore
	if score < 0 || score > 100 {
		return domain.Analysis{}, fmt.Errorf("health score %d outside [0,100]", score)
	}
	if payload.GeneralSuggestions == nil {
		return domain.Analysis{}, errors.New("analysis missing generalSuggestions")
	}
	if payload.DailyPlan == nil {
		return domain.Analysis{}, errors.New("analysis missing dailyPlan")
	}

	analysis := domain.Analysis{Score: score}
	for _, s := range payload.GeneralSuggestions {
		text := strings.TrimSpace(s.Suggestion)
		if text == "" {
			return domain.Analysis{}, errors.New("analysis contains blank suggestion")
		}
		analysis.Suggestions = append(analysis.Suggestions, domain.Suggestion{Text: text})
	}

	seenDays := make(map[int]bool, len(payload.DailyPlan))
	for _, day := range payload.DailyPlan {
		if day.Day == nil {
			return domain.Analysis{}, errors.New("daily plan entry missing day number")
		}
		n := *day.Day
		if n < 1 || n > maxPlanDays {
			return domain.Analysis{}, fmt.Errorf("day number %d outside [1,%d]", n, maxPlanDays)
		}
		if seenDays[n] {
			return domain.Analysis{}, fmt.Errorf("duplicate day number %d", n)
		}
		seenDays[n] = true

		plan := domain.DayPlan{Day: n, Title: strings.TrimSpace(day.Title)}
		for _, task := range day.Tasks {
			text := strings.TrimSpace(task.Task)
			if text == "" {
				return domain.Analysis{}, fmt.Errorf("day %d contains blank task", n)
			}
			plan.Tasks = append(plan.Tasks, domain.Task{Text: text})
		}
		analysis.DailyPlan = append(analysis.DailyPlan, plan)
	}

	return analysis, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Do(ctx, "ollama.generate", call, classifyAnalyzerError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate analysis", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
