// Package aisvc talks to an OpenAI compatible chat completion API.
package aisvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/insight"
	"github.com/sayghamsari/daftarrabet/services/metrics"
)

var ErrNotConfigured = errors.New("the AI service is not configured")

type (
	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model          string            `json:"model"`
		Messages       []chatMessage     `json:"messages"`
		ResponseFormat map[string]string `json:"response_format"`
		Temperature    float64           `json:"temperature"`
	}

	chatResponse struct {
		Model   string `json:"model"`
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
)

// Completer sends a single chat completion request per call. There are no retries.
type Completer struct {
	client  *rest.Client
	baseURL string
	apiKey  string
	model   string
	metrics *metrics.Metrics
}

var _ insight.Completer = (*Completer)(nil)

func NewCompleter(conf core.AIConfig, m *metrics.Metrics) *Completer {
	return &Completer{
		client: &rest.Client{HTTPClient: &http.Client{
			Timeout:   conf.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}},
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		apiKey:  conf.APIKey,
		model:   conf.Model,
		metrics: m,
	}
}

func (c *Completer) Complete(ctx context.Context, system, prompt string) (completion insight.Completion, err error) {
	if c.apiKey == "" || c.baseURL == "" {
		return insight.Completion{}, ErrNotConfigured
	}

	start := time.Now()
	defer func() {
		c.metrics.ObserveAICompletion(c.model, err == nil, time.Since(start))
	}()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.3,
	})
	if err != nil {
		return insight.Completion{}, errors.Wrap(err, "encoding completion request")
	}

	res, err := c.client.SendWithContext(ctx, rest.Request{
		Method:  rest.Post,
		BaseURL: c.baseURL + "/chat/completions",
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return insight.Completion{}, errors.Wrap(err, "calling completion API")
	}

	var cr chatResponse
	decodeErr := json.Unmarshal([]byte(res.Body), &cr)
	if res.StatusCode >= http.StatusBadRequest {
		msg := res.Body
		if decodeErr == nil && cr.Error != nil {
			msg = cr.Error.Message
		}
		return insight.Completion{}, errors.Errorf("completion API - status: %d - %s", res.StatusCode, msg)
	}
	if decodeErr != nil {
		return insight.Completion{}, errors.Wrap(decodeErr, "decoding completion response")
	}
	if len(cr.Choices) == 0 {
		return insight.Completion{}, insight.ErrEmptyAnswer
	}

	model := cr.Model
	if model == "" {
		model = c.model
	}
	return insight.Completion{Content: cr.Choices[0].Message.Content, Model: model}, nil
}
