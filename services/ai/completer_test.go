package aisvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/insight"
	"github.com/sayghamsari/daftarrabet/services/metrics"
)

func TestComplete(t *testing.T) {
	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-2024","choices":[{"message":{"role":"assistant","content":"{\"insight\":\"خوب\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewCompleter(core.AIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o", Timeout: 5 * time.Second}, metrics.New())
	completion, err := c.Complete(context.Background(), "system text", "prompt text")

	assert.NoError(t, err)
	assert.Equal(t, insight.Completion{Content: `{"insight":"خوب"}`, Model: "gpt-4o-2024"}, completion)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, map[string]string{"type": "json_object"}, got.ResponseFormat)
	if assert.Len(t, got.Messages, 2) {
		assert.Equal(t, chatMessage{Role: "system", Content: "system text"}, got.Messages[0])
		assert.Equal(t, chatMessage{Role: "user", Content: "prompt text"}, got.Messages[1])
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"error":{"message":"invalid api key"}}`, wantErr: "completion API - status: 401 - invalid api key"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: insight.ErrEmptyAnswer.Error()},
		{name: "bad json", status: http.StatusOK, body: `not json`, wantErr: "decoding completion response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewCompleter(core.AIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}, nil)
			_, err := c.Complete(context.Background(), "s", "p")
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	_, err := NewCompleter(core.AIConfig{BaseURL: "http://localhost"}, nil).Complete(context.Background(), "s", "p")
	assert.Equal(t, ErrNotConfigured, err)
}
