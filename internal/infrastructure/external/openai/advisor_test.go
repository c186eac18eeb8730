package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	})
	return string(body)
}

func newTestAdvisor(t *testing.T, handler http.HandlerFunc) *Advisor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdvisor(AdvisorConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"}, nil, zap.NewNop())
}

func sampleRequest() *port.AdvisoryRequest {
	return &port.AdvisoryRequest{Items: []port.AdvisoryItem{
		{Index: 0, InvoiceID: "inv-1", Category: "missing_vat_id", Severity: "critical", PenaltyRisk: "300.00"},
	}}
}

func TestAdvisor_Advise(t *testing.T) {
	var gotBody map[string]interface{}
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{"items":[{"index":0,"confidence_multiplier":1.3,"insight":"Cross-border B2B without VAT id is a frequent audit target."}]}`)))
	})

	resp, err := a.Advise(context.Background(), sampleRequest())

	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 1.3, resp.Items[0].ConfidenceMultiplier)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])

	messages := gotBody["messages"].([]interface{})
	user := messages[1].(map[string]interface{})["content"].(string)
	assert.Contains(t, user, "inv-1")
	assert.Contains(t, user, "Review these 1 VAT")
}

func TestAdvisor_ExtractsFencedJSON(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse("```json\n{\"items\":[{\"index\":0,\"confidence_multiplier\":1,\"insight\":\"ok {braces}\"}]}\n```")))
	})

	resp, err := a.Advise(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, "ok {braces}", resp.Items[0].Insight)
}

func TestAdvisor_RejectsUnknownFields(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{"items":[{"index":0,"confidence_multiplier":1,"insight":"x","severity":"low"}]}`)))
	})

	_, err := a.Advise(context.Background(), sampleRequest())
	assert.Error(t, err)
}

func TestAdvisor_RejectsMissingItems(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatResponse(`{}`)))
	})

	_, err := a.Advise(context.Background(), sampleRequest())
	assert.Error(t, err)
}

func TestAdvisor_RateLimitMapped(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})

	_, err := a.Advise(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, port.ErrAdvisoryRateLimited))
}

func TestAdvisor_ServerErrorNotRateLimited(t *testing.T) {
	a := newTestAdvisor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := a.Advise(context.Background(), sampleRequest())

	require.Error(t, err)
	assert.False(t, errors.Is(err, port.ErrAdvisoryRateLimited))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{"brace in string", `x {"a":"}"} y`, `{"a":"}"}`},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`},
		{"none", "no json here", ""},
		{"unterminated", `{"a":1`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.content))
		})
	}
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("advisory:\n  temperature: 0.5\n  system: custom system\n"), 0o644))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), p.Advisory.Temperature)
	assert.Equal(t, "custom system", p.Advisory.System)
	assert.True(t, strings.Contains(p.Advisory.UserTemplate, "{{.ItemsJSON}}"), "unset keys keep defaults")

	require.NoError(t, os.WriteFile(path, []byte("advisory:\n  user_template: \"{{.Broken\"\n"), 0o644))
	_, err = LoadPrompts(path)
	assert.Error(t, err)

	_, err = LoadPrompts(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
