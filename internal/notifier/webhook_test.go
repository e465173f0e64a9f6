package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  WebhookConfig
		wantErr bool
	}{
		{"empty url", WebhookConfig{}, true},
		{"bad scheme", WebhookConfig{URL: "ftp://example.com"}, true},
		{"bad method", WebhookConfig{URL: "https://example.com", Method: "DELETE"}, true},
		{"valid http", WebhookConfig{URL: "http://example.com/hook"}, false},
		{"valid with method", WebhookConfig{URL: "https://example.com/hook", Method: http.MethodPut}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWebhookProviderSend(t *testing.T) {
	var envelope webhookEnvelope

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("X-Api-Key = %q, want %q", got, "secret")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &envelope); err != nil {
			t.Errorf("failed to unmarshal envelope: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider, err := NewWebhookProvider(WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	provider.httpClient = server.Client()

	if err := provider.Send(context.Background(), testAlert(), ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if envelope.Event != "alert.triggered" {
		t.Errorf("event = %q, want %q", envelope.Event, "alert.triggered")
	}
	if envelope.Alert == nil || envelope.Alert.ID != "alrt-1" {
		t.Errorf("alert not carried in envelope: %+v", envelope.Alert)
	}
}

func TestWebhookProviderExpectedStatusCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	// 204 accepted only when listed
	provider, err := NewWebhookProvider(WebhookConfig{
		URL:                 server.URL,
		ExpectedStatusCodes: []int{http.StatusOK},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	provider.httpClient = server.Client()

	if err := provider.Send(context.Background(), testAlert(), ""); err == nil {
		t.Error("expected error for unlisted status code")
	}

	provider.config.ExpectedStatusCodes = []int{http.StatusNoContent}
	if err := provider.Send(context.Background(), testAlert(), ""); err != nil {
		t.Errorf("Send failed for listed status: %v", err)
	}
}

func TestWebhookProviderRecipientOverride(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider, err := NewWebhookProvider(WebhookConfig{URL: "https://unused.invalid/hook"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	provider.httpClient = server.Client()

	if err := provider.Send(context.Background(), testAlert(), server.URL); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !hit {
		t.Error("recipient URL was not used")
	}
}
