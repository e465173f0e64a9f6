package notifier

import (
	"strings"
	"testing"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

func TestEmailConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  EmailConfig
		wantErr bool
	}{
		{"empty", EmailConfig{}, true},
		{"missing from", EmailConfig{Host: "smtp.example.com", Port: 587, Recipients: []string{"ops@example.com"}}, true},
		{"missing recipients", EmailConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"}, true},
		{"valid", EmailConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com", Recipients: []string{"ops@example.com"}}, false},
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

func TestEmailTemplatesRender(t *testing.T) {
	provider, err := NewEmailProvider(EmailConfig{
		Host:       "smtp.example.com",
		Port:       587,
		From:       "AlertFlow <alerts@example.com>",
		Recipients: []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	data := emailData{
		ID:         "alrt-1",
		Title:      "High Error Rate",
		Message:    "error rate exceeded 50%",
		Severity:   "CRITICAL",
		Category:   "system_error",
		Status:     "new",
		Source:     "api-gateway",
		Time:       "2026-01-15 10:30:00 UTC",
		Color:      severityColor(models.SeverityCritical),
		HasML:      true,
		RiskScore:  0.93,
		Confidence: 0.88,
		ThreatType: "prompt_injection",
	}

	var plain, html strings.Builder
	if err := provider.plainTmpl.Execute(&plain, data); err != nil {
		t.Fatalf("render plain: %v", err)
	}
	if err := provider.htmlTmpl.Execute(&html, data); err != nil {
		t.Fatalf("render html: %v", err)
	}

	for _, want := range []string{"High Error Rate", "CRITICAL", "0.93", "prompt_injection", "alrt-1"} {
		if !strings.Contains(plain.String(), want) {
			t.Errorf("plain body missing %q", want)
		}
		if !strings.Contains(html.String(), want) {
			t.Errorf("html body missing %q", want)
		}
	}
}

func TestEmailBuildMIMEMessage(t *testing.T) {
	provider, err := NewEmailProvider(EmailConfig{
		Host:       "smtp.example.com",
		Port:       465,
		From:       "alerts@example.com",
		Recipients: []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	msg := string(provider.buildMIMEMessage("[CRITICAL] AlertFlow: test", []string{"a@example.com", "b@example.com"}, "plain body", "<p>html body</p>"))

	if !strings.Contains(msg, "To: a@example.com, b@example.com\r\n") {
		t.Error("missing To header")
	}
	if !strings.Contains(msg, "Subject: [CRITICAL] AlertFlow: test\r\n") {
		t.Error("missing Subject header")
	}
	if !strings.Contains(msg, "multipart/alternative") {
		t.Error("missing multipart content type")
	}
	if !strings.Contains(msg, "plain body") || !strings.Contains(msg, "<p>html body</p>") {
		t.Error("missing body parts")
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"alerts@example.com", "alerts@example.com"},
		{"AlertFlow <alerts@example.com>", "alerts@example.com"},
		{"<a@b.c>", "a@b.c"},
	}

	for _, tt := range tests {
		if got := extractEmail(tt.input); got != tt.want {
			t.Errorf("extractEmail(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSplitRecipients(t *testing.T) {
	got := splitRecipients("a@example.com, b@example.com ,,c@example.com")
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipient[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
