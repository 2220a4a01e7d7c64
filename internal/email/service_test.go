package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{
			name:   "fully configured",
			config: Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"},
			want:   true,
		},
		{
			name:   "missing host",
			config: Config{Port: "587", From: "noreply@example.com"},
			want:   false,
		},
		{
			name:   "missing port",
			config: Config{Host: "smtp.example.com", From: "noreply@example.com"},
			want:   false,
		},
		{
			name:   "missing from",
			config: Config{Host: "smtp.example.com", Port: "587"},
			want:   false,
		},
		{
			name:   "empty",
			config: Config{},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if got := svc.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSendFailsWhenNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"user@example.com"}, "subject", "<p>hi</p>"); err == nil {
		t.Fatal("expected error when not configured")
	}
}

func TestMentionTemplateRenders(t *testing.T) {
	data := MentionData{
		AppName:       "Proofdeck",
		MentionerName: "alice@example.com",
		ProjectName:   "Spring Campaign",
		FileName:      "banner-v2.png",
		CommentText:   "@bob please take a look at the gradient",
		CommentURL:    "https://app.example.com/files/abc?commentId=def",
	}

	html, err := renderTemplate(mentionEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}

	for _, want := range []string{
		data.MentionerName,
		data.ProjectName,
		data.FileName,
		data.CommentURL,
		"gradient",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered template missing %q", want)
		}
	}
}

func TestMentionTemplateEscapesHTML(t *testing.T) {
	data := MentionData{
		MentionerName: "alice",
		CommentText:   "<script>alert(1)</script>",
	}

	html, err := renderTemplate(mentionEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("comment text should be escaped")
	}
}
