package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderConfirmationCodeTemplate(t *testing.T) {
	data := ConfirmationCodeData{
		AppName:       "PolicyHub",
		PolicyTitle:   "Remote Work Policy",
		PortalName:    "Employee Handbook",
		Code:          "482913",
		ExpiryMinutes: 10,
	}

	html, err := renderTemplate(confirmationCodeTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "PolicyHub") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Remote Work Policy") {
		t.Error("template should contain policy title")
	}
	if !strings.Contains(html, "482913") {
		t.Error("template should contain the code")
	}
	if !strings.Contains(html, "10 minutes") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderReminderTemplate(t *testing.T) {
	data := ReminderData{
		AppName:     "PolicyHub",
		PortalName:  "Employee Handbook",
		PortalURL:   "https://policies.example.com/portal/acme/employee-handbook",
		PolicyCount: 3,
	}

	html, err := renderTemplate(reminderTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Employee Handbook") {
		t.Error("template should contain portal name")
	}
	if !strings.Contains(html, "https://policies.example.com/portal/acme/employee-handbook") {
		t.Error("template should contain portal URL")
	}
}
