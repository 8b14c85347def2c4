package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
)

// EmailSender delivers a single email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds connection settings for an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends email through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// EmailCall records a single email sent through the mock sender.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender records emails instead of sending them.
type MockEmailSender struct {
	mu    sync.Mutex
	Calls []EmailCall
	// Err, when set, is returned from every SendEmail call.
	Err error
}

func NewMockEmailSender() *MockEmailSender {
	return &MockEmailSender{}
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Calls = append(m.Calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockEmailSender) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// TemplateEngine renders notification templates with {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// Template is a named subject/body pair with placeholder substitution.
type Template struct {
	Name    string
	Subject string
	Body    string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.Register(Template{
		Name:    "unread-message",
		Subject: "New message from {{sender_name}}",
		Body: "You have an unread message from {{sender_name}} waiting in your inbox.\n" +
			"Sign in to read and reply.\n",
	})
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Name] = t
}

// Render substitutes the given values into the named template. Message
// content is never passed through templates, only metadata such as the
// sender's display name.
func (e *TemplateEngine) Render(name string, values map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", name)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range values {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
