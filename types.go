package account

import (
	"context"
	"fmt"
	"log/slog"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// MailSender delivers a composed message. Implementations may block on I/O.
type MailSender interface {
	SendMail(ctx context.Context, mail Mail) error
}

// Mail is the outbound message handed to a MailSender
type Mail struct {
	To      string
	Subject string
	HTML    string
}

// EmailLocker serializes work keyed by an email address.
// The returned release func must always be called.
type EmailLocker interface {
	Lock(ctx context.Context, email string) (release func(), err error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ACCOUNT "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ACCOUNT "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ACCOUNT "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ACCOUNT "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// SlogLogger adapts a *slog.Logger to Logger. Messages are formatted
// before being handed to slog.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l, falling back to slog.Default when nil
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{logger: l}
}

func (s *SlogLogger) Debug(format string, args ...any) {
	s.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Info(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Warn(format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Error(format string, args ...any) {
	s.logger.Error(fmt.Sprintf(format, args...))
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
