package account

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SMTPSecurityNone     = "none"
	SMTPSecuritySTARTTLS = "starttls"
	SMTPSecuritySSL      = "ssl"
)

// SMTPConfig configures SMTPSender
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Security string
	HelloAs  string
	Timeout  time.Duration
}

// Addr returns host:port
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SMTPSender delivers mail over SMTP
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates the minimum configuration
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, goerrors.New("smtp host, port and from are required", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidInput)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMailTimeout
	}

	if cfg.HelloAs == "" {
		cfg.HelloAs = "localhost"
	}

	cfg.Security = strings.ToLower(cfg.Security)
	if cfg.Security == "" {
		cfg.Security = SMTPSecuritySTARTTLS
	}

	return &SMTPSender{cfg: cfg}, nil
}

// SendMail implements MailSender
func (s *SMTPSender) SendMail(ctx context.Context, mail Mail) error {
	msg := s.compose(mail)

	client, err := s.dial(ctx)
	if err != nil {
		return deliveryError(err, "failed to connect to smtp server", mail)
	}
	defer client.Close()

	if err := s.transmit(client, mail.To, msg); err != nil {
		return deliveryError(err, "failed to deliver mail", mail)
	}

	return nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}

	var (
		conn net.Conn
		err  error
	)

	if s.cfg.Security == SMTPSecuritySSL {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: s.cfg.Host},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", s.cfg.Addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	}
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := client.Hello(s.cfg.HelloAs); err != nil {
		client.Close()
		return nil, err
	}

	if s.cfg.Security == SMTPSecuritySTARTTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			client.Close()
			return nil, err
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, err
		}
	}

	return client, nil
}

func (s *SMTPSender) transmit(client *smtp.Client, to string, msg []byte) error {
	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(msg); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

func (s *SMTPSender) compose(mail Mail) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.cfg.FromName), s.cfg.From)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + mail.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", mail.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(mail.HTML)

	return []byte(b.String())
}

func deliveryError(err error, message string, mail Mail) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, message).
		WithTextCode(TextCodeMailDeliveryFault).
		WithMetadata(map[string]any{
			"to":      mail.To,
			"subject": mail.Subject,
		})
}

// LogMailSender writes messages to a Logger instead of delivering them
type LogMailSender struct {
	Logger Logger
}

// SendMail implements MailSender
func (s LogMailSender) SendMail(_ context.Context, mail Mail) error {
	normalizeLogger(s.Logger).Info("mail to=%s subject=%q\n%s", mail.To, mail.Subject, mail.HTML)
	return nil
}
