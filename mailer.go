package account

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultMailWorkers   = 2
	DefaultMailQueueSize = 64
	DefaultMailTimeout   = 30 * time.Second
)

// ErrMailQueueClosed is returned by AsyncMailer after Close
var ErrMailQueueClosed = goerrors.New("mail queue is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeMailDeliveryFault)

// ErrMailQueueFull is returned when the dispatch queue has no room
var ErrMailQueueFull = goerrors.New("mail queue is full", goerrors.CategoryOperation).
	WithTextCode(TextCodeMailDeliveryFault)

// MailConfig carries the client links embedded in outgoing mail
type MailConfig struct {
	Host                    string
	AccountVerificationPath string
	ForgotPasswordPath      string
}

// VerificationURL builds the account activation link
func (c MailConfig) VerificationURL(code, token string) string {
	q := url.Values{}
	q.Set("c", code)
	q.Set("t", token)
	return joinLink(c.Host, c.AccountVerificationPath) + "?" + q.Encode()
}

// ForgotPasswordURL builds the password renewal link
func (c MailConfig) ForgotPasswordURL(code, token string) string {
	q := url.Values{}
	q.Set("code", code)
	if token != "" {
		q.Set("t", token)
	}
	return joinLink(c.Host, c.ForgotPasswordPath) + "?" + q.Encode()
}

func joinLink(host, path string) string {
	if host == "" {
		return path
	}
	if path == "" {
		return host
	}
	return strings.TrimRight(host, "/") + "/" + strings.TrimLeft(path, "/")
}

// AccountMailer composes verification and reset messages
type AccountMailer struct {
	config    MailConfig
	templates *MailTemplates
	sender    MailSender
}

// NewAccountMailer composes messages with templates and hands them to sender
func NewAccountMailer(config MailConfig, templates *MailTemplates, sender MailSender) (*AccountMailer, error) {
	if sender == nil {
		return nil, goerrors.New("mail sender is required", goerrors.CategoryInternal)
	}

	if templates == nil {
		var err error
		if templates, err = NewMailTemplates("", ""); err != nil {
			return nil, err
		}
	}

	return &AccountMailer{
		config:    config,
		templates: templates,
		sender:    sender,
	}, nil
}

// SendVerification mails the activation link for a registration
func (m *AccountMailer) SendVerification(ctx context.Context, user *User, code, token string) error {
	html, err := m.templates.renderVerification(user.Name, m.config.VerificationURL(code, token))
	if err != nil {
		return err
	}

	return m.sender.SendMail(ctx, Mail{
		To:      user.Email,
		Subject: SubjectAccountVerification,
		HTML:    html,
	})
}

// SendForgotPassword mails the password renewal link
func (m *AccountMailer) SendForgotPassword(ctx context.Context, user *User, code, token string) error {
	html, err := m.templates.renderForgotPassword(user.Name, m.config.ForgotPasswordURL(code, token))
	if err != nil {
		return err
	}

	return m.sender.SendMail(ctx, Mail{
		To:      user.Email,
		Subject: SubjectForgotPassword,
		HTML:    html,
	})
}

// AsyncMailerOption customizes the async dispatcher
type AsyncMailerOption func(*AsyncMailer)

// WithMailWorkers sets the worker pool size
func WithMailWorkers(n int) AsyncMailerOption {
	return func(m *AsyncMailer) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMailQueueSize sets how many messages may wait for a worker
func WithMailQueueSize(n int) AsyncMailerOption {
	return func(m *AsyncMailer) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMailTimeout bounds each delivery attempt
func WithMailTimeout(d time.Duration) AsyncMailerOption {
	return func(m *AsyncMailer) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMailLogger sets the logger used for delivery failures
func WithMailLogger(logger Logger) AsyncMailerOption {
	return func(m *AsyncMailer) {
		m.logger = normalizeLogger(logger)
	}
}

// WithMailActivitySink reports delivery failures as activity events
func WithMailActivitySink(sink ActivitySink) AsyncMailerOption {
	return func(m *AsyncMailer) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

type mailJob struct {
	ctx  context.Context
	mail Mail
}

// AsyncMailer is a MailSender that queues messages for a bounded pool of
// workers. SendMail returns once the message is queued. Failures after
// that point go to the logger and the activity sink.
type AsyncMailer struct {
	sender       MailSender
	workers      int
	queueSize    int
	timeout      time.Duration
	logger       Logger
	activitySink ActivitySink

	queue  chan mailJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAsyncMailer starts the worker pool
func NewAsyncMailer(sender MailSender, opts ...AsyncMailerOption) *AsyncMailer {
	m := &AsyncMailer{
		sender:       sender,
		workers:      DefaultMailWorkers,
		queueSize:    DefaultMailQueueSize,
		timeout:      DefaultMailTimeout,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.queue = make(chan mailJob, m.queueSize)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work()
	}

	return m
}

// SendMail implements MailSender. The request context is detached so the
// delivery outlives the caller.
func (m *AsyncMailer) SendMail(ctx context.Context, mail Mail) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrMailQueueClosed
	}

	job := mailJob{ctx: context.WithoutCancel(ctx), mail: mail}

	select {
	case m.queue <- job:
		return nil
	default:
		return ErrMailQueueFull
	}
}

// Close stops accepting mail and waits for queued messages
func (m *AsyncMailer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *AsyncMailer) work() {
	defer m.wg.Done()
	for job := range m.queue {
		m.deliver(job)
	}
}

func (m *AsyncMailer) deliver(job mailJob) {
	ctx, cancel := context.WithTimeout(job.ctx, m.timeout)
	defer cancel()

	if err := m.sender.SendMail(ctx, job.mail); err != nil {
		m.report(job, err)
	}
}

func (m *AsyncMailer) report(job mailJob, err error) {
	m.logger.Error("mail delivery to %s failed subject=%q: %v", job.mail.To, job.mail.Subject, err)

	event := ActivityEvent{
		EventType: ActivityEventMailDeliveryFailed,
		Actor:     ActorRef{Type: "system"},
		Metadata: map[string]any{
			"to":      job.mail.To,
			"subject": job.mail.Subject,
			"error":   ErrorMessage(err),
		},
		OccurredAt: time.Now(),
	}

	if sinkErr := m.activitySink.Record(job.ctx, event); sinkErr != nil {
		m.logger.Warn("mail activity sink error: %v", sinkErr)
	}
}
