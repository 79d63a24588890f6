package account_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"sync"
	"testing"

	"github.com/goliatone/go-account"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// fastHasher keeps argon2id but with parameters cheap enough for tests
func fastHasher() account.PasswordHasher {
	return account.NewArgon2Hasher(account.Argon2Params{
		Time:    1,
		Memory:  1024,
		Threads: 1,
		KeyLen:  32,
	})
}

func newTestTokens(t *testing.T, opts ...account.TokenServiceOption) *account.TokenServiceImpl {
	t.Helper()
	tokens, err := account.NewTokenService(account.TokenConfig{
		SigningKey: []byte(testSigningKey),
		Issuer:     "go-account-test",
	}, opts...)
	require.NoError(t, err)
	return tokens
}

// MockUsers implements account.Users
type MockUsers struct {
	mock.Mock
}

func (m *MockUsers) GetAll(ctx context.Context) ([]*account.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*account.User), args.Error(1)
}

func (m *MockUsers) GetByID(ctx context.Context, id string) (*account.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.User), args.Error(1)
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*account.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.User), args.Error(1)
}

func (m *MockUsers) Create(ctx context.Context, user *account.User) (*account.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.User), args.Error(1)
}

func (m *MockUsers) Update(ctx context.Context, user *account.User, columns ...string) (*account.User, error) {
	args := m.Called(ctx, user, columns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.User), args.Error(1)
}

func (m *MockUsers) ConsumeCode(ctx context.Context, user *account.User, guard account.CodeGuard, columns ...string) (bool, error) {
	args := m.Called(ctx, user, guard, columns)
	return args.Bool(0), args.Error(1)
}

// MockTokenService implements account.TokenService
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Create(claims account.AccountClaims) (string, error) {
	args := m.Called(claims)
	return args.String(0), args.Error(1)
}

func (m *MockTokenService) Decode(token string) (*account.AccountClaims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.AccountClaims), args.Error(1)
}

// MockMailSender implements account.MailSender
type MockMailSender struct {
	mock.Mock
}

func (m *MockMailSender) SendMail(ctx context.Context, mail account.Mail) error {
	args := m.Called(ctx, mail)
	return args.Error(0)
}

// memoryUsers is an in-memory Users that stores copies, so callers only
// observe what was persisted.
type memoryUsers struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]account.User
	calls  map[string]int
	failOn map[string]error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byID:   map[uuid.UUID]account.User{},
		calls:  map[string]int{},
		failOn: map[string]error{},
	}
}

func (m *memoryUsers) record(op string) error {
	m.calls[op]++
	return m.failOn[op]
}

func (m *memoryUsers) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memoryUsers) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *memoryUsers) GetAll(_ context.Context) ([]*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetAll"); err != nil {
		return nil, err
	}

	out := make([]*account.User, 0, len(m.byID))
	for _, u := range m.byID {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetByID"); err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, account.ErrUserNotFound
	}
	u, ok := m.byID[uid]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	return &u, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetByEmail"); err != nil {
		return nil, err
	}

	if u, ok := m.findEmail(email); ok {
		return &u, nil
	}
	return nil, account.ErrUserNotFound
}

func (m *memoryUsers) Create(_ context.Context, user *account.User) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Create"); err != nil {
		return nil, err
	}

	if _, ok := m.findEmail(user.Email); ok {
		return nil, account.ErrEmailInUse
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	m.byID[user.ID] = *user
	return user, nil
}

func (m *memoryUsers) Update(_ context.Context, user *account.User, columns ...string) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Update"); err != nil {
		return nil, err
	}

	stored, ok := m.byID[user.ID]
	if !ok {
		return nil, account.ErrUserNotFound
	}
	m.byID[user.ID] = copyColumns(stored, *user, columns)
	return user, nil
}

func (m *memoryUsers) ConsumeCode(_ context.Context, user *account.User, guard account.CodeGuard, columns ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ConsumeCode"); err != nil {
		return false, err
	}

	stored, ok := m.byID[user.ID]
	if !ok {
		return false, account.ErrUserNotFound
	}
	if guard.Code == "" || stored.VerificationCode == nil || *stored.VerificationCode != guard.Code {
		return false, nil
	}
	if guard.State != "" && stored.State != guard.State {
		return false, nil
	}
	m.byID[user.ID] = copyColumns(stored, *user, columns)
	return true, nil
}

// copyColumns mirrors the column scoped writes of the bun repository
func copyColumns(dst, src account.User, columns []string) account.User {
	if len(columns) == 0 {
		columns = []string{
			account.ColumnName,
			account.ColumnPasswordHash,
			account.ColumnState,
			account.ColumnVerificationCode,
			account.ColumnLastLoginAt,
		}
	}
	dst.UpdatedAt = src.UpdatedAt
	for _, column := range columns {
		switch column {
		case account.ColumnName:
			dst.Name = src.Name
		case account.ColumnPasswordHash:
			dst.PasswordHash = src.PasswordHash
		case account.ColumnState:
			dst.State = src.State
		case account.ColumnVerificationCode:
			dst.VerificationCode = src.VerificationCode
		case account.ColumnLastLoginAt:
			dst.LastLoginAt = src.LastLoginAt
		}
	}
	return dst
}

// Stored returns the persisted copy for email
func (m *memoryUsers) Stored(email string) (account.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findEmail(email)
}

func (m *memoryUsers) findEmail(email string) (account.User, bool) {
	email = account.NormalizeEmail(email)
	for _, u := range m.byID {
		if u.Email == email {
			return u, true
		}
	}
	return account.User{}, false
}

// mailbox is a MailSender that keeps every message
type mailbox struct {
	mu    sync.Mutex
	mails []account.Mail
	err   error
}

func (b *mailbox) SendMail(_ context.Context, mail account.Mail) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.mails = append(b.mails, mail)
	return nil
}

func (b *mailbox) Mails() []account.Mail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]account.Mail(nil), b.mails...)
}

func (b *mailbox) Last(t *testing.T) account.Mail {
	t.Helper()
	mails := b.Mails()
	require.NotEmpty(t, mails, "expected at least one mail")
	return mails[len(mails)-1]
}

var (
	linkTokenPattern = regexp.MustCompile(`[?;&]t=([A-Za-z0-9._-]+)`)
	linkCodePattern  = regexp.MustCompile(`[?;&]c(?:ode)?=([0-9a-f]+)`)
)

// linkParams pulls the code and token out of a rendered mail link
func linkParams(t *testing.T, mail account.Mail) (code, token string) {
	t.Helper()

	tm := linkTokenPattern.FindStringSubmatch(mail.HTML)
	require.Len(t, tm, 2, "no token in mail: %s", mail.HTML)

	cm := linkCodePattern.FindStringSubmatch(mail.HTML)
	require.Len(t, cm, 2, "no code in mail: %s", mail.HTML)

	return cm[1], tm[1]
}

// activityRecorder is an ActivitySink that keeps every event
type activityRecorder struct {
	mu     sync.Mutex
	events []account.ActivityEvent
	err    error
}

func (r *activityRecorder) Record(_ context.Context, event account.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *activityRecorder) Types() []account.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]account.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *activityRecorder) Events() []account.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]account.ActivityEvent(nil), r.events...)
}

type baseContext = router.Context

// fakeContext is the request surface the controller handlers and the
// session middleware use. Other router.Context methods panic.
type fakeContext struct {
	baseContext

	ctx     context.Context
	body    []byte
	params  map[string]string
	headers map[string]string
	locals  map[any]any

	status  int
	payload []byte
}

func newFakeContext(body string, params map[string]string) *fakeContext {
	return &fakeContext{
		ctx:     context.Background(),
		body:    []byte(body),
		params:  params,
		headers: map[string]string{},
		locals:  map[any]any{},
	}
}

func (f *fakeContext) Context() context.Context {
	return f.ctx
}

func (f *fakeContext) SetContext(ctx context.Context) {
	f.ctx = ctx
}

func (f *fakeContext) Header(key string) string {
	return f.headers[key]
}

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

func (f *fakeContext) Bind(v any) error {
	if len(f.body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(f.body, v)
}

func (f *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := f.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) JSON(code int, val any) error {
	f.status = code
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.payload = raw
	return nil
}

func (f *fakeContext) Response(t *testing.T) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(f.payload, &out))
	return out
}
