package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"taskboard/internal/api"
	"taskboard/internal/auth"
	"taskboard/internal/logging"
	"taskboard/internal/repository"
)

// fakeProvider is an identity service that accepts one password.
type fakeProvider struct {
	mu        sync.Mutex
	password  string
	signInErr error
	signUps   []string
	confirmed []string
	signedOut bool
	attrs     map[string]string

	// restored is the token a remembered login resumes with.
	restored *oauth2.Token
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signUps = append(p.signUps, email)
	return nil
}

func (p *fakeProvider) ConfirmSignUp(ctx context.Context, email, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, email)
	return nil
}

func (p *fakeProvider) ResendCode(ctx context.Context, email string) error { return nil }

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	if password != p.password {
		return nil, auth.ErrBadCredentials
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)})
	return auth.NewSession("me", email, src), nil
}

func (p *fakeProvider) SignOut(ctx context.Context, s *auth.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signedOut = true
	return nil
}

func (p *fakeProvider) CurrentSession(ctx context.Context, token *oauth2.Token) (*auth.Session, error) {
	if p.restored == nil || token.RefreshToken == "" {
		return nil, auth.ErrNoSession
	}
	return auth.NewSession("me", "ada@example.com", oauth2.StaticTokenSource(p.restored)), nil
}

func (p *fakeProvider) Attributes(ctx context.Context, s *auth.Session) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.attrs))
	for k, v := range p.attrs {
		out[k] = v
	}
	return out, nil
}

func (p *fakeProvider) UpdateAttributes(ctx context.Context, s *auth.Session, attrs map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range attrs {
		p.attrs[k] = v
	}
	return nil
}

func (p *fakeProvider) ChangePassword(ctx context.Context, s *auth.Session, current, next string) error {
	return nil
}

func (p *fakeProvider) ForgotPassword(ctx context.Context, email string) error { return nil }

func (p *fakeProvider) ConfirmForgotPassword(ctx context.Context, email, code, password string) error {
	return nil
}

func (p *fakeProvider) DeleteAccount(ctx context.Context, s *auth.Session) error { return nil }

func newAccountBot(provider *fakeProvider, backend *fakeBackend) (*Bot, *fakeSender) {
	out := &fakeSender{}
	b := newBot(out, Deps{
		Cache:    &memCache{entries: map[string]string{}},
		Auth:     provider,
		Backends: func(*auth.Session) Backend { return backend },
		Logger:   logging.Discard(),
		Location: time.UTC,
	})
	return b, out
}

func TestSignUpValidatesBeforeCalling(t *testing.T) {
	provider := &fakeProvider{attrs: map[string]string{}}
	b, out := newAccountBot(provider, newFakeBackend())
	ctx := context.Background()

	require.NoError(t, b.handleMessage(ctx, textMessage("/signup not-an-email Secret1!")))
	assert.True(t, out.anyText("email format is invalid"))

	require.NoError(t, b.handleMessage(ctx, textMessage("/signup ada@example.com short")))
	assert.True(t, out.anyText("at least 8 characters"))
	assert.Empty(t, provider.signUps)

	var deleted int
	for _, r := range out.requests {
		if _, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted++
		}
	}
	assert.Equal(t, 2, deleted, "messages with passwords are removed")

	require.NoError(t, b.handleMessage(ctx, textMessage("/signup ada@example.com Secret1!")))
	assert.Equal(t, []string{"ada@example.com"}, provider.signUps)

	require.NoError(t, b.handleMessage(ctx, textMessage("/confirm 123456")))
	assert.Equal(t, []string{"ada@example.com"}, provider.confirmed)
}

func TestLoginLoadsBoardAndLogoutClears(t *testing.T) {
	provider := &fakeProvider{password: "Secret1!", attrs: map[string]string{
		auth.AttributeCategories: `{"custom_1":{"name":"Garden","color":"green"}}`,
	}}
	backend := newFakeBackend()
	backend.own = []api.TaskRecord{{TaskID: "1", Title: "water plants", Category: "custom_1"}}
	b, out := newAccountBot(provider, backend)
	ctx := context.Background()

	require.NoError(t, b.handleMessage(ctx, textMessage("/login ada@example.com wrong")))
	assert.True(t, out.anyText("Incorrect email or password"))
	assert.Nil(t, b.session(testChat))

	require.NoError(t, b.handleMessage(ctx, textMessage("/login ada@example.com Secret1! remember")))
	s := b.session(testChat)
	require.NotNil(t, s)
	s.Close()
	assert.True(t, out.anyText("Signed in as ada@example.com"))
	assert.True(t, out.anyText("Water plants"))
	assert.True(t, s.Categories.Known("custom_1"))

	require.NoError(t, b.handleMessage(ctx, textMessage("/logout")))
	assert.Nil(t, b.session(testChat))
	assert.True(t, provider.signedOut)
	assert.False(t, s.Categories.Known("custom_1"), "sign-out drops custom categories")
}

func TestLoginUnconfirmedKeepsEmailForConfirm(t *testing.T) {
	provider := &fakeProvider{signInErr: &auth.Error{Kind: auth.ErrUnconfirmed, Code: "UserNotConfirmedException"}, attrs: map[string]string{}}
	b, out := newAccountBot(provider, newFakeBackend())
	ctx := context.Background()

	require.NoError(t, b.handleMessage(ctx, textMessage("/login ada@example.com Secret1!")))
	assert.True(t, out.anyText("not confirmed"))

	require.NoError(t, b.handleMessage(ctx, textMessage("/confirm 654321")))
	assert.Equal(t, []string{"ada@example.com"}, provider.confirmed)
}

func TestRestoreSessionStoresRotatedRefreshToken(t *testing.T) {
	db, err := repository.NewDB(":memory:")
	require.NoError(t, err)
	users, err := repository.NewUserRepository(db, repository.WithTokenKey("hunter2"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = users.UpsertFromTelegram(ctx, testChat, "Ada", "", "ada")
	require.NoError(t, err)
	require.NoError(t, users.SaveLogin(ctx, testChat, "ada@example.com", true, "refresh-old", time.Time{}))

	provider := &fakeProvider{attrs: map[string]string{}, restored: &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh-new",
		Expiry:       time.Now().Add(time.Hour),
	}}
	b := newBot(&fakeSender{}, Deps{
		Users:    users,
		Cache:    &memCache{entries: map[string]string{}},
		Auth:     provider,
		Backends: func(*auth.Session) Backend { return newFakeBackend() },
		Logger:   logging.Discard(),
		Location: time.UTC,
	})

	require.NoError(t, b.RestoreSessions(ctx))
	s := b.session(testChat)
	require.NotNil(t, s)
	s.Close()

	u, err := users.FindByTelegramID(ctx, testChat)
	require.NoError(t, err)
	assert.True(t, u.RememberLogin)
	assert.Equal(t, "refresh-new", u.RefreshToken)
}
