package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/oauth2"

	"taskboard/internal/auth"
	"taskboard/internal/service"
)

const (
	cbAccountDelete = "acct:delete"
	cbAccountKeep   = "acct:keep"
)

// RestoreSessions drops session-only logins left over from a previous run
// and signs remembered chats back in with their stored refresh token.
func (b *Bot) RestoreSessions(ctx context.Context) error {
	if b.deps.Users == nil {
		return nil
	}
	if n, err := b.deps.Users.ExpireSessionLogins(ctx); err != nil {
		return err
	} else if n > 0 {
		b.log.Info("expired session-only logins", "count", n)
	}

	users, err := b.deps.Users.ListRemembered(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		token := &oauth2.Token{RefreshToken: u.RefreshToken}
		as, err := b.deps.Auth.CurrentSession(ctx, token)
		if err != nil {
			b.log.Warn("restore session", "chat", u.TelegramID, "email", u.Email, "error", err)
			if clearErr := b.deps.Users.ClearLogin(ctx, u.TelegramID); clearErr != nil {
				b.log.Error("clear stale login", "chat", u.TelegramID, "error", clearErr)
			}
			continue
		}
		b.keepRefreshToken(u.TelegramID, as, u.RefreshToken)
		// The restore itself may have rotated the token.
		if _, err := as.Token(); err != nil {
			b.log.Warn("restore session token", "chat", u.TelegramID, "error", err)
		}
		if err := b.openSession(ctx, u.TelegramID, as); err != nil {
			b.log.Warn("restore session load", "chat", u.TelegramID, "error", err)
		}
		b.log.Info("session restored", "chat", u.TelegramID, "email", as.Email)
	}
	return nil
}

// keepRefreshToken writes every rotated refresh token of a remembered login
// back to the user row.
func (b *Bot) keepRefreshToken(telegramID int64, as *auth.Session, known string) {
	as.WatchRefresh(known, func(tok *oauth2.Token) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		u, err := b.deps.Users.FindByTelegramID(ctx, telegramID)
		if err != nil {
			b.log.Error("find user for token rotation", "chat", telegramID, "error", err)
			return
		}
		if !u.RememberLogin || u.RefreshToken == tok.RefreshToken {
			return
		}
		if err := b.deps.Users.UpdateRefreshToken(ctx, telegramID, tok.RefreshToken, tok.Expiry); err != nil {
			b.log.Error("store rotated refresh token", "chat", telegramID, "error", err)
			return
		}
		b.log.Debug("refresh token rotated", "chat", telegramID, "email", as.Email)
	})
}

// openSession binds a signed-in account to the chat and loads its board.
func (b *Bot) openSession(ctx context.Context, chatID int64, as *auth.Session) error {
	backend := b.deps.Backends(as)
	workers := 0
	if b.deps.Config != nil {
		workers = b.deps.Config.ShareWorkers
	}
	s := service.NewSession(service.SessionDeps{
		UserID:  as.UserID,
		Email:   as.Email,
		Tasks:   backend,
		Shares:  backend,
		Cache:   b.deps.Cache,
		Attrs:   auth.BindAttributes(b.deps.Auth, as),
		Workers: workers,
		Logger:  b.log,
	})
	s.SetListener(b.listener(chatID))

	c := b.chatState(chatID)
	b.mu.Lock()
	previous := c.session
	c.auth = as
	c.session = s
	c.listMsg = 0
	c.listView = nil
	b.mu.Unlock()
	if previous != nil {
		previous.SetListener(nil)
	}

	return s.Start(ctx)
}

func (b *Bot) closeSession(chatID int64) (*auth.Session, *service.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		return nil, nil
	}
	as, s := c.auth, c.session
	c.auth, c.session, c.conv = nil, nil, nil
	c.listMsg, c.listView, c.shareView = 0, nil, nil
	return as, s
}

func (b *Bot) handleSignUp(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	b.deleteMessage(msg.Chat.ID, msg.MessageID)
	if len(args) != 2 {
		return b.sendText(msg.Chat.ID, "Usage: /signup &lt;email&gt; &lt;password&gt;")
	}
	email, password := args[0], args[1]
	if !service.ValidEmail(email) {
		return b.sendText(msg.Chat.ID, "The email format is invalid.")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return b.sendText(msg.Chat.ID, passwordHint(err))
	}
	if err := b.deps.Auth.SignUp(ctx, email, password); err != nil {
		b.log.Warn("sign up", "email", email, "error", err)
		return b.sendText(msg.Chat.ID, "Sign-up failed: "+escape(auth.UserMessage(err)))
	}
	c := b.chatState(msg.Chat.ID)
	b.mu.Lock()
	c.email = email
	b.mu.Unlock()
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📧 A confirmation code was sent to %s. Send /confirm &lt;code&gt;.", escape(email)))
}

func (b *Bot) pendingEmail(chatID int64, args []string, at int) string {
	if len(args) > at {
		return args[at]
	}
	c := b.chatState(chatID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.email
}

func (b *Bot) handleConfirm(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) == 0 {
		return b.sendText(msg.Chat.ID, "Usage: /confirm &lt;code&gt; [email]")
	}
	email := b.pendingEmail(msg.Chat.ID, args, 1)
	if email == "" {
		return b.sendText(msg.Chat.ID, "Which account? Usage: /confirm &lt;code&gt; &lt;email&gt;")
	}
	if err := b.deps.Auth.ConfirmSignUp(ctx, email, args[0]); err != nil {
		b.log.Warn("confirm sign up", "email", email, "error", err)
		return b.sendText(msg.Chat.ID, "Confirmation failed: "+escape(auth.UserMessage(err)))
	}
	return b.sendText(msg.Chat.ID, "✅ Account confirmed. Sign in with /login &lt;email&gt; &lt;password&gt; [remember]")
}

func (b *Bot) handleResend(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	email := b.pendingEmail(msg.Chat.ID, args, 0)
	if email == "" {
		return b.sendText(msg.Chat.ID, "Usage: /resend &lt;email&gt;")
	}
	if err := b.deps.Auth.ResendCode(ctx, email); err != nil {
		b.log.Warn("resend code", "email", email, "error", err)
		return b.sendText(msg.Chat.ID, "Could not resend the code: "+escape(auth.UserMessage(err)))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📧 A new code was sent to %s.", escape(email)))
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	b.deleteMessage(msg.Chat.ID, msg.MessageID)
	if len(args) < 2 || len(args) > 3 {
		return b.sendText(msg.Chat.ID, "Usage: /login &lt;email&gt; &lt;password&gt; [remember]")
	}
	remember := len(args) == 3 && strings.EqualFold(args[2], "remember")

	as, err := b.deps.Auth.SignIn(ctx, args[0], args[1])
	if err != nil {
		b.log.Warn("sign in", "email", args[0], "error", err)
		text := "Sign-in failed: " + escape(auth.UserMessage(err))
		if errors.Is(err, auth.ErrUnconfirmed) {
			c := b.chatState(msg.Chat.ID)
			b.mu.Lock()
			c.email = args[0]
			b.mu.Unlock()
			text += "\nSend /confirm &lt;code&gt; or /resend."
		}
		return b.sendText(msg.Chat.ID, text)
	}

	if b.deps.Users != nil {
		var refresh string
		var expiry time.Time
		if tok, err := as.Token(); err == nil {
			refresh, expiry = tok.RefreshToken, tok.Expiry
		}
		if err := b.deps.Users.SaveLogin(ctx, msg.From.ID, as.Email, remember, refresh, expiry); err != nil {
			b.log.Error("save login", "chat", msg.Chat.ID, "error", err)
		} else if remember {
			b.keepRefreshToken(msg.From.ID, as, refresh)
		}
	}

	b.log.Info("signed in", "chat", msg.Chat.ID, "email", as.Email, "remember", remember)
	if err := b.sendText(msg.Chat.ID, fmt.Sprintf("🔓 Signed in as %s.", escape(as.Email))); err != nil {
		return err
	}
	if err := b.openSession(ctx, msg.Chat.ID, as); err != nil {
		return b.sendText(msg.Chat.ID, "Could not load your tasks: "+escape(service.Reason(err)))
	}
	return b.sendTaskList(msg.Chat.ID, b.session(msg.Chat.ID))
}

func (b *Bot) handleLogout(ctx context.Context, msg *tgbotapi.Message) error {
	as, s := b.closeSession(msg.Chat.ID)
	if as == nil {
		return b.sendText(msg.Chat.ID, "You are not signed in.")
	}
	b.endSession(ctx, msg.From.ID, as, s, true)
	return b.sendText(msg.Chat.ID, "🔒 Signed out.")
}

// endSession tears down a closed session: remote sign-out, local category
// cache and the stored login.
func (b *Bot) endSession(ctx context.Context, userID int64, as *auth.Session, s *service.Session, signOut bool) {
	if s != nil {
		s.SetListener(nil)
		s.Close()
		if err := s.Categories.Reset(ctx); err != nil {
			b.log.Warn("reset categories", "email", as.Email, "error", err)
		}
	}
	if signOut {
		if err := b.deps.Auth.SignOut(ctx, as); err != nil {
			b.log.Warn("sign out", "email", as.Email, "error", err)
		}
	}
	if b.deps.Users != nil {
		if err := b.deps.Users.ClearLogin(ctx, userID); err != nil {
			b.log.Error("clear login", "chat", userID, "error", err)
		}
	}
}

func (b *Bot) handleChangePassword(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	b.deleteMessage(msg.Chat.ID, msg.MessageID)
	if len(args) != 3 {
		return b.sendText(msg.Chat.ID, "Usage: /passwd &lt;current&gt; &lt;new&gt; &lt;new again&gt;")
	}
	as := b.authSession(msg.Chat.ID)
	if as == nil {
		return b.sendText(msg.Chat.ID, "You are not signed in.")
	}
	if err := auth.ValidatePasswordChange(args[0], args[1], args[2]); err != nil {
		return b.sendText(msg.Chat.ID, passwordHint(err))
	}
	if err := b.deps.Auth.ChangePassword(ctx, as, args[0], args[1]); err != nil {
		b.log.Warn("change password", "email", as.Email, "error", err)
		if errors.Is(err, auth.ErrBadCredentials) {
			return b.sendText(msg.Chat.ID, "The current password is incorrect.")
		}
		return b.sendText(msg.Chat.ID, "Could not change the password: "+escape(auth.UserMessage(err)))
	}
	return b.sendText(msg.Chat.ID, "🔑 Password changed.")
}

func (b *Bot) handleForgot(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return b.sendText(msg.Chat.ID, "Usage: /forgot &lt;email&gt;")
	}
	if err := b.deps.Auth.ForgotPassword(ctx, args[0]); err != nil {
		b.log.Warn("forgot password", "email", args[0], "error", err)
		return b.sendText(msg.Chat.ID, "Could not start the reset: "+escape(auth.UserMessage(err)))
	}
	c := b.chatState(msg.Chat.ID)
	b.mu.Lock()
	c.email = args[0]
	b.mu.Unlock()
	return b.sendText(msg.Chat.ID, "📧 A reset code was sent. Send /reset &lt;code&gt; &lt;new&gt; &lt;new again&gt;")
}

func (b *Bot) handleReset(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	b.deleteMessage(msg.Chat.ID, msg.MessageID)
	if len(args) != 3 {
		return b.sendText(msg.Chat.ID, "Usage: /reset &lt;code&gt; &lt;new&gt; &lt;new again&gt;")
	}
	email := b.pendingEmail(msg.Chat.ID, nil, 0)
	if email == "" {
		return b.sendText(msg.Chat.ID, "Start with /forgot &lt;email&gt;.")
	}
	if err := auth.ValidatePasswordChange("", args[1], args[2]); err != nil {
		return b.sendText(msg.Chat.ID, passwordHint(err))
	}
	if err := b.deps.Auth.ConfirmForgotPassword(ctx, email, args[0], args[1]); err != nil {
		b.log.Warn("confirm reset", "email", email, "error", err)
		return b.sendText(msg.Chat.ID, "Reset failed: "+escape(auth.UserMessage(err)))
	}
	return b.sendText(msg.Chat.ID, "🔑 Password reset. Sign in with /login.")
}

func (b *Bot) handleDeleteAccount(ctx context.Context, msg *tgbotapi.Message) error {
	if b.authSession(msg.Chat.ID) == nil {
		return b.sendText(msg.Chat.ID, "You are not signed in.")
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete my account", cbAccountDelete),
		tgbotapi.NewInlineKeyboardButtonData("↩️ Keep it", cbAccountKeep),
	))
	return b.sendWithReplyMarkup(msg.Chat.ID, "⚠️ This permanently deletes your account and all of its tasks. Continue?", markup)
}

func (b *Bot) confirmDeleteAccount(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	chatID := cb.Message.Chat.ID
	as := b.authSession(chatID)
	if as == nil {
		return b.sendText(chatID, "You are not signed in.")
	}
	if err := b.deps.Auth.DeleteAccount(ctx, as); err != nil {
		b.log.Error("delete account", "email", as.Email, "error", err)
		return b.sendText(chatID, "Could not delete the account: "+escape(auth.UserMessage(err)))
	}
	_, s := b.closeSession(chatID)
	b.endSession(ctx, cb.From.ID, as, s, false)
	b.log.Info("account deleted", "chat", chatID, "email", as.Email)
	return b.sendText(chatID, "Your account was deleted.")
}

func (b *Bot) authSession(chatID int64) *auth.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c.auth
	}
	return nil
}

func passwordHint(err error) string {
	switch {
	case errors.Is(err, auth.ErrEmptyPassword):
		return "Enter a password."
	case errors.Is(err, auth.ErrPasswordTooShort):
		return fmt.Sprintf("The password needs at least %d characters.", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrPasswordNoUpper):
		return "The password needs an uppercase letter."
	case errors.Is(err, auth.ErrPasswordNoLower):
		return "The password needs a lowercase letter."
	case errors.Is(err, auth.ErrPasswordNoDigit):
		return "The password needs a digit."
	case errors.Is(err, auth.ErrPasswordNoSymbol):
		return "The password needs a symbol such as " + escape(auth.PasswordSymbols[:8]) + "."
	case errors.Is(err, auth.ErrPasswordMismatch):
		return "The two new passwords do not match."
	case errors.Is(err, auth.ErrSamePassword):
		return "The new password must differ from the current one."
	default:
		return escape(err.Error())
	}
}
