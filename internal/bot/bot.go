package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/model"
	"taskboard/internal/repository"
	"taskboard/internal/service"
)

const (
	menuLabelNewTask    = "➕ New task"
	menuLabelTasks      = "📋 Tasks"
	menuLabelCategories = "📂 Categories"
	menuLabelHelp       = "ℹ️ Help"
	btnSkip             = "⏭️ Skip"
	btnCancelDialog     = "⏪ Cancel input"
)

// Backend is the task API bound to one signed-in session.
type Backend interface {
	service.TaskAPI
	service.ShareAPI
}

// BackendFactory builds a Backend that authenticates with the session's tokens.
type BackendFactory func(s *auth.Session) Backend

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps wires the bot to storage and the remote collaborators.
type Deps struct {
	Config   *config.Config
	Users    *repository.UserRepository
	Cache    service.CategoryCache
	Auth     auth.Provider
	Backends BackendFactory
	Logger   *slog.Logger
	Location *time.Location
}

// chat is the state of one private chat. Each chat signs in on its own.
type chat struct {
	id       int64
	auth     *auth.Session
	session  *service.Session
	conv     *conversation
	email    string // address of a pending sign-up or reset
	listMsg  int
	listView []string // task ids of the last rendered list, in display order

	// shareView is the last share list shown, so callbacks can refer to
	// entries by index.
	shareView *shareView
}

// Bot aggregates Telegram API with per-chat task sessions.
type Bot struct {
	api  *tgbotapi.BotAPI
	out  Sender
	deps Deps
	log  *slog.Logger
	loc  *time.Location

	mu    sync.Mutex
	chats map[int64]*chat
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	b := newBot(api, deps)
	b.api = api
	b.log.Info("bot authorized", "account", api.Self.UserName)
	return b, nil
}

func newBot(out Sender, deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		out:   out,
		deps:  deps,
		log:   logger,
		loc:   loc,
		chats: make(map[int64]*chat),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot started without a telegram connection")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Error("handle callback", "error", err)
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Error("handle message", "chat", update.Message.Chat.ID, "error", err)
		}
	}
}

// Shutdown waits for background work of every open session.
func (b *Bot) Shutdown() {
	b.mu.Lock()
	sessions := make([]*service.Session, 0, len(b.chats))
	for _, c := range b.chats {
		if c.session != nil {
			sessions = append(sessions, c.session)
		}
	}
	b.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	chatID := msg.Chat.ID

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(chatID)
		return b.sendText(chatID, "⏪ Input cancelled.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.log.Info("command", "chat", chatID, "command", msg.Command())
		return b.handleCommand(ctx, msg)
	}

	if conv := b.conversation(chatID); conv != nil {
		return b.handleConversation(ctx, msg, conv)
	}

	return b.sendText(chatID, "I did not get that. Use /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	// Any command ends a running dialog.
	if msg.Command() != "cancel" {
		b.clearConversation(msg.Chat.ID)
	}

	switch msg.Command() {
	case "start":
		return b.handleStart(msg)
	case "help":
		return b.handleHelp(msg)
	case "cancel":
		b.clearConversation(msg.Chat.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")

	case "signup":
		return b.handleSignUp(ctx, msg)
	case "confirm":
		return b.handleConfirm(ctx, msg)
	case "resend":
		return b.handleResend(ctx, msg)
	case "login":
		return b.handleLogin(ctx, msg)
	case "logout":
		return b.handleLogout(ctx, msg)
	case "passwd":
		return b.handleChangePassword(ctx, msg)
	case "forgot":
		return b.handleForgot(ctx, msg)
	case "reset":
		return b.handleReset(ctx, msg)
	case "deleteaccount":
		return b.handleDeleteAccount(ctx, msg)
	}

	s := b.session(msg.Chat.ID)
	if s == nil {
		return b.sendText(msg.Chat.ID, "Sign in first: /login &lt;email&gt; &lt;password&gt; [remember]")
	}

	switch msg.Command() {
	case "tasks":
		return b.sendTaskList(msg.Chat.ID, s)
	case "filter":
		return b.handleFilter(msg, s)
	case "sort":
		return b.handleSort(msg, s)
	case "newtask":
		return b.startNewTask(msg.Chat.ID, s)
	case "edit":
		return b.handleEdit(msg, s)
	case "done":
		return b.handleDone(ctx, msg, s)
	case "delete":
		return b.handleDelete(ctx, msg, s)
	case "clearcompleted":
		return b.handleClearCompleted(ctx, msg, s)
	case "calendar":
		return b.handleCalendar(msg, s)
	case "digest":
		return b.sendText(msg.Chat.ID, service.Digest(s.Tasks.Snapshot(), s.Categories, time.Now().In(b.loc)))
	case "sync":
		return b.handleSync(ctx, msg, s)
	case "categories":
		return b.handleCategories(msg, s)
	case "newcategory":
		return b.handleNewCategory(ctx, msg, s)
	case "delcategory":
		return b.handleDeleteCategory(ctx, msg, s)
	case "share":
		return b.handleShare(ctx, msg, s)
	case "shares":
		return b.handleShares(ctx, msg, s)
	case "perm":
		return b.handlePermission(ctx, msg, s)
	case "unshare":
		return b.handleUnshare(ctx, msg, s)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("👋 Hi, %s!\n<b>I keep your task board in sync and in your pocket.</b>\n\n"+
		"• /signup &lt;email&gt; &lt;password&gt; — create an account\n"+
		"• /login &lt;email&gt; &lt;password&gt; [remember] — sign in\n"+
		"• /help — all commands", escape(name))
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"<b>Account</b>\n" +
		"• /signup &lt;email&gt; &lt;password&gt;, /confirm &lt;code&gt;, /resend\n" +
		"• /login &lt;email&gt; &lt;password&gt; [remember], /logout\n" +
		"• /passwd &lt;current&gt; &lt;new&gt; &lt;new&gt;\n" +
		"• /forgot &lt;email&gt;, /reset &lt;code&gt; &lt;new&gt; &lt;new&gt;\n" +
		"• /deleteaccount\n" +
		"<b>Tasks</b>\n" +
		"• /tasks, /newtask, /edit &lt;id&gt;, /done &lt;id&gt;, /delete &lt;id&gt;\n" +
		"• /filter all|shared|&lt;category&gt;, /sort default|priority-high|priority-low|date-newest|date-oldest\n" +
		"• /clearcompleted, /calendar [YYYY-MM-DD], /digest, /sync\n" +
		"<b>Categories</b>\n" +
		"• /categories, /newcategory &lt;color&gt; &lt;name&gt;, /delcategory &lt;id&gt;\n" +
		"<b>Sharing</b>\n" +
		"• /share &lt;id&gt; &lt;emails&gt; [read|edit], /shares &lt;id&gt;\n" +
		"• /perm &lt;id&gt; &lt;email&gt;, /unshare &lt;id&gt; &lt;email&gt;\n" +
		"• /cancel — stop the current input"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		msg.Text, msg.Entities = "/newtask", commandEntity("/newtask")
	case strings.ToLower(menuLabelTasks):
		msg.Text, msg.Entities = "/tasks", commandEntity("/tasks")
	case strings.ToLower(menuLabelCategories):
		msg.Text, msg.Entities = "/categories", commandEntity("/categories")
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
	return true, b.handleCommand(ctx, msg)
}

func commandEntity(cmd string) []tgbotapi.MessageEntity {
	return []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	if b.deps.Users == nil {
		return &model.User{TelegramID: from.ID}, nil
	}
	return b.deps.Users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) chatState(chatID int64) *chat {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.chats[chatID]
	if !ok {
		c = &chat{id: chatID}
		b.chats[chatID] = c
	}
	return c
}

func (b *Bot) session(chatID int64) *service.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c.session
	}
	return nil
}

func (b *Bot) conversation(chatID int64) *conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c.conv
	}
	return nil
}

func (b *Bot) setConversation(chatID int64, conv *conversation) {
	c := b.chatState(chatID)
	b.mu.Lock()
	c.conv = conv
	b.mu.Unlock()
}

func (b *Bot) clearConversation(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		if c.conv != nil && c.conv.editing() && c.session != nil {
			c.session.EndEdit()
		}
		c.conv = nil
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.out.Send(msg)
	return err
}

// deleteMessage removes a message that carried a password.
func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if _, err := b.out.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.Warn("delete message", "chat", chatID, "error", err)
	}
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Warn("callback ack", "error", err)
	}
}

// ResyncAll reloads every open session from the API. Failures are only
// logged; the chat keeps its last known state.
func (b *Bot) ResyncAll(ctx context.Context) {
	for chatID, s := range b.openSessions() {
		if err := s.Tasks.Load(ctx); err != nil {
			b.log.Warn("periodic resync", "chat", chatID, "error", err)
		}
	}
}

// SendDigests sends the daily digest to every signed-in chat.
func (b *Bot) SendDigests(ctx context.Context) error {
	now := time.Now().In(b.loc)
	for chatID, s := range b.openSessions() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !s.Tasks.Loaded() {
			continue
		}
		if err := b.sendText(chatID, service.Digest(s.Tasks.Snapshot(), s.Categories, now)); err != nil {
			b.log.Error("send digest", "chat", chatID, "error", err)
		}
	}
	return nil
}

func (b *Bot) openSessions() map[int64]*service.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int64]*service.Session, len(b.chats))
	for id, c := range b.chats {
		if c.session != nil {
			out[id] = c.session
		}
	}
	return out
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelCategories),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSkip)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "cancel"
}
