package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskboard/internal/api"
	"taskboard/internal/model"
	"taskboard/internal/service"
)

// shareView is the share list last shown in a chat.
type shareView struct {
	taskID string
	title  string
	shares []model.Share
}

// ownedTask returns the task if the current user may manage its shares.
func ownedTask(s *service.Session, id string) (model.Task, error) {
	t, ok := s.Tasks.Get(id)
	switch {
	case !ok:
		return model.Task{}, service.ErrTaskNotFound
	case t.Pending():
		return model.Task{}, service.ErrTaskPending
	case t.IsShared:
		return model.Task{}, errors.New("only the owner can manage sharing")
	}
	return t, nil
}

// handleShare expects "<id> <emails> [read|edit]". Permission defaults to edit.
func (b *Bot) handleShare(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return b.sendText(msg.Chat.ID, "Usage: /share &lt;id&gt; &lt;email[,email…]&gt; [read|edit]")
	}
	task, err := ownedTask(s, args[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, taskErrorText(err))
	}

	permission := model.PermissionEdit
	rest := args[1:]
	if last := model.Permission(strings.ToLower(rest[len(rest)-1])); last.Valid() {
		permission = last
		rest = rest[:len(rest)-1]
	}
	recipients, err := service.ParseRecipients(strings.Join(rest, " "))
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(err.Error()))
	}
	if len(recipients) == 0 {
		return b.sendText(msg.Chat.ID, "Add at least one email.")
	}

	if len(recipients) == 1 {
		shares, err := s.Sharing.Share(ctx, task.ID, recipients[0], permission)
		if err != nil {
			return b.sendText(msg.Chat.ID, shareErrorText(recipients[0], err))
		}
		return b.showShares(msg.Chat.ID, task, shares)
	}

	outcome := s.Sharing.ShareWithAll(ctx, task.ID, recipients, permission)
	if err := b.sendText(msg.Chat.ID, renderShareOutcome(outcome)); err != nil {
		return err
	}
	if len(outcome.Succeeded) == 0 {
		return nil
	}
	shares, err := s.Sharing.ListShares(ctx, task.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, "⚠️ Could not load the share list: "+escape(service.Reason(err)))
	}
	return b.showShares(msg.Chat.ID, task, shares)
}

func (b *Bot) handleShares(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Usage: /shares &lt;id&gt;")
	}
	task, err := ownedTask(s, id)
	if err != nil {
		return b.sendText(msg.Chat.ID, taskErrorText(err))
	}
	shares, err := s.Sharing.ListShares(ctx, task.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, "⚠️ Could not load the share list: "+escape(service.Reason(err)))
	}
	return b.showShares(msg.Chat.ID, task, shares)
}

// handlePermission toggles read/edit for "<id> <email>".
func (b *Bot) handlePermission(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	task, share, err := b.lookupShare(ctx, msg, s, "/perm")
	if err != nil || share == nil {
		return err
	}
	shares, err := s.Sharing.TogglePermission(ctx, task.ID, *share)
	if err != nil {
		return b.sendText(msg.Chat.ID, shareErrorText(share.SharedWithEmail, err))
	}
	return b.showShares(msg.Chat.ID, task, shares)
}

func (b *Bot) handleUnshare(ctx context.Context, msg *tgbotapi.Message, s *service.Session) error {
	task, share, err := b.lookupShare(ctx, msg, s, "/unshare")
	if err != nil || share == nil {
		return err
	}
	shares, err := s.Sharing.Unshare(ctx, task.ID, share.SharedWithUserID)
	if err != nil {
		return b.sendText(msg.Chat.ID, shareErrorText(share.SharedWithEmail, err))
	}
	return b.showShares(msg.Chat.ID, task, shares)
}

// lookupShare parses "<id> <email>" and finds the matching share. A nil share
// with a nil error means the user was already told what went wrong.
func (b *Bot) lookupShare(ctx context.Context, msg *tgbotapi.Message, s *service.Session, cmd string) (model.Task, *model.Share, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		return model.Task{}, nil, b.sendText(msg.Chat.ID, fmt.Sprintf("Usage: %s &lt;id&gt; &lt;email&gt;", cmd))
	}
	task, err := ownedTask(s, args[0])
	if err != nil {
		return model.Task{}, nil, b.sendText(msg.Chat.ID, taskErrorText(err))
	}
	shares, err := s.Sharing.ListShares(ctx, task.ID)
	if err != nil {
		return model.Task{}, nil, b.sendText(msg.Chat.ID, "⚠️ Could not load the share list: "+escape(service.Reason(err)))
	}
	for i := range shares {
		if strings.EqualFold(shares[i].SharedWithEmail, args[1]) {
			return task, &shares[i], nil
		}
	}
	return model.Task{}, nil, b.sendText(msg.Chat.ID, fmt.Sprintf("“%s” is not shared with %s.", escape(task.Title), escape(args[1])))
}

func (b *Bot) showShares(chatID int64, task model.Task, shares []model.Share) error {
	c := b.chatState(chatID)
	b.mu.Lock()
	c.shareView = &shareView{taskID: task.ID, title: task.Title, shares: shares}
	b.mu.Unlock()

	text, markup := renderShares(task.Title, shares)
	return b.sendWithReplyMarkup(chatID, text, markup)
}

// handleShareCallback acts on an entry of the share list last shown.
func (b *Bot) handleShareCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, s *service.Session) error {
	chatID := cb.Message.Chat.ID

	remove := strings.HasPrefix(cb.Data, cbShareRemove)
	raw := strings.TrimPrefix(strings.TrimPrefix(cb.Data, cbShareRemove), cbSharePerm)
	idx, err := strconv.Atoi(raw)

	b.mu.Lock()
	var view *shareView
	if c, ok := b.chats[chatID]; ok {
		view = c.shareView
	}
	b.mu.Unlock()

	if err != nil || view == nil || idx < 0 || idx >= len(view.shares) {
		b.ack(cb, "This list is outdated. Open it again with /shares.")
		return nil
	}
	share := view.shares[idx]

	var shares []model.Share
	if remove {
		shares, err = s.Sharing.Unshare(ctx, view.taskID, share.SharedWithUserID)
	} else {
		shares, err = s.Sharing.TogglePermission(ctx, view.taskID, share)
	}
	if err != nil {
		b.ack(cb, "Failed: "+service.Reason(err))
		return nil
	}
	b.ack(cb, "")

	text, markup := renderShares(view.title, shares)
	b.mu.Lock()
	if c, ok := b.chats[chatID]; ok && c.shareView == view {
		c.shareView = &shareView{taskID: view.taskID, title: view.title, shares: shares}
	}
	b.mu.Unlock()

	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, cb.Message.MessageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := b.out.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		return err
	}
	return nil
}

func shareErrorText(email string, err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		return fmt.Sprintf("“%s” is not a valid email.", escape(email))
	case errors.Is(err, service.ErrInvalidPermission):
		return "Permission must be read or edit."
	case errors.Is(err, api.ErrRecipientNotFound):
		return fmt.Sprintf("⚠️ %s has no account yet.", escape(email))
	}
	return fmt.Sprintf("⚠️ %s: %s", escape(email), escape(service.Reason(err)))
}
