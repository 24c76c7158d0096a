package repository

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"taskboard/internal/model"
)

// sealedPrefix marks a refresh token stored encrypted.
const sealedPrefix = "gcm:"

// UserRepository keeps chat owners and their login preference flags.
//
// Refresh tokens are sealed with AES-GCM when a token key is configured and
// stored as plain text otherwise.
type UserRepository struct {
	db   *gorm.DB
	aead cipher.AEAD
}

// UserOption customizes a UserRepository.
type UserOption func(*UserRepository) error

// WithTokenKey seals stored refresh tokens with a key derived from secret.
// An empty secret leaves them unsealed.
func WithTokenKey(secret string) UserOption {
	return func(r *UserRepository) error {
		if secret == "" {
			return nil
		}
		key := sha256.Sum256([]byte(secret))
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return fmt.Errorf("token key: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return fmt.Errorf("token key: %w", err)
		}
		r.aead = aead
		return nil
	}
}

func NewUserRepository(db *gorm.DB, opts ...UserOption) (*UserRepository, error) {
	r := &UserRepository{db: db}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *UserRepository) seal(token string) (string, error) {
	if r.aead == nil || token == "" {
		return token, nil
	}
	nonce := make([]byte, r.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	sealed := r.aead.Seal(nonce, nonce, []byte(token), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// open reverses seal. A token that cannot be opened reads as empty, which
// makes the login look expired.
func (r *UserRepository) open(stored string) string {
	raw, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored
	}
	if r.aead == nil {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(data) < r.aead.NonceSize() {
		return ""
	}
	n := r.aead.NonceSize()
	plain, err := r.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return ""
	}
	return string(plain)
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			TelegramID: telegramID,
			FirstName:  firstName,
			LastName:   lastName,
			Username:   username,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

// FindByTelegramID returns the user with its refresh token opened.
func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("find user %d: %w", telegramID, err)
	}
	user.RefreshToken = r.open(user.RefreshToken)
	return &user, nil
}

// SaveLogin records a successful sign-in. With remember set the refresh
// token is kept so the session survives a restart; otherwise only the
// session-only flag is set.
func (r *UserRepository) SaveLogin(ctx context.Context, telegramID int64, email string, remember bool, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"email":          email,
		"remember_login": remember,
		"temp_login":     !remember,
		"refresh_token":  "",
		"token_expiry":   nil,
	}
	if remember {
		sealed, err := r.seal(refreshToken)
		if err != nil {
			return err
		}
		updates["refresh_token"] = sealed
		if !expiry.IsZero() {
			updates["token_expiry"] = expiry
		}
	}
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("telegram_id = ?", telegramID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("save login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("save login: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

// UpdateRefreshToken stores a rotated refresh token for a remembered login.
// Session-only logins are left untouched.
func (r *UserRepository) UpdateRefreshToken(ctx context.Context, telegramID int64, refreshToken string, expiry time.Time) error {
	sealed, err := r.seal(refreshToken)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"refresh_token": sealed, "token_expiry": nil}
	if !expiry.IsZero() {
		updates["token_expiry"] = expiry
	}
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("telegram_id = ? AND remember_login = ?", telegramID, true).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update refresh token: %w", res.Error)
	}
	return nil
}

// ClearLogin drops both login flags and the stored token.
func (r *UserRepository) ClearLogin(ctx context.Context, telegramID int64) error {
	updates := map[string]interface{}{
		"email":          "",
		"remember_login": false,
		"temp_login":     false,
		"refresh_token":  "",
		"token_expiry":   nil,
	}
	if err := r.db.WithContext(ctx).Model(&model.User{}).Where("telegram_id = ?", telegramID).Updates(updates).Error; err != nil {
		return fmt.Errorf("clear login: %w", err)
	}
	return nil
}

// ListRemembered returns users whose session should be restored on start.
func (r *UserRepository) ListRemembered(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("remember_login = ? AND refresh_token <> ''", true).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list remembered: %w", err)
	}
	for i := range users {
		users[i].RefreshToken = r.open(users[i].RefreshToken)
	}
	return users, nil
}

// ExpireSessionLogins clears session-only flags left over from a previous run.
func (r *UserRepository) ExpireSessionLogins(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("temp_login = ?", true).
		Updates(map[string]interface{}{"temp_login": false, "email": ""})
	if res.Error != nil {
		return 0, fmt.Errorf("expire session logins: %w", res.Error)
	}
	return res.RowsAffected, nil
}
