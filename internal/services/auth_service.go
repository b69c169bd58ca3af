package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"esimstore/internal/models"
	"esimstore/utils"
)

// UserStore is the account upsert target shared by the HTTP login and the
// bot's /start handler.
type UserStore interface {
	UpsertTelegram(ctx context.Context, tu models.TelegramUser) (models.User, error)
	SaveRefreshToken(ctx context.Context, telegramID int64, token string) error
	ByRefreshToken(ctx context.Context, token string) (models.User, error)
}

// AuthService verifies Telegram WebApp initData and issues API sessions.
type AuthService struct {
	BotToken string
	Users    UserStore
	Tokens   *utils.Manager

	// AccessTTL for issued JWTs; InitDataMaxAge rejects replayed initData.
	AccessTTL      time.Duration
	InitDataMaxAge time.Duration
}

type LoginResult struct {
	User   models.User   `json:"user"`
	Tokens models.Tokens `json:"tokens"`
}

// VerifyInitData checks the WebApp signature. Single accepted scheme:
// secret = HMAC-SHA256(key="WebAppData", message=botToken),
// hash = HMAC-SHA256(key=secret, message=data-check-string).
func (s *AuthService) VerifyInitData(initData string) (models.TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return models.TelegramUser{}, models.ErrInvalidInitData
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return models.TelegramUser{}, models.ErrInvalidInitData
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(s.BotToken))
	secret := secretMac.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(checkString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(wantHash), []byte(gotHash)) {
		return models.TelegramUser{}, models.ErrInvalidInitData
	}

	if maxAge := s.InitDataMaxAge; maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || time.Since(time.Unix(authDate, 0)) > maxAge {
			return models.TelegramUser{}, models.ErrInvalidInitData
		}
	}

	var tu models.TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &tu); err != nil || tu.ID == 0 {
		return models.TelegramUser{}, models.ErrInvalidInitData
	}
	return tu, nil
}

// Login verifies initData, upserts the account and issues a token pair.
func (s *AuthService) Login(ctx context.Context, initData string) (LoginResult, error) {
	tu, err := s.VerifyInitData(initData)
	if err != nil {
		return LoginResult{}, err
	}

	user, err := s.Users.UpsertTelegram(ctx, tu)
	if err != nil {
		return LoginResult{}, fmt.Errorf("upsert user: %w", err)
	}

	ttl := s.AccessTTL
	if ttl <= 0 {
		ttl = 20 * time.Hour
	}
	access, err := s.Tokens.NewJWT(strconv.FormatInt(user.TelegramID, 10), ttl)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.Tokens.NewRefreshToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.Users.SaveRefreshToken(ctx, user.TelegramID, refresh); err != nil {
		return LoginResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return LoginResult{
		User:   user,
		Tokens: models.Tokens{AccessToken: access, RefreshToken: refresh},
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (models.Tokens, error) {
	user, err := s.Users.ByRefreshToken(ctx, refreshToken)
	if err != nil {
		return models.Tokens{}, err
	}
	ttl := s.AccessTTL
	if ttl <= 0 {
		ttl = 20 * time.Hour
	}
	access, err := s.Tokens.NewJWT(strconv.FormatInt(user.TelegramID, 10), ttl)
	if err != nil {
		return models.Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	return models.Tokens{AccessToken: access, RefreshToken: refreshToken}, nil
}
