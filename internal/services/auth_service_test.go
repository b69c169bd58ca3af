package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"esimstore/internal/models"
	"esimstore/utils"
)

const testBotToken = "110201543:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"

// signInitData produces initData the way Telegram does: sorted key=value
// pairs joined with newlines, HMAC'd with the WebAppData-derived secret.
func signInitData(botToken string, values url.Values) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(checkString))

	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return values.Encode()
}

func validInitData(botToken string) string {
	values := url.Values{}
	values.Set("user", `{"id":99281932,"first_name":"Andrew","username":"rogue","language_code":"en"}`)
	values.Set("auth_date", fmt.Sprintf("%d", time.Now().Unix()))
	values.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	return signInitData(botToken, values)
}

func TestVerifyInitData(t *testing.T) {
	svc := &AuthService{BotToken: testBotToken, InitDataMaxAge: 24 * time.Hour}

	t.Run("valid signature", func(t *testing.T) {
		tu, err := svc.VerifyInitData(validInitData(testBotToken))
		if err != nil {
			t.Fatalf("VerifyInitData: %v", err)
		}
		if tu.ID != 99281932 || tu.Username != "rogue" {
			t.Errorf("user = %+v", tu)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		data := validInitData(testBotToken)
		tampered := strings.Replace(data, "rogue", "admin", 1)
		if _, err := svc.VerifyInitData(tampered); !errors.Is(err, models.ErrInvalidInitData) {
			t.Fatalf("err = %v, want ErrInvalidInitData", err)
		}
	})

	t.Run("signed with another bot token", func(t *testing.T) {
		data := validInitData("999999:other-bot-token")
		if _, err := svc.VerifyInitData(data); !errors.Is(err, models.ErrInvalidInitData) {
			t.Fatalf("err = %v, want ErrInvalidInitData", err)
		}
	})

	t.Run("missing hash", func(t *testing.T) {
		if _, err := svc.VerifyInitData("user=%7B%22id%22%3A1%7D&auth_date=1"); !errors.Is(err, models.ErrInvalidInitData) {
			t.Fatalf("err = %v, want ErrInvalidInitData", err)
		}
	})

	t.Run("stale auth_date", func(t *testing.T) {
		values := url.Values{}
		values.Set("user", `{"id":99281932,"first_name":"Andrew"}`)
		values.Set("auth_date", fmt.Sprintf("%d", time.Now().Add(-48*time.Hour).Unix()))
		data := signInitData(testBotToken, values)
		if _, err := svc.VerifyInitData(data); !errors.Is(err, models.ErrInvalidInitData) {
			t.Fatalf("err = %v, want ErrInvalidInitData", err)
		}
	})
}

type fakeUsers struct {
	users   map[int64]models.User
	refresh map[int64]string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]models.User), refresh: make(map[int64]string)}
}

func (f *fakeUsers) UpsertTelegram(ctx context.Context, tu models.TelegramUser) (models.User, error) {
	u, ok := f.users[tu.ID]
	if !ok {
		u = models.User{ID: int64(len(f.users) + 1), TelegramID: tu.ID}
	}
	u.Username = tu.Username
	u.FirstName = tu.FirstName
	u.LastName = tu.LastName
	u.PhotoURL = tu.PhotoURL
	u.LanguageCode = tu.LanguageCode
	f.users[tu.ID] = u
	return u, nil
}

func (f *fakeUsers) SaveRefreshToken(ctx context.Context, telegramID int64, token string) error {
	f.refresh[telegramID] = token
	return nil
}

func (f *fakeUsers) ByRefreshToken(ctx context.Context, token string) (models.User, error) {
	for id, t := range f.refresh {
		if t == token && token != "" {
			return f.users[id], nil
		}
	}
	return models.User{}, models.ErrUserNotFound
}

func TestLogin(t *testing.T) {
	tokens, err := utils.NewManager("test-signing-key")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	users := newFakeUsers()
	svc := &AuthService{BotToken: testBotToken, Users: users, Tokens: tokens}

	res, err := svc.Login(context.Background(), validInitData(testBotToken))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User.TelegramID != 99281932 {
		t.Errorf("user = %+v", res.User)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Error("token pair not issued")
	}

	// The access token's subject must resolve back to the account.
	sub, err := tokens.Parse(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sub != "99281932" {
		t.Errorf("subject = %q, want 99281932", sub)
	}

	// A second login is an upsert, not a duplicate account.
	if _, err := svc.Login(context.Background(), validInitData(testBotToken)); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if len(users.users) != 1 {
		t.Errorf("accounts = %d, want 1", len(users.users))
	}
}
