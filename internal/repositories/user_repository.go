package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"esimstore/internal/models"
)

type UserRepository struct {
	DB *sql.DB

	once sync.Once
	err  error
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    telegram_id BIGINT NOT NULL,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255) NOT NULL DEFAULT '',
    photo_url VARCHAR(512) NOT NULL DEFAULT '',
    language_code VARCHAR(16) NOT NULL DEFAULT '',
    refresh_token VARCHAR(128) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_telegram_id (telegram_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

// UpsertTelegram is the single account write path: every verified login
// and every bot /start lands here. Keyed by telegram_id, last-write-wins
// on the profile fields.
func (r *UserRepository) UpsertTelegram(ctx context.Context, tu models.TelegramUser) (models.User, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.User{}, err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO users (telegram_id, username, first_name, last_name, photo_url, language_code)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    username = VALUES(username),
    first_name = VALUES(first_name),
    last_name = VALUES(last_name),
    photo_url = VALUES(photo_url),
    language_code = VALUES(language_code)
`, tu.ID, tu.Username, tu.FirstName, tu.LastName, tu.PhotoURL, tu.LanguageCode)
	if err != nil {
		return models.User{}, err
	}
	return r.ByTelegramID(ctx, tu.ID)
}

func (r *UserRepository) ByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.User{}, err
	}
	var u models.User
	err := r.DB.QueryRowContext(ctx, `
SELECT id, telegram_id, username, first_name, last_name, photo_url, language_code, refresh_token, created_at, updated_at
FROM users WHERE telegram_id = ?`, telegramID).
		Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
			&u.PhotoURL, &u.LanguageCode, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

func (r *UserRepository) SaveRefreshToken(ctx context.Context, telegramID int64, token string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET refresh_token = ? WHERE telegram_id = ?`, token, telegramID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// ByRefreshToken resolves the session owner during access-token renewal.
func (r *UserRepository) ByRefreshToken(ctx context.Context, token string) (models.User, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.User{}, err
	}
	if token == "" {
		return models.User{}, models.ErrUserNotFound
	}
	var u models.User
	err := r.DB.QueryRowContext(ctx, `
SELECT id, telegram_id, username, first_name, last_name, photo_url, language_code, refresh_token, created_at, updated_at
FROM users WHERE refresh_token = ?`, token).
		Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
			&u.PhotoURL, &u.LanguageCode, &u.RefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, models.ErrUserNotFound
		}
		return models.User{}, err
	}
	return u, nil
}
