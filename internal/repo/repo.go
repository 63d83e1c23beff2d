package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"heartmend/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) EnsureUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var email, name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,name,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &email, &name, &u.CreatedAt)
	if err == nil {
		if email.Valid {
			u.Email = email.String
		}
		if name.Valid {
			u.Name = name.String
		}
		return u, nil
	}
	if err != sql.ErrNoRows {
		return u, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,created_at) VALUES (?,NULL,NULL,?)`, id, now); err != nil {
		return u, err
	}
	return domain.User{ID: id, CreatedAt: now}, nil
}

// GetPreferences returns stored preferences or the defaults when the user
// has never saved any.
func (r Repo) GetPreferences(ctx context.Context, userID string) (domain.Preferences, error) {
	var p domain.Preferences
	var provider sql.NullString
	var saveRaw, analytics int
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id,preferred_provider,default_tone,save_raw_inputs,enable_analytics,created_at,updated_at FROM user_preferences WHERE user_id=?`, userID).
		Scan(&p.UserID, &provider, &p.DefaultTone, &saveRaw, &analytics, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Preferences{
			UserID:          userID,
			DefaultTone:     "sincere",
			SaveRawInputs:   false,
			EnableAnalytics: true,
		}, nil
	}
	if err != nil {
		return p, err
	}
	if provider.Valid {
		p.PreferredProvider = provider.String
	}
	p.SaveRawInputs = saveRaw != 0
	p.EnableAnalytics = analytics != 0
	return p, nil
}

func (r Repo) UpsertPreferences(ctx context.Context, p domain.Preferences) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_preferences(user_id,preferred_provider,default_tone,save_raw_inputs,enable_analytics,created_at,updated_at)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET preferred_provider=excluded.preferred_provider, default_tone=excluded.default_tone,
save_raw_inputs=excluded.save_raw_inputs, enable_analytics=excluded.enable_analytics, updated_at=excluded.updated_at`,
		p.UserID, p.PreferredProvider, p.DefaultTone, boolInt(p.SaveRawInputs), boolInt(p.EnableAnalytics), now, now)
	return err
}
