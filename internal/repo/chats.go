package repo

import (
	"context"
	"database/sql"

	"heartmend/internal/domain"
)

func (r Repo) InsertChatSession(ctx context.Context, s domain.ChatSession) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO chat_sessions(id,user_id,title,preview,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.UserID, s.Title, s.Preview, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetChatSessionForUser(ctx context.Context, id, userID string) (domain.ChatSession, error) {
	var s domain.ChatSession
	var preview sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT s.id,s.user_id,s.title,s.preview,s.created_at,s.updated_at,
(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id=s.id)
FROM chat_sessions s WHERE s.id=? AND s.user_id=?`, id, userID).
		Scan(&s.ID, &s.UserID, &s.Title, &preview, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if preview.Valid {
		s.Preview = preview.String
	}
	return s, err
}

func (r Repo) ListChatSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT s.id,s.user_id,s.title,s.preview,s.created_at,s.updated_at,
(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id=s.id)
FROM chat_sessions s WHERE s.user_id=? ORDER BY s.updated_at DESC, s.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatSession
	for rows.Next() {
		var s domain.ChatSession
		var preview sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &preview, &s.CreatedAt, &s.UpdatedAt, &s.MessageCount); err != nil {
			return nil, err
		}
		if preview.Valid {
			s.Preview = preview.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) RenameChatSession(ctx context.Context, id, userID, title, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE chat_sessions SET title=?, updated_at=? WHERE id=? AND user_id=?`, title, updatedAt, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteChatSession(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendChatMessage inserts the message and refreshes the session's preview,
// optional title, and updated_at in one transaction.
func (r Repo) AppendChatMessage(ctx context.Context, m domain.ChatMessage, preview, title, updatedAt string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages(id,session_id,role,content,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt); err != nil {
		return err
	}
	if title != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_sessions SET title=?, preview=?, updated_at=? WHERE id=?`,
			title, preview, updatedAt, m.SessionID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_sessions SET preview=?, updated_at=? WHERE id=?`,
			preview, updatedAt, m.SessionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) ListChatMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,session_id,role,content,created_at FROM chat_messages WHERE session_id=? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
