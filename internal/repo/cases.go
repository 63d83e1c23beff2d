package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"heartmend/internal/domain"
)

const caseColumns = `id,user_id,conflict_type,conflict_date,relationship_stage,what_i_did,partner_feelings,my_attitude,red_flags,channel,tone_used,generation_status,generation_error,generation_warning,generated_output,generation_started_at,generation_completed_at,marked_sent,resolved_at,feedback_note,created_at,updated_at`

func scanCase(scan func(dest ...any) error) (domain.Case, error) {
	var c domain.Case
	var whatIDid, partnerFeelings, myAttitude, redFlags sql.NullString
	var genError, genWarning, genOutput, genStarted, genCompleted sql.NullString
	var resolvedAt, feedbackNote sql.NullString
	var markedSent int
	err := scan(&c.ID, &c.UserID, &c.ConflictType, &c.ConflictDate, &c.RelationshipStage,
		&whatIDid, &partnerFeelings, &myAttitude, &redFlags, &c.Channel, &c.ToneUsed,
		&c.GenerationStatus, &genError, &genWarning, &genOutput, &genStarted, &genCompleted,
		&markedSent, &resolvedAt, &feedbackNote, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if whatIDid.Valid {
		c.WhatIDid = &whatIDid.String
	}
	if partnerFeelings.Valid {
		c.PartnerFeelings = &partnerFeelings.String
	}
	if myAttitude.Valid {
		c.MyAttitude = &myAttitude.String
	}
	if redFlags.Valid {
		c.RedFlags = &redFlags.String
	}
	if genError.Valid {
		c.GenerationError = &genError.String
	}
	if genWarning.Valid {
		c.GenerationWarning = &genWarning.String
	}
	if genOutput.Valid {
		c.GeneratedOutputJSON = &genOutput.String
	}
	if genStarted.Valid {
		c.GenerationStartedAt = &genStarted.String
	}
	if genCompleted.Valid {
		c.GenerationCompletedAt = &genCompleted.String
	}
	c.MarkedSent = markedSent != 0
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.String
	}
	if feedbackNote.Valid {
		c.FeedbackNote = &feedbackNote.String
	}
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, c domain.Case) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cases(`+caseColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.ConflictType, c.ConflictDate, c.RelationshipStage,
		nullableStringPtr(c.WhatIDid), nullableStringPtr(c.PartnerFeelings), nullableStringPtr(c.MyAttitude), nullableStringPtr(c.RedFlags),
		c.Channel, c.ToneUsed, c.GenerationStatus,
		nullableStringPtr(c.GenerationError), nullableStringPtr(c.GenerationWarning), nullableStringPtr(c.GeneratedOutputJSON),
		nullableStringPtr(c.GenerationStartedAt), nullableStringPtr(c.GenerationCompletedAt),
		boolInt(c.MarkedSent), nullableStringPtr(c.ResolvedAt), nullableStringPtr(c.FeedbackNote),
		c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCaseForUser enforces ownership in the query itself so a foreign case id
// is indistinguishable from a missing one.
func (r Repo) GetCaseForUser(ctx context.Context, id, userID string) (domain.Case, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=? AND user_id=?`, id, userID)
	return scanCase(row.Scan)
}

func (r Repo) ListCases(ctx context.Context, userID string, limit, offset int) ([]domain.Case, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// FinishGeneration writes a terminal generation result. The status guard
// makes the transition atomic: only a case currently generating can be
// finished, so a stale worker cannot clobber a newer result.
func (r Repo) FinishGeneration(ctx context.Context, id, status string, output, genError, warning *string, completedAt, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE cases SET generation_status=?, generated_output=?, generation_error=?, generation_warning=?, generation_completed_at=?, updated_at=?
WHERE id=? AND generation_status='generating'`,
		status, nullableStringPtr(output), nullableStringPtr(genError), nullableStringPtr(warning), completedAt, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s is not generating", id)
	}
	return nil
}

// BeginRegeneration flips a terminal case back to generating. The guard
// rejects the flip when a generation is already in flight, giving at most
// one concurrent generation per case.
func (r Repo) BeginRegeneration(ctx context.Context, id, userID, tone, startedAt, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE cases SET generation_status='generating', tone_used=?, generation_error=NULL, generation_warning=NULL,
generation_started_at=?, generation_completed_at=NULL, updated_at=?
WHERE id=? AND user_id=? AND generation_status IN ('completed','failed')`,
		tone, startedAt, updatedAt, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type CaseMetaUpdate struct {
	MarkedSent   *bool
	ResolvedAt   *string
	FeedbackNote *string
}

func (r Repo) UpdateCaseMeta(ctx context.Context, id, userID, updatedAt string, upd CaseMetaUpdate) error {
	var (
		fields []string
		args   []any
	)
	if upd.MarkedSent != nil {
		fields = append(fields, "marked_sent=?")
		args = append(args, boolInt(*upd.MarkedSent))
	}
	if upd.ResolvedAt != nil {
		fields = append(fields, "resolved_at=?")
		args = append(args, nullable(*upd.ResolvedAt))
	}
	if upd.FeedbackNote != nil {
		fields = append(fields, "feedback_note=?")
		args = append(args, nullable(*upd.FeedbackNote))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, userID)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE id=? AND user_id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCase(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM cases WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceCaseMessages swaps the derived apology variants for a case in one
// transaction. Regeneration replaces the set wholesale.
func (r Repo) ReplaceCaseMessages(ctx context.Context, caseID string, msgs []domain.CaseMessage) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM case_messages WHERE case_id=?`, caseID); err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO case_messages(id,case_id,message_type,tone,content,created_at) VALUES (?,?,?,?,?,?)`,
			m.ID, m.CaseID, m.MessageType, m.Tone, m.Content, m.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) ListCaseMessages(ctx context.Context, caseID string) ([]domain.CaseMessage, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,case_id,message_type,tone,content,created_at FROM case_messages WHERE case_id=? ORDER BY created_at ASC, rowid ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseMessage
	for rows.Next() {
		var m domain.CaseMessage
		if err := rows.Scan(&m.ID, &m.CaseID, &m.MessageType, &m.Tone, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
