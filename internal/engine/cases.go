package engine

import (
	"context"
	"heartmend/internal/domain"
	"heartmend/internal/generate"
	"heartmend/internal/plan"
	"heartmend/internal/repo"
)

// CaseDetail is a case plus its derived apology messages.
type CaseDetail struct {
	Case     domain.Case
	Messages []domain.CaseMessage
}

// CreateCase validates input, admits it past the safety-independent gates
// (rate limits, provider credentials), persists the case in the generating
// state, and dispatches generation in the background. The returned case is a
// snapshot; callers poll for the terminal state.
func (e *Engine) CreateCase(ctx context.Context, userID string, in plan.CaseInput) (domain.Case, error) {
	toneOmitted := in.Tone == ""
	if err := plan.ValidateInput(&in); err != nil {
		return domain.Case{}, err
	}
	if err := e.checkLimit(userID, "create_case"); err != nil {
		return domain.Case{}, err
	}
	if err := e.checkLimit(userID, "generate_case"); err != nil {
		return domain.Case{}, err
	}
	if _, err := e.Repo.EnsureUser(ctx, userID); err != nil {
		return domain.Case{}, err
	}
	prefs, err := e.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return domain.Case{}, err
	}
	// An omitted tone takes the user's default_tone preference; ValidateInput
	// has already filled in the built-in fallback for users without one.
	if toneOmitted && prefs.DefaultTone != "" {
		in.Tone = prefs.DefaultTone
	}
	// Resolve the provider up front so a missing credential fails the
	// request instead of a background worker.
	genCfg, err := e.generationConfig(prefs.PreferredProvider)
	if err != nil {
		return domain.Case{}, err
	}

	now := e.nowRFC3339()
	c := domain.Case{
		ID:                  newID(),
		UserID:              userID,
		ConflictType:        in.ConflictType,
		ConflictDate:        in.ConflictDate,
		RelationshipStage:   in.RelationshipStage,
		Channel:             in.Channel,
		ToneUsed:            in.Tone,
		GenerationStatus:    "generating",
		GenerationStartedAt: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if prefs.SaveRawInputs {
		c.WhatIDid = &in.WhatIDid
		c.PartnerFeelings = &in.PartnerFeelings
		c.MyAttitude = &in.MyAttitude
		if in.RedFlags != "" {
			c.RedFlags = &in.RedFlags
		}
	}
	if err := e.Repo.InsertCase(ctx, c); err != nil {
		return domain.Case{}, err
	}
	e.event(ctx, "case.created", userID, map[string]any{
		"case_id":       c.ID,
		"conflict_type": c.ConflictType,
		"channel":       c.Channel,
	})

	input := in
	caseID := c.ID
	e.Run(func() {
		outcome := e.Orchestrator.Generate(context.Background(), input, genCfg)
		e.finishGeneration(context.Background(), caseID, userID, input.Tone, outcome)
	})
	return c, nil
}

// finishGeneration records a terminal outcome. The write is guarded on the
// generating status, so a result arriving after the case moved on is dropped.
func (e *Engine) finishGeneration(ctx context.Context, caseID, userID, tone string, outcome generate.Outcome) {
	now := e.nowRFC3339()
	var warning *string
	if outcome.Advisory != "" {
		warning = &outcome.Advisory
	}

	switch outcome.Kind {
	case generate.Succeeded:
		output, err := marshalPlan(outcome.Plan)
		if err != nil {
			e.logf("case %s: marshal plan: %v", caseID, err)
			reason := "生成结果无法保存"
			if err := e.Repo.FinishGeneration(ctx, caseID, "failed", nil, &reason, warning, now, now); err != nil {
				e.logf("case %s: finish generation: %v", caseID, err)
			}
			return
		}
		if err := e.Repo.FinishGeneration(ctx, caseID, "completed", &output, nil, warning, now, now); err != nil {
			e.logf("case %s: finish generation: %v", caseID, err)
			return
		}
		if err := e.Repo.ReplaceCaseMessages(ctx, caseID, apologyMessages(caseID, tone, outcome.Plan, now)); err != nil {
			e.logf("case %s: store apology messages: %v", caseID, err)
		}
		e.event(ctx, "case.generation_completed", userID, map[string]any{"case_id": caseID})
	default:
		// Rejected and Failed both land in the failed state; the reason
		// tells them apart for the user.
		if err := e.Repo.FinishGeneration(ctx, caseID, "failed", nil, &outcome.Reason, warning, now, now); err != nil {
			e.logf("case %s: finish generation: %v", caseID, err)
			return
		}
		e.event(ctx, "case.generation_failed", userID, map[string]any{
			"case_id":  caseID,
			"rejected": outcome.Kind == generate.Rejected,
		})
	}
}

func apologyMessages(caseID, tone string, p *plan.RepairPlan, now string) []domain.CaseMessage {
	variants := []struct {
		messageType string
		content     string
	}{
		{"sms_short", p.ApologySMS.Short},
		{"sms_medium", p.ApologySMS.Medium},
		{"sms_long", p.ApologySMS.Long},
	}
	msgs := make([]domain.CaseMessage, 0, len(variants))
	for _, v := range variants {
		msgs = append(msgs, domain.CaseMessage{
			ID:          newID(),
			CaseID:      caseID,
			MessageType: v.messageType,
			Tone:        tone,
			Content:     v.content,
			CreatedAt:   now,
		})
	}
	return msgs
}

// RegenerateCase reruns generation with user feedback against the stored
// plan. Unlike initial creation it is synchronous: the caller gets the
// terminal case back.
func (e *Engine) RegenerateCase(ctx context.Context, userID, caseID, feedback, tone string) (domain.Case, error) {
	if err := e.checkLimit(userID, "regenerate"); err != nil {
		return domain.Case{}, err
	}
	c, err := e.Repo.GetCaseForUser(ctx, caseID, userID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.GenerationStatus == "generating" {
		return domain.Case{}, ErrGenerationInFlight
	}
	if c.GeneratedOutputJSON == nil {
		return domain.Case{}, ErrNoPlanToRegenerate
	}
	prior, err := plan.ParseAndValidate(*c.GeneratedOutputJSON)
	if err != nil {
		return domain.Case{}, err
	}
	if tone == "" {
		tone = c.ToneUsed
	} else {
		valid := false
		for _, t := range plan.Tones {
			if t == tone {
				valid = true
			}
		}
		if !valid {
			return domain.Case{}, &plan.ValidationError{Field: "tone", Constraint: "unknown tone"}
		}
	}
	prefs, err := e.Repo.GetPreferences(ctx, userID)
	if err != nil {
		return domain.Case{}, err
	}
	genCfg, err := e.generationConfig(prefs.PreferredProvider)
	if err != nil {
		return domain.Case{}, err
	}

	now := e.nowRFC3339()
	if err := e.Repo.BeginRegeneration(ctx, caseID, userID, tone, now, now); err != nil {
		if err == repo.ErrNotFound {
			return domain.Case{}, ErrGenerationInFlight
		}
		return domain.Case{}, err
	}
	e.event(ctx, "case.regeneration_started", userID, map[string]any{"case_id": caseID})

	outcome := e.Orchestrator.Regenerate(ctx, prior, feedback, tone, genCfg)
	e.finishGeneration(ctx, caseID, userID, tone, outcome)
	return e.Repo.GetCaseForUser(ctx, caseID, userID)
}

func (e *Engine) GetCase(ctx context.Context, userID, caseID string) (CaseDetail, error) {
	c, err := e.Repo.GetCaseForUser(ctx, caseID, userID)
	if err != nil {
		return CaseDetail{}, err
	}
	msgs, err := e.Repo.ListCaseMessages(ctx, caseID)
	if err != nil {
		return CaseDetail{}, err
	}
	return CaseDetail{Case: c, Messages: msgs}, nil
}

func (e *Engine) ListCases(ctx context.Context, userID string, limit, offset int) ([]domain.Case, error) {
	return e.Repo.ListCases(ctx, userID, limit, offset)
}

// CaseUpdate mirrors the PATCH surface: per-case bookkeeping flags, not the
// generation lifecycle.
type CaseUpdate struct {
	MarkedSent   *bool
	Resolved     *bool
	FeedbackNote *string
}

func (e *Engine) UpdateCase(ctx context.Context, userID, caseID string, upd CaseUpdate) (domain.Case, error) {
	meta := repo.CaseMetaUpdate{
		MarkedSent:   upd.MarkedSent,
		FeedbackNote: upd.FeedbackNote,
	}
	if upd.Resolved != nil {
		resolvedAt := ""
		if *upd.Resolved {
			resolvedAt = e.nowRFC3339()
		}
		meta.ResolvedAt = &resolvedAt
	}
	if err := e.Repo.UpdateCaseMeta(ctx, caseID, userID, e.nowRFC3339(), meta); err != nil {
		return domain.Case{}, err
	}
	if upd.MarkedSent != nil && *upd.MarkedSent {
		e.event(ctx, "case.marked_sent", userID, map[string]any{"case_id": caseID})
	}
	return e.Repo.GetCaseForUser(ctx, caseID, userID)
}

func (e *Engine) DeleteCase(ctx context.Context, userID, caseID string) error {
	if err := e.Repo.DeleteCase(ctx, caseID, userID); err != nil {
		return err
	}
	e.event(ctx, "case.deleted", userID, map[string]any{"case_id": caseID})
	return nil
}
