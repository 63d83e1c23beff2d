package server

import (
	"encoding/json"

	"heartmend/internal/domain"
	"heartmend/internal/plan"
)

// Request payloads

type CreateCaseRequest struct {
	ConflictType      string `json:"conflict_type" enum:"lie,broken_promise,cold_violence,verbal_hurt,boundary_issue,forget_important,other"`
	ConflictDate      string `json:"conflict_date" format:"date-time"`
	RelationshipStage string `json:"relationship_stage" enum:"flirting,dating,living_together,long_distance,engaged,married,near_breakup"`
	WhatIDid          string `json:"what_i_did"`
	PartnerFeelings   string `json:"partner_feelings"`
	MyAttitude        string `json:"my_attitude"`
	RedFlags          string `json:"red_flags,omitempty"`
	Channel           string `json:"channel" enum:"text,phone,in_person,unsure"`
	Tone              string `json:"tone,omitempty" enum:"sincere,gentle,formal,casual"`
}

type RegenerateCaseRequest struct {
	Feedback string `json:"feedback"`
	Tone     string `json:"tone,omitempty" enum:"sincere,gentle,formal,casual"`
}

type UpdateCaseRequest struct {
	MarkedSent   *bool   `json:"marked_sent,omitempty"`
	Resolved     *bool   `json:"resolved,omitempty"`
	FeedbackNote *string `json:"feedback_note,omitempty"`
}

type CreateChatMessageRequest struct {
	Content string `json:"content"`
}

type RenameChatSessionRequest struct {
	Title string `json:"title"`
}

type UpdatePreferencesRequest struct {
	PreferredProvider *string `json:"preferred_provider,omitempty"`
	DefaultTone       *string `json:"default_tone,omitempty" enum:"sincere,gentle,formal,casual"`
	SaveRawInputs     *bool   `json:"save_raw_inputs,omitempty"`
	EnableAnalytics   *bool   `json:"enable_analytics,omitempty"`
}

// Response payloads

type CaseResponse struct {
	ID                    string           `json:"id"`
	ConflictType          string           `json:"conflict_type"`
	ConflictDate          string           `json:"conflict_date" format:"date-time"`
	RelationshipStage     string           `json:"relationship_stage"`
	WhatIDid              *string          `json:"what_i_did,omitempty"`
	PartnerFeelings       *string          `json:"partner_feelings,omitempty"`
	MyAttitude            *string          `json:"my_attitude,omitempty"`
	RedFlags              *string          `json:"red_flags,omitempty"`
	Channel               string           `json:"channel"`
	ToneUsed              string           `json:"tone_used"`
	GenerationStatus      string           `json:"generation_status" enum:"not_started,generating,completed,failed"`
	GenerationError       *string          `json:"generation_error,omitempty"`
	GenerationWarning     *string          `json:"generation_warning,omitempty"`
	Plan                  *plan.RepairPlan `json:"plan,omitempty"`
	GenerationStartedAt   *string          `json:"generation_started_at,omitempty" format:"date-time"`
	GenerationCompletedAt *string          `json:"generation_completed_at,omitempty" format:"date-time"`
	MarkedSent            bool             `json:"marked_sent"`
	ResolvedAt            *string          `json:"resolved_at,omitempty" format:"date-time"`
	FeedbackNote          *string          `json:"feedback_note,omitempty"`
	CreatedAt             string           `json:"created_at" format:"date-time"`
	UpdatedAt             string           `json:"updated_at" format:"date-time"`
}

// CaseSummaryResponse omits the plan and narratives for list views.
type CaseSummaryResponse struct {
	ID                string `json:"id"`
	ConflictType      string `json:"conflict_type"`
	ConflictDate      string `json:"conflict_date" format:"date-time"`
	RelationshipStage string `json:"relationship_stage"`
	Channel           string `json:"channel"`
	ToneUsed          string `json:"tone_used"`
	GenerationStatus  string `json:"generation_status" enum:"not_started,generating,completed,failed"`
	MarkedSent        bool   `json:"marked_sent"`
	ResolvedAt        *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type CaseMessageResponse struct {
	ID          string `json:"id"`
	MessageType string `json:"message_type" enum:"sms_short,sms_medium,sms_long"`
	Tone        string `json:"tone"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type CaseDetailResponse struct {
	CaseResponse
	Messages []CaseMessageResponse `json:"messages,omitempty"`
}

type ChatSessionResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Preview      string `json:"preview,omitempty"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type ChatMessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role" enum:"user,assistant"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ChatSessionDetailResponse struct {
	ChatSessionResponse
	Messages []ChatMessageResponse `json:"messages,omitempty"`
}

type PreferencesResponse struct {
	PreferredProvider string `json:"preferred_provider,omitempty"`
	DefaultTone       string `json:"default_tone" enum:"sincere,gentle,formal,casual"`
	SaveRawInputs     bool   `json:"save_raw_inputs"`
	EnableAnalytics   bool   `json:"enable_analytics"`
}

func caseInput(req CreateCaseRequest) plan.CaseInput {
	return plan.CaseInput{
		ConflictType:      req.ConflictType,
		ConflictDate:      req.ConflictDate,
		RelationshipStage: req.RelationshipStage,
		WhatIDid:          req.WhatIDid,
		PartnerFeelings:   req.PartnerFeelings,
		MyAttitude:        req.MyAttitude,
		RedFlags:          req.RedFlags,
		Channel:           req.Channel,
		Tone:              req.Tone,
	}
}

func caseResponse(c domain.Case) CaseResponse {
	resp := CaseResponse{
		ID:                    c.ID,
		ConflictType:          c.ConflictType,
		ConflictDate:          c.ConflictDate,
		RelationshipStage:     c.RelationshipStage,
		WhatIDid:              c.WhatIDid,
		PartnerFeelings:       c.PartnerFeelings,
		MyAttitude:            c.MyAttitude,
		RedFlags:              c.RedFlags,
		Channel:               c.Channel,
		ToneUsed:              c.ToneUsed,
		GenerationStatus:      c.GenerationStatus,
		GenerationError:       c.GenerationError,
		GenerationWarning:     c.GenerationWarning,
		GenerationStartedAt:   c.GenerationStartedAt,
		GenerationCompletedAt: c.GenerationCompletedAt,
		MarkedSent:            c.MarkedSent,
		ResolvedAt:            c.ResolvedAt,
		FeedbackNote:          c.FeedbackNote,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
	if c.GeneratedOutputJSON != nil {
		var p plan.RepairPlan
		if err := json.Unmarshal([]byte(*c.GeneratedOutputJSON), &p); err == nil {
			resp.Plan = &p
		}
	}
	return resp
}

func caseSummary(c domain.Case) CaseSummaryResponse {
	return CaseSummaryResponse{
		ID:                c.ID,
		ConflictType:      c.ConflictType,
		ConflictDate:      c.ConflictDate,
		RelationshipStage: c.RelationshipStage,
		Channel:           c.Channel,
		ToneUsed:          c.ToneUsed,
		GenerationStatus:  c.GenerationStatus,
		MarkedSent:        c.MarkedSent,
		ResolvedAt:        c.ResolvedAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func mapCaseSummaries(items []domain.Case) []CaseSummaryResponse {
	res := make([]CaseSummaryResponse, 0, len(items))
	for _, c := range items {
		res = append(res, caseSummary(c))
	}
	return res
}

func caseMessageResponse(m domain.CaseMessage) CaseMessageResponse {
	return CaseMessageResponse{
		ID:          m.ID,
		MessageType: m.MessageType,
		Tone:        m.Tone,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}

func chatSessionResponse(s domain.ChatSession) ChatSessionResponse {
	return ChatSessionResponse{
		ID:           s.ID,
		Title:        s.Title,
		Preview:      s.Preview,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func mapChatSessions(items []domain.ChatSession) []ChatSessionResponse {
	res := make([]ChatSessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, chatSessionResponse(s))
	}
	return res
}

func chatMessageResponse(m domain.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func preferencesResponse(p domain.Preferences) PreferencesResponse {
	return PreferencesResponse{
		PreferredProvider: p.PreferredProvider,
		DefaultTone:       p.DefaultTone,
		SaveRawInputs:     p.SaveRawInputs,
		EnableAnalytics:   p.EnableAnalytics,
	}
}
