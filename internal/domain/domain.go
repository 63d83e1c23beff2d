package domain

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Preferences struct {
	UserID            string `json:"user_id"`
	PreferredProvider string `json:"preferred_provider,omitempty"`
	DefaultTone       string `json:"default_tone" enum:"sincere,gentle,formal,casual"`
	SaveRawInputs     bool   `json:"save_raw_inputs"`
	EnableAnalytics   bool   `json:"enable_analytics"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

type Case struct {
	ID                    string  `json:"id"`
	UserID                string  `json:"user_id"`
	ConflictType          string  `json:"conflict_type"`
	ConflictDate          string  `json:"conflict_date" format:"date-time"`
	RelationshipStage     string  `json:"relationship_stage"`
	WhatIDid              *string `json:"what_i_did,omitempty"`
	PartnerFeelings       *string `json:"partner_feelings,omitempty"`
	MyAttitude            *string `json:"my_attitude,omitempty"`
	RedFlags              *string `json:"red_flags,omitempty"`
	Channel               string  `json:"channel"`
	ToneUsed              string  `json:"tone_used"`
	GenerationStatus      string  `json:"generation_status" enum:"not_started,generating,completed,failed"`
	GenerationError       *string `json:"generation_error,omitempty"`
	GenerationWarning     *string `json:"generation_warning,omitempty"`
	GeneratedOutputJSON   *string `json:"generated_output_json,omitempty"`
	GenerationStartedAt   *string `json:"generation_started_at,omitempty" format:"date-time"`
	GenerationCompletedAt *string `json:"generation_completed_at,omitempty" format:"date-time"`
	MarkedSent            bool    `json:"marked_sent"`
	ResolvedAt            *string `json:"resolved_at,omitempty" format:"date-time"`
	FeedbackNote          *string `json:"feedback_note,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

// CaseMessage is one ready-to-send apology variant derived from a completed
// generation.
type CaseMessage struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	MessageType string `json:"message_type" enum:"sms_short,sms_medium,sms_long"`
	Tone        string `json:"tone"`
	Content     string `json:"content"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ChatSession struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	Preview      string `json:"preview,omitempty"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role" enum:"user,assistant"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Payload string `json:"payload_json"`
}
