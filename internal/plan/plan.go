// Package plan holds the case-input and repair-plan value types and their
// validation. A RepairPlan is the wire contract between generation and the
// client: field names and enumerations are fixed and must not be renamed.
package plan

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Conflict categories.
const (
	ConflictLie             = "lie"
	ConflictBrokenPromise   = "broken_promise"
	ConflictColdViolence    = "cold_violence"
	ConflictVerbalHurt      = "verbal_hurt"
	ConflictBoundaryIssue   = "boundary_issue"
	ConflictForgetImportant = "forget_important"
	ConflictOther           = "other"
)

// Relationship stages.
const (
	StageFlirting       = "flirting"
	StageDating         = "dating"
	StageLivingTogether = "living_together"
	StageLongDistance   = "long_distance"
	StageEngaged        = "engaged"
	StageMarried        = "married"
	StageNearBreakup    = "near_breakup"
)

// Communication channels.
const (
	ChannelText     = "text"
	ChannelPhone    = "phone"
	ChannelInPerson = "in_person"
	ChannelUnsure   = "unsure"
)

// Tones.
const (
	ToneSincere = "sincere"
	ToneGentle  = "gentle"
	ToneFormal  = "formal"
	ToneCasual  = "casual"
)

var (
	ConflictTypes      = []string{ConflictLie, ConflictBrokenPromise, ConflictColdViolence, ConflictVerbalHurt, ConflictBoundaryIssue, ConflictForgetImportant, ConflictOther}
	RelationshipStages = []string{StageFlirting, StageDating, StageLivingTogether, StageLongDistance, StageEngaged, StageMarried, StageNearBreakup}
	Channels           = []string{ChannelText, ChannelPhone, ChannelInPerson, ChannelUnsure}
	Tones              = []string{ToneSincere, ToneGentle, ToneFormal, ToneCasual}
	ReplyTones         = []string{"accepting", "apologetic", "understanding", "giving-space"}
)

// CaseInput is one generation request. Values are never mutated after
// validation.
type CaseInput struct {
	ConflictType      string `json:"conflict_type"`
	ConflictDate      string `json:"conflict_date"`
	RelationshipStage string `json:"relationship_stage"`
	WhatIDid          string `json:"what_i_did"`
	PartnerFeelings   string `json:"partner_feelings"`
	MyAttitude        string `json:"my_attitude"`
	RedFlags          string `json:"red_flags,omitempty"`
	Channel           string `json:"channel"`
	Tone              string `json:"tone"`
}

// ValidationError reports which field violated which constraint.
type ValidationError struct {
	Field      string
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Constraint)
}

func fieldErr(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Constraint: fmt.Sprintf(format, args...)}
}

func oneOf(value string, allowed []string) bool {
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func checkNarrative(field, value string) *ValidationError {
	n := runeLen(value)
	if n < 20 {
		return fieldErr(field, "must be at least 20 characters, got %d", n)
	}
	if n > 5000 {
		return fieldErr(field, "must be at most 5000 characters, got %d", n)
	}
	return nil
}

// ValidateInput checks a CaseInput against its field constraints and applies
// the tone default. Violations here are input errors, not generation errors:
// the caller must reject the request before anything else runs.
func ValidateInput(in *CaseInput) error {
	if !oneOf(in.ConflictType, ConflictTypes) {
		return fieldErr("conflict_type", "must be one of %v", ConflictTypes)
	}
	if _, err := time.Parse(time.RFC3339, in.ConflictDate); err != nil {
		return fieldErr("conflict_date", "must be an RFC3339 timestamp")
	}
	if !oneOf(in.RelationshipStage, RelationshipStages) {
		return fieldErr("relationship_stage", "must be one of %v", RelationshipStages)
	}
	if err := checkNarrative("what_i_did", in.WhatIDid); err != nil {
		return err
	}
	if err := checkNarrative("partner_feelings", in.PartnerFeelings); err != nil {
		return err
	}
	if err := checkNarrative("my_attitude", in.MyAttitude); err != nil {
		return err
	}
	if runeLen(in.RedFlags) > 1000 {
		return fieldErr("red_flags", "must be at most 1000 characters")
	}
	if !oneOf(in.Channel, Channels) {
		return fieldErr("channel", "must be one of %v", Channels)
	}
	if in.Tone == "" {
		in.Tone = ToneSincere
	}
	if !oneOf(in.Tone, Tones) {
		return fieldErr("tone", "must be one of %v", Tones)
	}
	return nil
}

// ApologySMS carries the three apology variants.
type ApologySMS struct {
	Short  string `json:"short"`
	Medium string `json:"medium"`
	Long   string `json:"long"`
}

// OutlineStep is one step of a call or in-person outline.
type OutlineStep struct {
	Step    string `json:"step"`
	Content string `json:"content"`
	Tips    string `json:"tips,omitempty"`
}

// PossibleReply pairs an anticipated partner reaction with a suggested
// response.
type PossibleReply struct {
	FromPartner  string `json:"fromPartner"`
	MyResponse   string `json:"myResponse"`
	WhyThisWorks string `json:"whyThisWorks"`
	Tone         string `json:"tone"`
}

// RepairPlan is the structured artifact produced by generation.
type RepairPlan struct {
	ApologySMS            ApologySMS      `json:"apology_sms"`
	CallOutline           []OutlineStep   `json:"call_outline"`
	MeetOutline           []OutlineStep   `json:"meet_outline"`
	ActionPlan7d          []string        `json:"action_plan_7d"`
	ActionPlan30d         []string        `json:"action_plan_30d"`
	PossibleReplies       []PossibleReply `json:"possible_replies"`
	RedFlagsAvoid         []string        `json:"red_flags_avoid"`
	OneSentenceBottomLine string          `json:"one_sentence_bottom_line"`
	SafetyWarning         string          `json:"safety_warning,omitempty"`
	SelfReflection        []string        `json:"self_reflection,omitempty"`
}
