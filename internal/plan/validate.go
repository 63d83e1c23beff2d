package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a payload that could not be decoded at all.
var ErrMalformed = errors.New("malformed payload")

// ParseAndValidate decodes raw provider output and checks every field-level
// bound in one pass. A payload violating any bound is rejected, never
// truncated or padded. It never retries; retry policy belongs to the caller.
func ParseAndValidate(raw string) (*RepairPlan, error) {
	raw = stripCodeFence(raw)
	var p RepairPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validatePlan(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// stripCodeFence removes a surrounding markdown code fence, which chat models
// add despite instructions to emit bare JSON.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func checkLen(field, value string, min, max int) *ValidationError {
	n := runeLen(value)
	if n < min {
		return fieldErr(field, "length %d below minimum %d", n, min)
	}
	if max > 0 && n > max {
		return fieldErr(field, "length %d above maximum %d", n, max)
	}
	return nil
}

func checkStringList(field string, items []string, minItems, maxItems, minLen int) *ValidationError {
	if len(items) < minItems {
		return fieldErr(field, "needs at least %d entries, got %d", minItems, len(items))
	}
	if len(items) > maxItems {
		return fieldErr(field, "allows at most %d entries, got %d", maxItems, len(items))
	}
	for i, item := range items {
		if err := checkLen(fmt.Sprintf("%s[%d]", field, i), item, minLen, 0); err != nil {
			return err
		}
	}
	return nil
}

func checkOutline(field string, steps []OutlineStep) *ValidationError {
	if len(steps) < 3 {
		return fieldErr(field, "needs at least 3 steps, got %d", len(steps))
	}
	if len(steps) > 10 {
		return fieldErr(field, "allows at most 10 steps, got %d", len(steps))
	}
	for i, s := range steps {
		if strings.TrimSpace(s.Step) == "" {
			return fieldErr(fmt.Sprintf("%s[%d].step", field, i), "must not be empty")
		}
		if strings.TrimSpace(s.Content) == "" {
			return fieldErr(fmt.Sprintf("%s[%d].content", field, i), "must not be empty")
		}
	}
	return nil
}

func validatePlan(p *RepairPlan) error {
	if err := checkLen("apology_sms.short", p.ApologySMS.Short, 10, 100); err != nil {
		return err
	}
	if err := checkLen("apology_sms.medium", p.ApologySMS.Medium, 30, 300); err != nil {
		return err
	}
	if err := checkLen("apology_sms.long", p.ApologySMS.Long, 100, 800); err != nil {
		return err
	}
	if err := checkOutline("call_outline", p.CallOutline); err != nil {
		return err
	}
	if err := checkOutline("meet_outline", p.MeetOutline); err != nil {
		return err
	}
	if err := checkStringList("action_plan_7d", p.ActionPlan7d, 3, 7, 10); err != nil {
		return err
	}
	if err := checkStringList("action_plan_30d", p.ActionPlan30d, 3, 10, 10); err != nil {
		return err
	}
	if len(p.PossibleReplies) < 2 {
		return fieldErr("possible_replies", "needs at least 2 entries, got %d", len(p.PossibleReplies))
	}
	if len(p.PossibleReplies) > 6 {
		return fieldErr("possible_replies", "allows at most 6 entries, got %d", len(p.PossibleReplies))
	}
	for i, r := range p.PossibleReplies {
		if err := checkLen(fmt.Sprintf("possible_replies[%d].fromPartner", i), r.FromPartner, 10, 0); err != nil {
			return err
		}
		if err := checkLen(fmt.Sprintf("possible_replies[%d].myResponse", i), r.MyResponse, 20, 0); err != nil {
			return err
		}
		if err := checkLen(fmt.Sprintf("possible_replies[%d].whyThisWorks", i), r.WhyThisWorks, 10, 0); err != nil {
			return err
		}
		if !oneOf(r.Tone, ReplyTones) {
			return fieldErr(fmt.Sprintf("possible_replies[%d].tone", i), "must be one of %v", ReplyTones)
		}
	}
	if err := checkStringList("red_flags_avoid", p.RedFlagsAvoid, 1, 10, 10); err != nil {
		return err
	}
	if err := checkLen("one_sentence_bottom_line", p.OneSentenceBottomLine, 20, 200); err != nil {
		return err
	}
	if p.SelfReflection != nil {
		if err := checkStringList("self_reflection", p.SelfReflection, 2, 5, 15); err != nil {
			return err
		}
	}
	return nil
}
