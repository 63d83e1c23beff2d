package generate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartmend/internal/plan"
	"heartmend/internal/provider"
)

// scriptedProvider returns canned responses in order and counts calls.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
	temps     []float64
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	i := p.calls
	p.calls++
	p.temps = append(p.temps, temperature)
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []provider.Message, temperature float64, onChunk func(string)) error {
	return errors.New("not scripted")
}

func validPlanJSON(t *testing.T) string {
	t.Helper()
	step := plan.OutlineStep{Step: "开场承认", Content: "先承认错误并表达真诚的歉意"}
	reply := plan.PossibleReply{
		FromPartner:  "她可能会保持沉默不回复消息",
		MyResponse:   "我理解你现在不想说话，我会给你空间，等你愿意的时候我随时都在",
		WhyThisWorks: "尊重对方的情绪节奏而不施压",
		Tone:         "giving-space",
	}
	p := plan.RepairPlan{
		ApologySMS: plan.ApologySMS{
			Short:  strings.Repeat("真的对不起", 3),
			Medium: strings.Repeat("我知道我错了，真的很抱歉。", 3),
			Long:   strings.Repeat("我想认真地向你道歉，这件事是我的错。", 6),
		},
		CallOutline:   []plan.OutlineStep{step, step, step},
		MeetOutline:   []plan.OutlineStep{step, step, step},
		ActionPlan7d:  []string{"每天主动发一条真诚的问候消息", "把纪念日写进手机日历并设提醒", "本周安排一次她喜欢的晚餐"},
		ActionPlan30d: []string{"每周留出固定的二人时间不受打扰", "重要日期提前一周准备惊喜", "每月复盘一次我们的相处模式"},
		PossibleReplies: []plan.PossibleReply{reply, {
			FromPartner:  "她可能会生气地质问我为什么总是这样",
			MyResponse:   "你说得对，我之前确实忽略了你的感受，我没有任何借口",
			WhyThisWorks: "不辩解直接承认错误能降低对抗",
			Tone:         "apologetic",
		}},
		RedFlagsAvoid:         []string{"不要说你太敏感了这种否认感受的话"},
		OneSentenceBottomLine: "我会用持续的行动而不是语言来证明我是真的在乎你",
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return string(data)
}

func testInput() plan.CaseInput {
	return plan.CaseInput{
		ConflictType:      plan.ConflictForgetImportant,
		ConflictDate:      "2026-08-20T10:00:00Z",
		RelationshipStage: plan.StageDating,
		WhatIDid:          "我忘记了我们的周年纪念日，之后也没有及时道歉",
		PartnerFeelings:   "她觉得我根本不在乎这段关系了",
		MyAttitude:        "我非常后悔，想真诚地道歉补救",
		Channel:           plan.ChannelText,
		Tone:              plan.ToneSincere,
	}
}

func testConfig(p provider.Provider) Config {
	return Config{Provider: p, MaxRetries: 2, AttemptTimeout: time.Second, Temperature: 0.7}
}

func TestGenerateSucceedsFirstAttempt(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	o := New()
	out := o.Generate(context.Background(), testInput(), testConfig(p))
	require.Equal(t, Succeeded, out.Kind)
	require.NotNil(t, out.Plan)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, out.Advisory)
	assert.Empty(t, out.Reason)
}

func TestGeneratePassesTemperatureThrough(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	cfg := testConfig(p)
	cfg.Temperature = 0 // deterministic sampling is a valid choice
	out := New().Generate(context.Background(), testInput(), cfg)
	require.Equal(t, Succeeded, out.Kind)
	assert.Equal(t, []float64{0}, p.temps)
}

func TestGenerateRejectsUnsafeInputWithoutProviderCall(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	in := testInput()
	in.MyAttitude = "我想让她内疚这样她就会主动找我和好"
	o := New()
	out := o.Generate(context.Background(), in, testConfig(p))
	require.Equal(t, Rejected, out.Kind)
	assert.Zero(t, p.calls, "safety rejection must not reach the provider")
	assert.Contains(t, out.Reason, "不当意图")
	assert.Nil(t, out.Plan)
}

func TestGenerateCarriesAdvisoryOnSuccess(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	in := testInput()
	in.PartnerFeelings = "她情绪崩溃，说过想要伤害自己，我很担心她"
	o := New()
	out := o.Generate(context.Background(), in, testConfig(p))
	require.Equal(t, Succeeded, out.Kind)
	assert.NotEmpty(t, out.Advisory)
}

func TestGenerateRetriesAfterInvalidOutput(t *testing.T) {
	p := &scriptedProvider{responses: []string{"这不是JSON", validPlanJSON(t)}}
	o := New()
	out := o.Generate(context.Background(), testInput(), testConfig(p))
	require.Equal(t, Succeeded, out.Kind)
	assert.Equal(t, 2, p.calls)
}

func TestGenerateFailsAfterBudgetExhausted(t *testing.T) {
	p := &scriptedProvider{responses: []string{"{}", "{}", "{}", "{}"}}
	o := New()
	out := o.Generate(context.Background(), testInput(), testConfig(p))
	require.Equal(t, Failed, out.Kind)
	assert.Equal(t, 2, p.calls, "attempts must stop at the retry budget")
	assert.NotEmpty(t, out.Reason)
	assert.Nil(t, out.Plan)
}

func TestGenerateProviderErrorsShareBudget(t *testing.T) {
	p := &scriptedProvider{
		errs:      []error{errors.New("upstream 500"), nil},
		responses: []string{"", validPlanJSON(t)},
	}
	o := New()
	out := o.Generate(context.Background(), testInput(), testConfig(p))
	require.Equal(t, Succeeded, out.Kind)
	assert.Equal(t, 2, p.calls)
}

func TestRegenerateChecksFeedbackSafety(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	o := New()
	prior := &plan.RepairPlan{OneSentenceBottomLine: "我会用行动证明我真的在乎你"}
	out := o.Regenerate(context.Background(), prior, "改成能让她害怕失去我的语气", plan.ToneGentle, testConfig(p))
	require.Equal(t, Rejected, out.Kind)
	assert.Zero(t, p.calls)
}

func TestRegenerateSucceeds(t *testing.T) {
	p := &scriptedProvider{responses: []string{validPlanJSON(t)}}
	o := New()
	prior := &plan.RepairPlan{OneSentenceBottomLine: "我会用行动证明我真的在乎你"}
	out := o.Regenerate(context.Background(), prior, "语气再柔和一点", plan.ToneGentle, testConfig(p))
	require.Equal(t, Succeeded, out.Kind)
	assert.Equal(t, 1, p.calls)
}
