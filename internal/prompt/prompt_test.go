package prompt

import (
	"strings"
	"testing"

	"heartmend/internal/plan"
)

func sampleInput() plan.CaseInput {
	return plan.CaseInput{
		ConflictType:      plan.ConflictForgetImportant,
		ConflictDate:      "2026-08-20T10:00:00Z",
		RelationshipStage: plan.StageDating,
		WhatIDid:          "我忘记了我们的周年纪念日",
		PartnerFeelings:   "她觉得我根本不在乎这段关系",
		MyAttitude:        "我很后悔，想真诚地补救",
		Channel:           plan.ChannelText,
		Tone:              plan.ToneSincere,
	}
}

func TestBuildGenerationPromptIncludesLabels(t *testing.T) {
	got := BuildGenerationPrompt(sampleInput())
	for _, want := range []string{
		"忘记重要事项",
		"2026年8月20日",
		"恋爱中",
		"文字消息",
		"克制真诚",
		"我忘记了我们的周年纪念日",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestBuildGenerationPromptOmitsEmptyRedFlags(t *testing.T) {
	in := sampleInput()
	in.RedFlags = ""
	got := BuildGenerationPrompt(in)
	if strings.Contains(got, "雷点") {
		t.Fatal("red-flags section should be omitted when empty")
	}

	in.RedFlags = "不要提她的前任"
	got = BuildGenerationPrompt(in)
	if !strings.Contains(got, "雷点") || !strings.Contains(got, "不要提她的前任") {
		t.Fatal("red-flags section missing")
	}
}

func TestBuildGenerationPromptUnknownEnumFallsBack(t *testing.T) {
	in := sampleInput()
	in.ConflictType = "custom_type"
	got := BuildGenerationPrompt(in)
	if !strings.Contains(got, "custom_type") {
		t.Fatal("unknown enum value should pass through verbatim")
	}
}

func TestBuildRegenerationPromptEmbedsPriorPlan(t *testing.T) {
	prior := &plan.RepairPlan{
		ApologySMS:            plan.ApologySMS{Short: "真的对不起这次是我的错"},
		OneSentenceBottomLine: "我会用行动证明我真的在乎你",
	}
	got := BuildRegenerationPrompt(prior, "语气再柔和一点", plan.ToneGentle)
	if !strings.Contains(got, "真的对不起这次是我的错") {
		t.Fatal("prior plan not embedded")
	}
	if !strings.Contains(got, "语气再柔和一点") {
		t.Fatal("feedback not embedded")
	}
	if !strings.Contains(got, "更柔和温暖") {
		t.Fatal("tone label missing")
	}
}

func TestBuildRegenerationPromptOmitsToneWhenUnchanged(t *testing.T) {
	prior := &plan.RepairPlan{OneSentenceBottomLine: "我会用行动证明我真的在乎你"}
	got := BuildRegenerationPrompt(prior, "行动计划更具体一些", "")
	if strings.Contains(got, "新语气风格") {
		t.Fatal("tone section should be omitted when tone is empty")
	}
}

func TestFormatDateFallsBackOnBadInput(t *testing.T) {
	if got := formatDate("not-a-date"); got != "not-a-date" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
