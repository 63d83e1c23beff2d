package safety

import (
	"strings"
	"testing"
)

func TestCheckCleanTextIsSafe(t *testing.T) {
	c := NewKeywordChecker()
	v := c.Check("我忘记了纪念日", "她很伤心", "我想真诚道歉")
	if !v.Safe {
		t.Fatalf("clean text blocked: %s", v.Reason)
	}
	if v.Advisory != "" {
		t.Fatalf("unexpected advisory: %s", v.Advisory)
	}
}

func TestCheckBlocksManipulation(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		reason string
	}{
		{"guilt induction", "我想让她内疚然后原谅我", "试图让对方产生负面情绪"},
		{"fake change", "我打算假装已经改变了", "建议假装改变而非真诚修复"},
		{"stalking", "我准备去她楼下一直等她出来", "可能构成跟踪或骚扰"},
		{"threats", "如果她不听我的我就威胁她", "包含威胁性语言"},
		{"deception", "先骗她一下等气消了再说", "建议撒谎或隐瞒"},
		{"cold revenge", "这几天先不理她作为惩罚", "建议冷暴力或报复"},
		{"making her beg", "我要让她后悔离开我", "试图操控或报复"},
	}
	c := NewKeywordChecker()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := c.Check(tc.text)
			if v.Safe {
				t.Fatal("expected block")
			}
			if !strings.Contains(v.Reason, tc.reason) {
				t.Fatalf("reason %q does not mention %q", v.Reason, tc.reason)
			}
			if v.Advisory != RejectionAdvisory {
				t.Fatalf("expected rejection advisory, got %q", v.Advisory)
			}
		})
	}
}

func TestCheckFirstBlockingRuleWins(t *testing.T) {
	c := NewKeywordChecker()
	// Matches both the guilt rule and the deception rule; the guilt rule is
	// listed first.
	v := c.Check("我想隐瞒真相让她难过")
	if v.Safe {
		t.Fatal("expected block")
	}
	if !strings.Contains(v.Reason, "试图让对方产生负面情绪") {
		t.Fatalf("expected first rule's reason, got %q", v.Reason)
	}
}

func TestCheckSelfHarmAdvisoryDoesNotBlock(t *testing.T) {
	c := NewKeywordChecker()
	v := c.Check("她说过要伤害自己，我非常担心她")
	if !v.Safe {
		t.Fatalf("advisory content should not block: %s", v.Reason)
	}
	if v.Advisory != SelfHarmAdvisory {
		t.Fatalf("expected self-harm advisory, got %q", v.Advisory)
	}
}

func TestCheckViolenceAdvisoryDoesNotBlock(t *testing.T) {
	c := NewKeywordChecker()
	v := c.Check("吵架的时候她动手打了我")
	if !v.Safe {
		t.Fatalf("advisory content should not block: %s", v.Reason)
	}
	if v.Advisory != ViolenceAdvisory {
		t.Fatalf("expected violence advisory, got %q", v.Advisory)
	}
}

func TestCheckSelfHarmAdvisoryTakesPrecedence(t *testing.T) {
	c := NewKeywordChecker()
	v := c.Check("她情绪崩溃说要自杀，之前还动手打过我")
	if !v.Safe {
		t.Fatalf("advisory content should not block: %s", v.Reason)
	}
	if v.Advisory != SelfHarmAdvisory {
		t.Fatalf("expected self-harm advisory to win, got %q", v.Advisory)
	}
}

func TestCheckScansAllTexts(t *testing.T) {
	c := NewKeywordChecker()
	v := c.Check("前两段都没问题", "这一段也没问题", "但我想让她害怕失去我")
	if v.Safe {
		t.Fatal("expected block from later text")
	}
}
