// Package safety classifies user-supplied text before any generation happens.
// The keyword approach is deliberately coarse; Checker is an interface so a
// stronger classifier can be swapped in without touching the orchestrator.
package safety

import (
	"regexp"
	"strings"
)

// Verdict is the result of a safety check. An unsafe verdict carries a
// human-readable reason; a safe verdict may still carry a non-blocking
// advisory.
type Verdict struct {
	Safe     bool
	Reason   string
	Advisory string
}

// Checker classifies free text. Implementations must be pure: no side
// effects, no external calls.
type Checker interface {
	Check(texts ...string) Verdict
}

type blockRule struct {
	pattern *regexp.Regexp
	reason  string
}

type advisoryRule struct {
	terms    []string
	advisory string
}

// KeywordChecker is the default Checker: ordered regex rules over the
// concatenated lowercase text. The first matching blocking rule wins;
// advisory rules are only consulted when no blocking rule matched, and the
// first matching advisory wins.
type KeywordChecker struct {
	blocks     []blockRule
	advisories []advisoryRule
}

// RejectionAdvisory accompanies every blocked verdict.
const RejectionAdvisory = "本工具旨在帮助真诚道歉，不支持操控性或伤害性行为。"

// SelfHarmAdvisory is attached when self-harm content is present but
// generation proceeds.
const SelfHarmAdvisory = `重要提醒：如果涉及自残倾向，请优先寻求专业帮助。

中国大陆心理援助热线：
- 北京心理援助热线：010-82951332
- 上海心理援助热线：021-12320-5
- 广州心理援助热线：020-81899120

或其他当地专业心理服务。

本工具生成的建议不能替代专业心理或医疗帮助。`

// ViolenceAdvisory is attached when violence or abuse content is present but
// generation proceeds.
const ViolenceAdvisory = `重要提醒：如果涉及家庭暴力或威胁，请优先确保安全。

紧急求助：
- 报警：110
- 妇女维权公益服务热线：12338

安全建议：
- 信任自己的直觉
- 准备安全计划
- 寻求专业机构帮助

道歉和沟通不能替代安全保护。`

// NewKeywordChecker builds the default rule set. Rule order is part of the
// contract: the first match determines the rejection reason.
func NewKeywordChecker() *KeywordChecker {
	return &KeywordChecker{
		blocks: []blockRule{
			{regexp.MustCompile(`让.*内疚|让.*难过|让.*害怕`), "试图让对方产生负面情绪"},
			{regexp.MustCompile(`假装.*改变|装.*好`), "建议假装改变而非真诚修复"},
			{regexp.MustCompile(`堵.*门口|去.*楼下|一直.*等`), "可能构成跟踪或骚扰"},
			{regexp.MustCompile(`威胁|恐吓|不听.*就`), "包含威胁性语言"},
			{regexp.MustCompile(`骗.*一下|隐瞒|不说.*实话`), "建议撒谎或隐瞒"},
			{regexp.MustCompile(`冷.*她|不理她|惩罚`), "建议冷暴力或报复"},
			{regexp.MustCompile(`让她.*求.*我|让她.*后悔`), "试图操控或报复"},
		},
		advisories: []advisoryRule{
			{[]string{"自残", "自杀", "伤害自己"}, SelfHarmAdvisory},
			{[]string{"暴力", "打", "威胁"}, ViolenceAdvisory},
		},
	}
}

// Check concatenates the given texts into one lowercase scan buffer and
// evaluates the rules in order.
func (c *KeywordChecker) Check(texts ...string) Verdict {
	buf := strings.ToLower(strings.Join(texts, " "))

	for _, rule := range c.blocks {
		if rule.pattern.MatchString(buf) {
			return Verdict{
				Safe:     false,
				Reason:   "输入内容包含不当意图：" + rule.reason,
				Advisory: RejectionAdvisory,
			}
		}
	}

	for _, rule := range c.advisories {
		for _, term := range rule.terms {
			if strings.Contains(buf, term) {
				return Verdict{Safe: true, Advisory: rule.advisory}
			}
		}
	}

	return Verdict{Safe: true}
}
