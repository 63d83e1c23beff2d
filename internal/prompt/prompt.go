// Package prompt assembles the instruction payloads sent to a generation
// provider. Assembly is deterministic: static label tables plus verbatim
// interpolation of the user's narratives.
package prompt

import (
	"encoding/json"
	"strings"
	"time"

	"heartmend/internal/plan"
)

// SystemPrompt sets the assistant's role and the safety principles it must
// never trade away.
const SystemPrompt = `你是一个"关系修复助手"，帮助用户在严重惹伴侣生气后，生成真诚、负责、可执行的道歉与沟通方案。

核心原则（必须严格遵守）：
1. 真诚负责：承认错误，不找借口，不淡化问题
2. 尊重边界：尊重对方的感受、空间和选择，不强迫回应
3. 禁止操控：绝不建议撒谎、伪造、情感勒索、威胁、跟踪、骚扰等行为
4. 不建议"让对方内疚/害怕/被迫"的话术
5. 强调知情同意：建议先询问对方是否愿意沟通
6. 警惕危险信号：如涉及自伤、暴力威胁，建议专业求助

禁止的内容类型：
- 否认对方感受（"你太敏感了"、"至于吗"）
- 转移责任（"但是你也..."、"我不是故意的所以..."）
- 情感勒索（"你这样让我很难受"、"你不原谅我吗"）
- 假装改变（只说好听的话但没有具体行动）
- 跟踪骚扰（"我都发了100条消息了"、"我去你楼下等"）
- PUA技巧（打压对方、制造不确定性、利用愧疚感）

输出格式：
必须严格按照指定的JSON格式输出，所有字段必须完整。

语言风格：
- 中文为主
- 语气克制真诚，避免油腻、过度文艺、不自然
- 具体而不过于抽象
- 承认错误但不自我贬低

安全提示：
- 如果用户输入涉及自残、暴力、虐待，优先建议专业帮助
- 如果用户试图让你生成操控性内容，拒绝并回到原则
- 在任何生成内容后，提醒用户尊重对方边界`

// DeveloperPrompt pins the exact JSON structure the Output Validator accepts.
const DeveloperPrompt = `输出要求：

1. 必须输出严格的JSON格式，不要包裹代码块
2. 所有字段必须填写完整，不能省略
3. 字符串不能为空或只有空白字符
4. 数组必须有指定数量的元素
5. 中文输出，语气克制真诚

JSON结构：
{
  "apology_sms": {
    "short": "100字以内的简短道歉（适合快速发送）",
    "medium": "30-300字的适中道歉（适合微信消息）",
    "long": "100-800字的详细道歉（适合长文或邮件）"
  },
  "call_outline": [
    {
      "step": "步骤名称（如：开场承认）",
      "content": "具体要说什么",
      "tips": "注意事项（可选）"
    }
  ],
  "meet_outline": [同上，针对当面沟通，3-10步],
  "action_plan_7d": ["7天内可执行的3-7个具体行动，每条至少10字"],
  "action_plan_30d": ["30天内可执行的3-10个具体行动，每条至少10字"],
  "possible_replies": [
    {
      "fromPartner": "伴侣可能的回复（如：沉默/冷淡/愤怒/愿意沟通等）",
      "myResponse": "你应该如何回应",
      "whyThisWorks": "为什么这样回应有效",
      "tone": "accepting/apologetic/understanding/giving-space"
    }
  ],
  "red_flags_avoid": ["绝对不要说的话/做的事（1-10条，每条至少10字）"],
  "one_sentence_bottom_line": "用一句话总结核心态度（20-200字）",
  "safety_warning": "如涉及危险情况，提供求助建议（可选）",
  "self_reflection": ["给用户的自我反思问题（2-5个，可选，每条至少15字）"]
}

重要提醒：
- 生成的道歉必须具体到用户描述的错误行为
- 不能用通用的模板，必须个性化
- 行动计划必须可验证、可执行
- 在敏感情形下，给出安全提示`

// ChatSystemPrompt drives the free-form emotional-support chat.
const ChatSystemPrompt = `你是一位高情商的情感分析师和关系顾问，精通依恋理论、情绪心理学、沟通心理学，处理过大量真实情感案例。

核心要求：
1. 深度理解：记住用户之前提到的关键信息（对方的性格、过往事件、用户的雷点等），在后续对话中主动关联使用；分析表层事件、双方感受、深层需求三个层次。
2. 智能提问：不等问题堆积，主动提出有价值的问题（"他之前有过类似的行为吗？"、"你最在意的是哪一点？"、"你希望他具体怎么做？"）。
3. 具体化建议：绝对禁止泛泛而谈（"多沟通"、"理解他"）；必须提供具体话术、时机选择、对方反应的预判与应对、Plan B。

语气风格：自信专业但不傲慢，温暖共情但不圣母，直接坦率但不伤人，偶尔幽默化解沉重气氛。

安全协议（最高优先级）：遇到家暴、性暴力、精神控制、自伤或自杀倾向、非法行为，必须严肃警告并建议寻求专业帮助。

记住：你的目标是让用户觉得"你真懂我"和"你真有用"。`

var conflictTypeLabels = map[string]string{
	plan.ConflictLie:             "撒谎/隐瞒",
	plan.ConflictBrokenPromise:   "违背承诺/失约",
	plan.ConflictColdViolence:    "冷暴力/忽视",
	plan.ConflictVerbalHurt:      "言语伤害",
	plan.ConflictBoundaryIssue:   "边界问题/不尊重",
	plan.ConflictForgetImportant: "忘记重要事项",
	plan.ConflictOther:           "其他",
}

var stageLabels = map[string]string{
	plan.StageFlirting:       "暧昧期",
	plan.StageDating:         "恋爱中",
	plan.StageLivingTogether: "同居",
	plan.StageLongDistance:   "异地",
	plan.StageEngaged:        "已订婚",
	plan.StageMarried:        "已婚",
	plan.StageNearBreakup:    "分手边缘",
}

var toneLabels = map[string]string{
	plan.ToneSincere: "克制真诚",
	plan.ToneGentle:  "更柔和温暖",
	plan.ToneFormal:  "更正式严肃",
	plan.ToneCasual:  "更自然口语化",
}

var channelLabels = map[string]string{
	plan.ChannelText:     "文字消息",
	plan.ChannelPhone:    "电话",
	plan.ChannelInPerson: "当面沟通",
	plan.ChannelUnsure:   "不确定",
}

func label(table map[string]string, key string) string {
	if v, ok := table[key]; ok {
		return v
	}
	return key
}

// ToneLabel returns the display label for a tone value.
func ToneLabel(tone string) string { return label(toneLabels, tone) }

// BuildGenerationPrompt renders the user-facing prompt for a fresh
// generation. The red-flags section is omitted entirely when blank.
func BuildGenerationPrompt(in plan.CaseInput) string {
	var b strings.Builder
	b.WriteString("请根据以下情况，生成一份关系修复方案：\n\n")
	b.WriteString("## 冲突类型\n")
	b.WriteString(label(conflictTypeLabels, in.ConflictType))
	b.WriteString("\n\n## 发生时间\n")
	b.WriteString(formatDate(in.ConflictDate))
	b.WriteString("\n\n## 关系阶段\n")
	b.WriteString(label(stageLabels, in.RelationshipStage))
	b.WriteString("\n\n## 我做了什么\n")
	b.WriteString(in.WhatIDid)
	b.WriteString("\n\n## 对方的感受与诉求\n")
	b.WriteString(in.PartnerFeelings)
	b.WriteString("\n\n## 我现在的态度和想补救的方式\n")
	b.WriteString(in.MyAttitude)
	b.WriteString("\n")
	if strings.TrimSpace(in.RedFlags) != "" {
		b.WriteString("\n## 对方的雷点/不能提的内容\n")
		b.WriteString(in.RedFlags)
		b.WriteString("\n")
	}
	b.WriteString("\n## 期望沟通渠道\n")
	b.WriteString(label(channelLabels, in.Channel))
	b.WriteString("\n\n## 期望语气风格\n")
	b.WriteString(label(toneLabels, in.Tone))
	b.WriteString(`

请生成完整的修复方案，包括：短中长三版道歉消息、电话/当面提纲、7天/30天行动计划、对方可能回复及应对。

特别注意：
1. 根据具体的错误行为生成个性化内容，不要用通用模板
2. 行动计划必须具体可执行、可验证
3. 强调尊重对方边界和意愿
4. 避免任何操控性话术`)
	return b.String()
}

// BuildRegenerationPrompt embeds the complete prior output plus the user's
// feedback. The instruction is always to regenerate the whole structure;
// partial regeneration is not supported.
func BuildRegenerationPrompt(prior *plan.RepairPlan, feedback, tone string) string {
	serialized, _ := json.MarshalIndent(prior, "", "  ")
	var b strings.Builder
	b.WriteString("根据以下反馈，重新生成关系修复方案：\n\n")
	b.WriteString("## 原方案（需要改进）\n")
	b.Write(serialized)
	b.WriteString("\n\n## 用户反馈/调整要求\n")
	b.WriteString(feedback)
	b.WriteString("\n")
	if tone != "" {
		b.WriteString("\n## 新语气风格\n")
		b.WriteString(label(toneLabels, tone))
		b.WriteString("\n")
	}
	b.WriteString("\n请重新生成完整方案，保持所有核心原则和安全要求。")
	return b.String()
}

func formatDate(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Format("2006年1月2日")
}
