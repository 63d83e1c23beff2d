// Package generate runs the generation lifecycle: safety gate, prompt
// construction, provider call with bounded retries, output validation. It
// never touches storage; persisting the result belongs to the caller.
package generate

import (
	"context"
	"fmt"
	"log"
	"time"

	"heartmend/internal/plan"
	"heartmend/internal/prompt"
	"heartmend/internal/provider"
	"heartmend/internal/safety"
)

// OutcomeKind tags a finished generation.
type OutcomeKind string

const (
	// Succeeded carries a complete validated plan.
	Succeeded OutcomeKind = "succeeded"
	// Rejected means the safety filter blocked the request before any
	// provider call.
	Rejected OutcomeKind = "rejected"
	// Failed means the provider or the output validation kept failing
	// within the retry budget.
	Failed OutcomeKind = "failed"
)

// Outcome is the tagged result of one generation request. Plan is set only
// when Kind is Succeeded; Reason only otherwise. Callers never observe a
// partially populated plan.
type Outcome struct {
	Kind     OutcomeKind
	Plan     *plan.RepairPlan
	Reason   string
	Advisory string
}

// Config bounds one generation request. Temperature is passed through as
// given; 0 is a valid setting, so the caller resolves its own default.
type Config struct {
	Provider       provider.Provider
	MaxRetries     int
	AttemptTimeout time.Duration
	Temperature    float64
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = 2
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	return c
}

// Orchestrator drives the safety-check / generate / validate state machine.
type Orchestrator struct {
	Safety safety.Checker
	Logger *log.Logger
}

// New returns an Orchestrator with the default keyword safety checker.
func New() Orchestrator {
	return Orchestrator{Safety: safety.NewKeywordChecker()}
}

func (o Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Generate produces a repair plan for validated case input. The safety
// filter strictly precedes any provider call; an unsafe verdict is terminal
// and costs no attempts.
func (o Orchestrator) Generate(ctx context.Context, input plan.CaseInput, cfg Config) Outcome {
	verdict := o.Safety.Check(input.WhatIDid, input.PartnerFeelings, input.MyAttitude, input.RedFlags)
	if !verdict.Safe {
		return Outcome{Kind: Rejected, Reason: verdict.Reason, Advisory: verdict.Advisory}
	}
	userPrompt := prompt.BuildGenerationPrompt(input)
	return o.run(ctx, userPrompt, verdict.Advisory, cfg)
}

// Regenerate reruns generation against a prior plan plus user feedback. The
// feedback is user-supplied free text and passes the same safety filter.
func (o Orchestrator) Regenerate(ctx context.Context, prior *plan.RepairPlan, feedback, tone string, cfg Config) Outcome {
	verdict := o.Safety.Check(feedback)
	if !verdict.Safe {
		return Outcome{Kind: Rejected, Reason: verdict.Reason, Advisory: verdict.Advisory}
	}
	userPrompt := prompt.BuildRegenerationPrompt(prior, feedback, tone)
	return o.run(ctx, userPrompt, verdict.Advisory, cfg)
}

// run executes the attempt loop. Provider errors and validation failures
// draw from the same retry budget; retries resend the identical prompt.
func (o Orchestrator) run(ctx context.Context, userPrompt, advisory string, cfg Config) Outcome {
	cfg = cfg.withDefaults()
	systemPrompt := prompt.SystemPrompt + "\n\n" + prompt.DeveloperPrompt

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		raw, err := o.invoke(ctx, userPrompt, systemPrompt, cfg)
		if err != nil {
			lastErr = err
			o.logf("generation attempt %d/%d: provider error: %v", attempt, cfg.MaxRetries, err)
			continue
		}
		p, err := plan.ParseAndValidate(raw)
		if err != nil {
			lastErr = err
			o.logf("generation attempt %d/%d: invalid output: %v", attempt, cfg.MaxRetries, err)
			continue
		}
		return Outcome{Kind: Succeeded, Plan: p, Advisory: advisory}
	}

	reason := "生成失败：输出格式不符合要求。"
	if lastErr != nil {
		reason = fmt.Sprintf("%s%v", reason, lastErr)
	}
	return Outcome{Kind: Failed, Reason: reason, Advisory: advisory}
}

func (o Orchestrator) invoke(ctx context.Context, userPrompt, systemPrompt string, cfg Config) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()
	return cfg.Provider.Invoke(attemptCtx, systemPrompt, userPrompt, cfg.Temperature)
}
