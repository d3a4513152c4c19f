// Package discussion implements DiscussionOrchestrator (spec.md §4.11): a
// fixed three-round cross-provider dialog with a synthesis pass, grounded
// on the teacher's BroadcastCoordinator fan-out
// (agent/collaboration/multi_agent.go) for the per-round parallel call and
// on the bounded-iteration reasoning loop shape of
// agent/deliberation.Engine.Deliberate, adapted from a single-agent
// iterate-until-confident loop to a fixed three-round, multi-provider
// transcript build-up.
package discussion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/internal/store"
	"github.com/BaSui01/agentflow/types"
)

// DefaultMaxRounds is the fixed round count of spec.md §4.11.
const DefaultMaxRounds = 3

// ProviderCaller invokes one provider with a prompt built for the current
// round, bounded by the per-provider timeout.
type ProviderCaller func(ctx context.Context, provider, prompt string) (string, error)

// StatusBroadcastFunc fires on every session status transition.
type StatusBroadcastFunc func(session *types.DiscussionSession, event string)

// Orchestrator runs discussion sessions to completion.
type Orchestrator struct {
	store  *store.Store
	call   ProviderCaller
	logger *zap.Logger

	mu        sync.Mutex
	broadcast StatusBroadcastFunc
}

// New creates an Orchestrator. call performs the actual LLM invocation;
// Orchestrator only owns prompt construction, fan-out, and persistence.
func New(s *store.Store, call ProviderCaller, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: s, call: call, logger: logger}
}

// OnStatusChange registers the broadcast callback used at every transition.
func (o *Orchestrator) OnStatusChange(fn StatusBroadcastFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast = fn
}

func (o *Orchestrator) notify(sess *types.DiscussionSession, event string) {
	o.mu.Lock()
	fn := o.broadcast
	o.mu.Unlock()
	if fn != nil {
		fn(sess, event)
	}
}

// Start creates a new session and runs all three rounds plus the summary
// synthesis to completion (or failure/cancellation).
func (o *Orchestrator) Start(ctx context.Context, topic string, providers []string, cfg types.DiscussionConfig) (*types.DiscussionSession, error) {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.MinProviders <= 0 {
		cfg.MinProviders = 1
	}
	if cfg.SummaryProvider == "" && len(providers) > 0 {
		cfg.SummaryProvider = providers[0]
	}

	now := time.Now()
	sess := &types.DiscussionSession{
		ID: uuid.NewString(), Topic: topic, Providers: providers,
		CurrentRound: 0, Status: types.DiscussionPending, Config: cfg,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create discussion session: %w", err)
	}
	o.notify(sess, types.EventDiscussionStarted)

	o.run(ctx, sess)
	return sess, nil
}

// Continue starts a fresh session linked to a completed parent, carrying a
// condensed transcript (topic + summary + up to three round-3 proposals)
// forward as context, per spec.md §4.11.
func (o *Orchestrator) Continue(ctx context.Context, parentID, followupTopic, extraContext string, providersOverride []string) (*types.DiscussionSession, error) {
	parent, err := o.store.GetSession(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load parent session: %w", err)
	}

	round3, err := o.store.GetMessages(ctx, store.MessageFilter{SessionID: parentID, Round: intPtr(3), Role: string(roleForRound(3))})
	if err != nil {
		return nil, fmt.Errorf("load parent round 3: %w", err)
	}
	if len(round3) > 3 {
		round3 = round3[:3]
	}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Previous topic: %s\n", parent.Topic)
	fmt.Fprintf(&transcript, "Previous summary: %s\n", parent.Summary)
	for _, m := range round3 {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Provider, m.Content)
	}
	if extraContext != "" {
		fmt.Fprintf(&transcript, "Additional context: %s\n", extraContext)
	}

	providers := providersOverride
	if len(providers) == 0 {
		providers = parent.Providers
	}

	cfg := parent.Config
	cfg.RoundTimeoutS = cfg.RoundTimeoutS / 2
	if cfg.RoundTimeoutS <= 0 {
		cfg.RoundTimeoutS = 30
	}

	now := time.Now()
	sess := &types.DiscussionSession{
		ID: uuid.NewString(), Topic: followupTopic, Providers: providers,
		ParentSessionID: parentID, Status: types.DiscussionPending, Config: cfg,
		Metadata:  map[string]any{"continuation_context": transcript.String()},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create continuation session: %w", err)
	}
	o.notify(sess, types.EventDiscussionStarted)

	o.run(ctx, sess)
	return sess, nil
}

func intPtr(n int) *int { return &n }

// run drives a session through its three rounds and the summary pass,
// persisting status transitions at every boundary.
func (o *Orchestrator) run(ctx context.Context, sess *types.DiscussionSession) {
	for round := 1; round <= sess.Config.MaxRounds; round++ {
		if ctx.Err() != nil {
			o.transition(ctx, sess, types.DiscussionCancelled, round-1, "")
			return
		}

		o.transition(ctx, sess, roundStatus(round), round, "")
		o.notify(sess, types.EventDiscussionRoundStarted)

		succeeded := o.runRound(ctx, sess, round)
		o.notify(sess, types.EventDiscussionRoundCompleted)

		if round == 1 && succeeded < sess.Config.MinProviders {
			o.transition(ctx, sess, types.DiscussionFailed, round, "")
			o.notify(sess, types.EventDiscussionFailed)
			return
		}
	}

	o.summarize(ctx, sess)
}

func roundStatus(round int) types.DiscussionStatus {
	switch round {
	case 1:
		return types.DiscussionRound1
	case 2:
		return types.DiscussionRound2
	default:
		return types.DiscussionRound3
	}
}

// runRound fans the round's prompt out to every provider in parallel and
// returns the count of providers that succeeded.
func (o *Orchestrator) runRound(ctx context.Context, sess *types.DiscussionSession, round int) int {
	prompt := o.buildPrompt(ctx, sess, round)
	role := roleForRound(round)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for _, provider := range sess.Providers {
		wg.Add(1)
		go func(provider string) {
			defer wg.Done()
			o.notify(sess, types.EventDiscussionProviderStarted)

			roundCtx := ctx
			var cancel context.CancelFunc
			if sess.Config.ProviderTimeoutS > 0 {
				roundCtx, cancel = context.WithTimeout(ctx, time.Duration(sess.Config.ProviderTimeoutS*float64(time.Second)))
				defer cancel()
			}

			start := time.Now()
			content, err := o.call(roundCtx, provider, prompt)
			latency := time.Since(start).Milliseconds()

			msg := &types.DiscussionMessage{
				ID: uuid.NewString(), SessionID: sess.ID, Round: round, Provider: provider,
				Role: role, Content: content, LatencyMs: latency, CreatedAt: time.Now(),
			}
			switch {
			case err != nil && roundCtx.Err() != nil:
				msg.Status = types.MessageTimeout
			case err != nil:
				msg.Status = types.MessageFailed
			default:
				msg.Status = types.MessageCompleted
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			if o.logger != nil && err != nil {
				o.logger.Warn("discussion provider failed", zap.String("provider", provider), zap.Int("round", round), zap.Error(err))
			}
			if cerr := o.store.CreateMessage(ctx, msg); cerr != nil && o.logger != nil {
				o.logger.Warn("failed to persist discussion message", zap.Error(cerr))
			}
			o.notify(sess, types.EventDiscussionProviderDone)
		}(provider)
	}
	wg.Wait()
	return succeeded
}

func roleForRound(round int) types.DiscussionMessageRole {
	switch round {
	case 1:
		return types.RoleProposal
	case 2:
		return types.RoleReview
	default:
		return types.RoleRevision
	}
}

// buildPrompt assembles each round's prompt from the topic and the
// already-recorded transcript: round 1 sees only the topic, round 2 sees
// round-1 proposals, round 3 sees proposals plus reviews.
func (o *Orchestrator) buildPrompt(ctx context.Context, sess *types.DiscussionSession, round int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", sess.Topic)
	if ctxStr, ok := sess.Metadata["continuation_context"].(string); ok && ctxStr != "" {
		fmt.Fprintf(&b, "%s\n", ctxStr)
	}

	if round >= 2 {
		proposals, _ := o.store.GetMessages(ctx, store.MessageFilter{SessionID: sess.ID, Round: intPtr(1)})
		b.WriteString("Round 1 proposals:\n")
		for _, m := range proposals {
			if m.Status == types.MessageCompleted {
				fmt.Fprintf(&b, "[%s] %s\n", m.Provider, m.Content)
			}
		}
	}
	if round >= 3 {
		reviews, _ := o.store.GetMessages(ctx, store.MessageFilter{SessionID: sess.ID, Round: intPtr(2)})
		b.WriteString("Round 2 reviews:\n")
		for _, m := range reviews {
			if m.Status == types.MessageCompleted {
				fmt.Fprintf(&b, "[%s] %s\n", m.Provider, m.Content)
			}
		}
	}
	return b.String()
}

// summarize invokes the configured summary provider over the full
// transcript and stores the result as both the session summary and a
// round=0 Summary message.
func (o *Orchestrator) summarize(ctx context.Context, sess *types.DiscussionSession) {
	o.transition(ctx, sess, types.DiscussionSummarizing, sess.Config.MaxRounds, "")
	o.notify(sess, types.EventDiscussionSummarizing)

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Topic: %s\n", sess.Topic)
	for round := 1; round <= sess.Config.MaxRounds; round++ {
		msgs, _ := o.store.GetMessages(ctx, store.MessageFilter{SessionID: sess.ID, Round: intPtr(round)})
		for _, m := range msgs {
			if m.Status == types.MessageCompleted {
				fmt.Fprintf(&transcript, "[round %d][%s] %s\n", round, m.Provider, m.Content)
			}
		}
	}
	transcript.WriteString("Synthesize the above into a single coherent final answer.")

	summary, err := o.call(ctx, sess.Config.SummaryProvider, transcript.String())
	if err != nil {
		o.transition(ctx, sess, types.DiscussionFailed, sess.Config.MaxRounds, "")
		o.notify(sess, types.EventDiscussionFailed)
		return
	}

	summaryMsg := &types.DiscussionMessage{
		ID: uuid.NewString(), SessionID: sess.ID, Round: 0, Provider: sess.Config.SummaryProvider,
		Role: types.RoleSummary, Content: summary, Status: types.MessageCompleted, CreatedAt: time.Now(),
	}
	if err := o.store.CreateMessage(ctx, summaryMsg); err != nil && o.logger != nil {
		o.logger.Warn("failed to persist discussion summary", zap.Error(err))
	}

	o.notify(sess, types.EventDiscussionSummaryCompleted)
	o.transition(ctx, sess, types.DiscussionCompleted, sess.Config.MaxRounds, summary)
	o.notify(sess, types.EventDiscussionCompleted)
}

func (o *Orchestrator) transition(ctx context.Context, sess *types.DiscussionSession, status types.DiscussionStatus, round int, summary string) {
	sess.Status = status
	sess.CurrentRound = round
	sess.UpdatedAt = time.Now()
	if summary != "" {
		sess.Summary = summary
	}
	if err := o.store.UpdateSession(ctx, sess.ID, status, round, summary, sess.Metadata); err != nil && o.logger != nil {
		o.logger.Warn("failed to persist discussion session transition", zap.Error(err))
	}
}
