// Package chatpolicy decides whether a chat request may proceed under the
// usage policies that apply to it.
package chatpolicy

import (
	"context"
	"fmt"
	"unicode/utf8"

	"chatgate/internal/engine/policies"
	"chatgate/internal/engine/usage"
	"chatgate/internal/pkg/logger"
	"chatgate/internal/pkg/metrics"
	"github.com/rs/zerolog"
)

// FeatureFlag gates all policy enforcement. Only an explicit false disables it.
const FeatureFlag = "enterprise_usage_policies"

const (
	CodeProviderNotAllowed = "policy_provider_not_allowed"
	CodeModelNotAllowed    = "policy_model_not_allowed"
	CodePromptTooLong      = "policy_prompt_too_long"
	CodeDailyChatLimit     = "policy_daily_chat_limit"
	CodeDailyTokenLimit    = "policy_daily_token_limit"
)

type MembershipStore interface {
	TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

type FlagStore interface {
	FeatureFlags(ctx context.Context) (map[string]bool, error)
}

// PolicyResolver resolves the effective rules for a context.
type PolicyResolver interface {
	Resolve(ctx context.Context, userID, workspaceID int64, teamIDs []int64) policies.EffectiveSet
}

// QuotaReader reads today's usage. Implementations absorb store failures.
type QuotaReader interface {
	ChatCount(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64
	TotalTokens(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64
}

type Actor struct {
	UserID int64
}

type Workspace struct {
	ID           int64
	ChatProvider string
	ChatModel    string
}

type Decision struct {
	Allowed  bool              `json:"allowed"`
	Code     string            `json:"code,omitempty"`
	Error    string            `json:"error,omitempty"`
	Rules    *policies.Rules   `json:"rules,omitempty"`
	Policies []policies.Policy `json:"policies,omitempty"`
	TeamIDs  []int64           `json:"team_ids,omitempty"`
}

type Enforcer struct {
	flags    FlagStore
	members  MembershipStore
	resolver PolicyResolver
	quota    QuotaReader
	log      zerolog.Logger
}

func NewEnforcer(flags FlagStore, members MembershipStore, resolver PolicyResolver, quota QuotaReader) *Enforcer {
	return &Enforcer{
		flags:    flags,
		members:  members,
		resolver: resolver,
		quota:    quota,
		log:      logger.Component("chatpolicy"),
	}
}

// Enforce evaluates the request and stops at the first failing check. It
// performs no writes.
func (e *Enforcer) Enforce(ctx context.Context, actor Actor, ws Workspace, prompt string) Decision {
	d := e.enforce(ctx, actor, ws, prompt)
	if d.Allowed {
		metrics.PolicyDecisions.WithLabelValues("allowed").Inc()
	} else {
		metrics.PolicyDecisions.WithLabelValues(d.Code).Inc()
		e.log.Info().
			Str("code", d.Code).
			Int64("user_id", actor.UserID).
			Int64("workspace_id", ws.ID).
			Msg("chat denied by usage policy")
	}
	return d
}

func (e *Enforcer) enforce(ctx context.Context, actor Actor, ws Workspace, prompt string) Decision {
	if !e.enabled(ctx) {
		return Decision{Allowed: true}
	}

	teamIDs := e.teamIDs(ctx, actor.UserID)

	set := e.resolver.Resolve(ctx, actor.UserID, ws.ID, teamIDs)
	if set.Rules.IsEmpty() {
		return Decision{Allowed: true}
	}
	rules := set.Rules

	if !allowed(rules.AllowedProviders, ws.ChatProvider) {
		return deny(CodeProviderNotAllowed, fmt.Sprintf("Provider %q is not allowed by usage policy.", ws.ChatProvider))
	}
	if !allowed(rules.AllowedModels, ws.ChatModel) {
		return deny(CodeModelNotAllowed, fmt.Sprintf("Model %q is not allowed by usage policy.", ws.ChatModel))
	}

	// Length is in characters, not bytes.
	if limit, ok := policies.Limit(rules.MaxPromptLength); ok && int64(utf8.RuneCountInString(prompt)) > limit {
		return deny(CodePromptTooLong, fmt.Sprintf("Prompt exceeds the maximum length of %d characters.", limit))
	}

	if limit, ok := policies.Limit(rules.MaxChatsPerDay); ok {
		if n := e.quota.ChatCount(ctx, actor.UserID, ws.ID, usage.ChatEventTypes()); n >= limit {
			return deny(CodeDailyChatLimit, fmt.Sprintf("Daily chat limit of %d reached.", limit))
		}
	}
	if limit, ok := policies.Limit(rules.MaxTokensPerDay); ok {
		if n := e.quota.TotalTokens(ctx, actor.UserID, ws.ID, usage.ChatEventTypes()); n >= limit {
			return deny(CodeDailyTokenLimit, fmt.Sprintf("Daily token limit of %d reached.", limit))
		}
	}

	return Decision{Allowed: true, Rules: &rules, Policies: set.Policies, TeamIDs: teamIDs}
}

// enabled treats a missing flag or an unreadable flag store as on.
func (e *Enforcer) enabled(ctx context.Context) bool {
	flags, err := e.flags.FeatureFlags(ctx)
	if err != nil {
		metrics.StoreFallbacks.WithLabelValues("feature_flags").Inc()
		e.log.Warn().Err(err).Msg("failed to read feature flags, enforcing policies")
		return true
	}
	on, ok := flags[FeatureFlag]
	return !ok || on
}

func (e *Enforcer) teamIDs(ctx context.Context, userID int64) []int64 {
	if userID <= 0 {
		return []int64{}
	}
	ids, err := e.members.TeamIDsForUser(ctx, userID)
	if err != nil {
		metrics.StoreFallbacks.WithLabelValues("memberships").Inc()
		e.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to load team memberships, continuing without teams")
		return []int64{}
	}
	if ids == nil {
		return []int64{}
	}
	return ids
}

// allowed passes an empty list, an unset value, or a wildcard entry.
// Matching is exact and case sensitive.
func allowed(list []string, value string) bool {
	if len(list) == 0 || value == "" {
		return true
	}
	for _, v := range list {
		if v == "*" || v == value {
			return true
		}
	}
	return false
}

func deny(code, msg string) Decision {
	return Decision{Allowed: false, Code: code, Error: msg}
}
