package policies

import (
	"context"
	"sort"

	"chatgate/internal/pkg/logger"
	"chatgate/internal/pkg/metrics"
	"github.com/rs/zerolog"
)

// Source returns the enabled policies applicable to a context.
type Source interface {
	Applicable(ctx context.Context, c Context) ([]Policy, error)
}

// EffectiveSet is the merged outcome of every applicable policy.
type EffectiveSet struct {
	Rules    Rules    `json:"rules"`
	Policies []Policy `json:"policies"`
}

type Resolver struct {
	source Source
	log    zerolog.Logger
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, log: logger.Component("policies")}
}

// Resolve never fails. A store error resolves to the empty set, which
// places no restriction on the caller.
func (r *Resolver) Resolve(ctx context.Context, userID, workspaceID int64, teamIDs []int64) EffectiveSet {
	c := Context{UserID: userID, WorkspaceID: workspaceID, TeamIDs: teamIDs}

	candidates, err := r.source.Applicable(ctx, c)
	if err != nil {
		metrics.StoreFallbacks.WithLabelValues("policies").Inc()
		r.log.Warn().Err(err).
			Int64("user_id", userID).
			Int64("workspace_id", workspaceID).
			Msg("failed to load usage policies, resolving to no restriction")
		return EffectiveSet{Policies: []Policy{}}
	}

	Order(candidates)
	return EffectiveSet{Rules: Merge(candidates), Policies: nonNil(candidates)}
}

// Order sorts policies by priority descending then id ascending, which is
// lowest precedence first.
func Order(ps []Policy) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Priority != ps[j].Priority {
			return ps[i].Priority > ps[j].Priority
		}
		return ps[i].ID < ps[j].ID
	})
}

// Merge folds already ordered policies from lowest to highest precedence,
// so each later policy overwrites the fields it sets. The net effect is that
// a lower priority number wins.
func Merge(ordered []Policy) Rules {
	var acc Rules
	for _, p := range ordered {
		acc = acc.Merge(p.Rules)
	}
	return acc
}

func nonNil(ps []Policy) []Policy {
	if ps == nil {
		return []Policy{}
	}
	return ps
}
