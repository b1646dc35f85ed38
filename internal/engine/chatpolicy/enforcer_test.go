package chatpolicy

import (
	"context"
	"errors"
	"testing"

	"chatgate/internal/engine/policies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flags struct {
	m   map[string]bool
	err error
}

func (f flags) FeatureFlags(ctx context.Context) (map[string]bool, error) { return f.m, f.err }

type members struct {
	teams map[int64][]int64
	err   error
}

func (m members) TeamIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return m.teams[userID], m.err
}

type source struct {
	policies []policies.Policy
	got      policies.Context
	calls    int
}

func (s *source) Applicable(ctx context.Context, c policies.Context) ([]policies.Policy, error) {
	s.calls++
	s.got = c
	out := make([]policies.Policy, len(s.policies))
	copy(out, s.policies)
	return out, nil
}

type quota struct {
	chats, tokens           int64
	chatCalls, tokenCalls   int
	lastUser, lastWorkspace int64
	lastTypes               []string
}

func (q *quota) ChatCount(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64 {
	q.chatCalls++
	q.lastUser, q.lastWorkspace, q.lastTypes = userID, workspaceID, eventTypes
	return q.chats
}

func (q *quota) TotalTokens(ctx context.Context, userID, workspaceID int64, eventTypes []string) int64 {
	q.tokenCalls++
	return q.tokens
}

func system(id int64, priority int, rules string) policies.Policy {
	return policies.Policy{ID: id, Name: "p", Enabled: true, Scope: policies.ScopeSystem, Priority: priority, Rules: policies.ParseRules([]byte(rules))}
}

type fixture struct {
	src   *source
	quota *quota
	e     *Enforcer
}

func newFixture(f FlagStore, m MembershipStore, ps ...policies.Policy) *fixture {
	src := &source{policies: ps}
	q := &quota{}
	return &fixture{src: src, quota: q, e: NewEnforcer(f, m, policies.NewResolver(src), q)}
}

var openAIWorkspace = Workspace{ID: 10, ChatProvider: "openai", ChatModel: "gpt-4o"}

func TestProviderNotAllowed(t *testing.T) {
	fx := newFixture(flags{}, members{}, system(1, 100, `{"allowedProviders":["anthropic"]}`))

	d := fx.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "hello")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeProviderNotAllowed, d.Code)
	assert.NotEmpty(t, d.Error)
}

func TestPromptLengthBoundary(t *testing.T) {
	fx := newFixture(flags{}, members{}, system(1, 100, `{"maxPromptLength":5}`))
	ctx := context.Background()

	d := fx.e.Enforce(ctx, Actor{UserID: 1}, openAIWorkspace, "123456")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodePromptTooLong, d.Code)

	d = fx.e.Enforce(ctx, Actor{UserID: 1}, openAIWorkspace, "12345")
	assert.True(t, d.Allowed)

	d = fx.e.Enforce(ctx, Actor{UserID: 1}, openAIWorkspace, "héllo")
	assert.True(t, d.Allowed, "length counts characters, not bytes")
}

func TestNoPoliciesIsPermissive(t *testing.T) {
	fx := newFixture(flags{}, members{})

	d := fx.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "anything at all")
	assert.Equal(t, Decision{Allowed: true}, d)
	assert.Zero(t, fx.quota.chatCalls+fx.quota.tokenCalls)
}

func TestFeatureFlag(t *testing.T) {
	deny := system(1, 100, `{"allowedProviders":["anthropic"]}`)

	off := newFixture(flags{m: map[string]bool{FeatureFlag: false}}, members{}, deny)
	d := off.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "hi")
	assert.True(t, d.Allowed)
	assert.Zero(t, off.src.calls, "disabled flag bypasses resolution entirely")

	on := newFixture(flags{m: map[string]bool{FeatureFlag: true}}, members{}, deny)
	assert.False(t, on.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "hi").Allowed)

	absent := newFixture(flags{m: map[string]bool{"other": false}}, members{}, deny)
	assert.False(t, absent.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "hi").Allowed)

	broken := newFixture(flags{err: errors.New("down")}, members{}, deny)
	assert.False(t, broken.e.Enforce(context.Background(), Actor{UserID: 1}, openAIWorkspace, "hi").Allowed)
}

func TestAllowLists(t *testing.T) {
	tests := []struct {
		name  string
		rules string
		ws    Workspace
		code  string
	}{
		{"wildcard provider", `{"allowedProviders":["*"]}`, openAIWorkspace, ""},
		{"listed provider", `{"allowedProviders":["anthropic","openai"]}`, openAIWorkspace, ""},
		{"case sensitive", `{"allowedProviders":["OpenAI"]}`, openAIWorkspace, CodeProviderNotAllowed},
		{"unset provider passes", `{"allowedProviders":["anthropic"]}`, Workspace{ID: 10, ChatModel: "gpt-4o"}, ""},
		{"empty list allows any", `{"allowedProviders":[]}`, openAIWorkspace, ""},
		{"model denied", `{"allowedModels":["gpt-4o-mini"]}`, openAIWorkspace, CodeModelNotAllowed},
		{"model wildcard", `{"allowedModels":["*"]}`, openAIWorkspace, ""},
		{"provider checked before model", `{"allowedProviders":["anthropic"],"allowedModels":["command-r"]}`, openAIWorkspace, CodeProviderNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(flags{}, members{}, system(1, 100, tt.rules))
			d := fx.e.Enforce(context.Background(), Actor{UserID: 1}, tt.ws, "hi")
			assert.Equal(t, tt.code == "", d.Allowed)
			assert.Equal(t, tt.code, d.Code)
		})
	}
}

func TestDailyChatLimitBoundary(t *testing.T) {
	fx := newFixture(flags{}, members{}, system(1, 100, `{"maxChatsPerDay":2}`))
	ctx := context.Background()

	for _, n := range []int64{0, 1} {
		fx.quota.chats = n
		assert.True(t, fx.e.Enforce(ctx, Actor{UserID: 3}, openAIWorkspace, "hi").Allowed, "count %d", n)
	}

	fx.quota.chats = 2
	d := fx.e.Enforce(ctx, Actor{UserID: 3}, openAIWorkspace, "hi")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeDailyChatLimit, d.Code)

	assert.Equal(t, int64(3), fx.quota.lastUser)
	assert.Equal(t, int64(10), fx.quota.lastWorkspace)
	assert.Equal(t, []string{"workspace_chat", "workspace_thread_chat", "embed_chat"}, fx.quota.lastTypes)
	assert.Zero(t, fx.quota.tokenCalls, "token sum is only read when a token limit is set")
}

func TestDailyTokenLimit(t *testing.T) {
	fx := newFixture(flags{}, members{}, system(1, 100, `{"maxTokensPerDay":1000}`))
	ctx := context.Background()

	fx.quota.tokens = 999
	assert.True(t, fx.e.Enforce(ctx, Actor{UserID: 3}, openAIWorkspace, "hi").Allowed)

	fx.quota.tokens = 1000
	d := fx.e.Enforce(ctx, Actor{UserID: 3}, openAIWorkspace, "hi")
	assert.Equal(t, CodeDailyTokenLimit, d.Code)
	assert.Zero(t, fx.quota.chatCalls)
}

func TestNonPositiveLimitsAreIgnored(t *testing.T) {
	fx := newFixture(flags{}, members{}, system(1, 100, `{"maxPromptLength":0,"maxChatsPerDay":-1,"maxTokensPerDay":0}`))
	fx.quota.chats, fx.quota.tokens = 1_000_000, 1_000_000

	d := fx.e.Enforce(context.Background(), Actor{UserID: 3}, openAIWorkspace, "a very long prompt")
	assert.True(t, d.Allowed)
	assert.Zero(t, fx.quota.chatCalls+fx.quota.tokenCalls)
}

func TestAllowedDecisionCarriesContext(t *testing.T) {
	fx := newFixture(flags{}, members{teams: map[int64][]int64{5: {2, 8}}},
		system(1, 50, `{"maxPromptLength":100}`),
		system(2, 10, `{"maxPromptLength":200,"note":"x"}`),
	)

	d := fx.e.Enforce(context.Background(), Actor{UserID: 5}, openAIWorkspace, "hi")
	require.True(t, d.Allowed)
	require.NotNil(t, d.Rules)
	assert.Equal(t, int64(200), *d.Rules.MaxPromptLength)
	assert.Equal(t, []int64{2, 8}, d.TeamIDs)
	assert.Len(t, d.Policies, 2)
	assert.Equal(t, policies.Context{UserID: 5, WorkspaceID: 10, TeamIDs: []int64{2, 8}}, fx.src.got)
}

func TestMembershipFailureContinuesWithoutTeams(t *testing.T) {
	fx := newFixture(flags{}, members{err: errors.New("timeout")}, system(1, 100, `{"maxPromptLength":3}`))

	d := fx.e.Enforce(context.Background(), Actor{UserID: 5}, openAIWorkspace, "toolong")
	assert.Equal(t, CodePromptTooLong, d.Code)
	assert.Equal(t, []int64{}, fx.src.got.TeamIDs)
}

func TestAnonymousActorSkipsMembership(t *testing.T) {
	fx := newFixture(flags{}, members{err: errors.New("must not be called")}, system(1, 100, `{"maxChatsPerDay":1}`))

	d := fx.e.Enforce(context.Background(), Actor{}, openAIWorkspace, "hi")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), fx.quota.lastUser)
}
