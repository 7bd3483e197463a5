package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/verdictd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func response(id, session string, agent store.AgentType, age time.Duration) *store.ArgumentResponse {
	return &store.ArgumentResponse{
		ID:        id,
		SessionID: session,
		AgentType: agent,
		CreatedAt: base.Add(-age),
	}
}

func seed(t *testing.T, rs ...*store.ArgumentResponse) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	for _, r := range rs {
		require.NoError(t, s.PutResponse(context.Background(), r))
	}
	return s
}

func TestChain_SplitForm(t *testing.T) {
	s := seed(t,
		response("r1", "s1", store.AgentSupport, time.Minute),
		response("r2", "s1", store.AgentOppose, time.Minute),
	)
	chain := New(s, DefaultOptions(), nil)

	for _, token := range []string{"r1_r2", "r2_r1"} {
		p, err := chain.Resolve(context.Background(), token)
		require.NoError(t, err, token)
		assert.Equal(t, "r1", p.Support.ID)
		assert.Equal(t, "r2", p.Oppose.ID)
	}
}

func TestSplitStrategy_IDsWithUnderscores(t *testing.T) {
	s := seed(t,
		response("resp_a_1", "s1", store.AgentSupport, time.Minute),
		response("resp_b_2", "s1", store.AgentOppose, time.Minute),
	)
	strategy := &SplitStrategy{Responses: s, LegacyPrefix: "pair_"}

	p, err := strategy.TryResolve(context.Background(), "resp_a_1_resp_b_2")
	require.NoError(t, err)
	require.NotNil(t, p)
	support, oppose := p.IDs()
	assert.Equal(t, "resp_a_1", support)
	assert.Equal(t, "resp_b_2", oppose)
}

func TestSplitStrategy_NoMatch(t *testing.T) {
	s := seed(t,
		response("r1", "s1", store.AgentSupport, time.Minute),
		response("r3", "s1", store.AgentSupport, time.Minute),
	)
	strategy := &SplitStrategy{Responses: s, LegacyPrefix: "pair_"}

	for _, token := range []string{"r1_missing", "r1_r3", "_r1", "r1_", "r1", "pair_r1_r3"} {
		p, err := strategy.TryResolve(context.Background(), token)
		assert.NoError(t, err, token)
		assert.Nil(t, p, token)
	}
}

func TestLegacyStrategy_FirstCompleteSession(t *testing.T) {
	s := seed(t,
		// newest session has only one side
		response("n1", "s-new", store.AgentSupport, 1*time.Minute),
		// next session is complete
		response("m1", "s-mid", store.AgentSupport, 2*time.Minute),
		response("m2", "s-mid", store.AgentOppose, 3*time.Minute),
		// older complete session
		response("o1", "s-old", store.AgentSupport, 10*time.Minute),
		response("o2", "s-old", store.AgentOppose, 11*time.Minute),
	)
	chain := New(s, DefaultOptions(), nil)

	p, err := chain.Resolve(context.Background(), "pair_anything")
	require.NoError(t, err)
	assert.Equal(t, "m1", p.Support.ID)
	assert.Equal(t, "m2", p.Oppose.ID)
}

func TestLegacyStrategy_SkipsSessionsWithExtraResponses(t *testing.T) {
	s := seed(t,
		response("a1", "s-a", store.AgentSupport, 1*time.Minute),
		response("a2", "s-a", store.AgentOppose, 2*time.Minute),
		response("a3", "s-a", store.AgentOppose, 3*time.Minute),
		response("b1", "s-b", store.AgentOppose, 4*time.Minute),
		response("b2", "s-b", store.AgentSupport, 5*time.Minute),
	)
	strategy := &LegacyStrategy{Responses: s, Prefix: "pair_", ScanLimit: 100}

	p, err := strategy.TryResolve(context.Background(), "pair_x")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "b2", p.Support.ID)
	assert.Equal(t, "b1", p.Oppose.ID)
}

func TestLegacyStrategy_ScanLimit(t *testing.T) {
	s := seed(t,
		response("n1", "s-new", store.AgentSupport, 1*time.Minute),
		response("o1", "s-old", store.AgentSupport, 2*time.Minute),
		response("o2", "s-old", store.AgentOppose, 3*time.Minute),
	)
	strategy := &LegacyStrategy{Responses: s, Prefix: "pair_", ScanLimit: 2}

	p, err := strategy.TryResolve(context.Background(), "pair_x")
	require.NoError(t, err)
	assert.Nil(t, p, "o2 falls outside the scan window")

	p, err = strategy.TryResolve(context.Background(), "r1_r2")
	require.NoError(t, err)
	assert.Nil(t, p, "token without prefix is ignored")
}

func TestPairingKeyStrategy(t *testing.T) {
	r1 := response("r1", "s1", store.AgentSupport, time.Minute)
	r2 := response("r2", "s1", store.AgentOppose, time.Minute)
	r1.PairingKey, r2.PairingKey = "debate-7", "debate-7"
	t1 := response("t1", "s2", store.AgentSupport, time.Minute)
	t2 := response("t2", "s2", store.AgentOppose, time.Minute)
	t3 := response("t3", "s2", store.AgentOppose, time.Minute)
	t1.PairingKey, t2.PairingKey, t3.PairingKey = "triple", "triple", "triple"
	s := seed(t, r1, r2, t1, t2, t3)
	strategy := &PairingKeyStrategy{Responses: s}

	p, err := strategy.TryResolve(context.Background(), "debate-7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "r1", p.Support.ID)

	p, err = strategy.TryResolve(context.Background(), "triple")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCounterpartStrategy(t *testing.T) {
	r1 := response("r1", "s1", store.AgentSupport, time.Minute)
	r2 := response("r2", "s1", store.AgentOppose, time.Minute)
	r1.CounterpartID = "r2"
	dangling := response("d1", "s1", store.AgentSupport, time.Minute)
	dangling.CounterpartID = "gone"
	s := seed(t, r1, r2, dangling)
	strategy := &CounterpartStrategy{Responses: s}

	p, err := strategy.TryResolve(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "r2", p.Oppose.ID)

	for _, token := range []string{"r2", "d1", "nope"} {
		p, err = strategy.TryResolve(context.Background(), token)
		assert.NoError(t, err)
		assert.Nil(t, p, token)
	}
}

func TestChain_SurfaceFormsResolveIdentically(t *testing.T) {
	r1 := response("r1", "s1", store.AgentSupport, time.Minute)
	r2 := response("r2", "s1", store.AgentOppose, time.Minute)
	r1.PairingKey, r2.PairingKey = "key-1", "key-1"
	r1.CounterpartID = "r2"
	chain := New(seed(t, r1, r2), DefaultOptions(), nil)

	for _, token := range []string{"r1_r2", "pair_legacy", "key-1", "r1"} {
		p, err := chain.Resolve(context.Background(), token)
		require.NoError(t, err, token)
		support, oppose := p.IDs()
		assert.Equal(t, "r1", support, token)
		assert.Equal(t, "r2", oppose, token)
	}
}

func TestChain_NotFound(t *testing.T) {
	chain := New(store.NewMemoryStore(), DefaultOptions(), nil)

	_, err := chain.Resolve(context.Background(), "r1_r2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPairNotFound)

	var nf *PairNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "r1_r2", nf.Token)
	require.Len(t, nf.Attempts, 4)
	assert.Equal(t, []string{"split", "legacy", "pairing_key", "counterpart"},
		[]string{nf.Attempts[0].Strategy, nf.Attempts[1].Strategy, nf.Attempts[2].Strategy, nf.Attempts[3].Strategy})
	assert.Contains(t, err.Error(), `"r1_r2"`)
}

type mockResponses struct {
	mock.Mock
	store.ResponseStore
}

func (m *mockResponses) GetResponse(ctx context.Context, id string) (*store.ArgumentResponse, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*store.ArgumentResponse)
	return r, args.Error(1)
}

func (m *mockResponses) RecentResponses(ctx context.Context, limit int) ([]store.ArgumentResponse, error) {
	args := m.Called(ctx, limit)
	rs, _ := args.Get(0).([]store.ArgumentResponse)
	return rs, args.Error(1)
}

func (m *mockResponses) ResponsesByPairingKey(ctx context.Context, key string) ([]store.ArgumentResponse, error) {
	args := m.Called(ctx, key)
	rs, _ := args.Get(0).([]store.ArgumentResponse)
	return rs, args.Error(1)
}

func TestChain_StrategyErrorsAreSwallowed(t *testing.T) {
	boom := errors.New("database is locked")
	rs := &mockResponses{}
	r1 := response("r1", "s1", store.AgentSupport, 0)
	r2 := response("r2", "s1", store.AgentOppose, 0)
	r1.CounterpartID = "r2"

	// split form fails on the store, counterpart succeeds afterwards
	rs.On("GetResponse", mock.Anything, "x").Return(nil, boom).Once()
	rs.On("ResponsesByPairingKey", mock.Anything, "x_y").Return(nil, boom)
	rs.On("GetResponse", mock.Anything, "x_y").Return(r1, nil)
	rs.On("GetResponse", mock.Anything, "r2").Return(r2, nil)

	p, err := New(rs, DefaultOptions(), nil).Resolve(context.Background(), "x_y")
	require.NoError(t, err)
	assert.Equal(t, "r1", p.Support.ID)
	assert.Equal(t, "r2", p.Oppose.ID)
	rs.AssertExpectations(t)
	rs.AssertNotCalled(t, "RecentResponses", mock.Anything, mock.Anything)
}

func TestChain_ErrorsRecordedInAttempts(t *testing.T) {
	boom := errors.New("database is locked")
	rs := &mockResponses{}
	rs.On("RecentResponses", mock.Anything, 100).Return(nil, boom)
	rs.On("ResponsesByPairingKey", mock.Anything, "pair_1").Return(nil, boom)
	rs.On("GetResponse", mock.Anything, "pair_1").Return(nil, store.ErrNotFound)

	_, err := New(rs, DefaultOptions(), nil).Resolve(context.Background(), "pair_1")
	var nf *PairNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, Attempt{Strategy: "legacy", Reason: "database is locked"}, nf.Attempts[1])
	assert.Equal(t, Attempt{Strategy: "counterpart", Reason: "no match"}, nf.Attempts[3])
}

func TestByIDs(t *testing.T) {
	s := seed(t,
		response("pair_a1", "s1", store.AgentOppose, time.Minute),
		response("pair_a2", "s1", store.AgentSupport, time.Minute),
		response("x1", "s2", store.AgentSupport, time.Minute),
	)
	ctx := context.Background()

	t.Run("orients by agent type", func(t *testing.T) {
		p, err := ByIDs(ctx, s, "pair_a1", "pair_a2")
		require.NoError(t, err)
		assert.Equal(t, "pair_a2", p.Support.ID)
		assert.Equal(t, "pair_a1", p.Oppose.ID)
		assert.Equal(t, "pair_a2_pair_a1", p.Token())
	})

	t.Run("missing response", func(t *testing.T) {
		_, err := ByIDs(ctx, s, "pair_a1", "gone")
		assert.ErrorIs(t, err, ErrPairNotFound)
	})

	t.Run("same side", func(t *testing.T) {
		_, err := ByIDs(ctx, s, "pair_a2", "x1")
		var nf *PairNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "ids", nf.Attempts[0].Strategy)
	})
}
