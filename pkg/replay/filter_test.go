package replay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventFilterEmpty(t *testing.T) {
	for _, expr := range []string{"", "   "} {
		filter, err := ParseEventFilter(expr)
		require.NoError(t, err)
		assert.Nil(t, filter)
	}
}

func TestParseEventFilterSingleCondition(t *testing.T) {
	filter, err := ParseEventFilter(`type = "REPLAY_ATTACK"`)
	require.NoError(t, err)
	require.Len(t, filter.Conds, 1)
	assert.Equal(t, "type", filter.Conds[0].Field)
	assert.Equal(t, "=", filter.Conds[0].Op)
	require.NotNil(t, filter.Conds[0].Str)
	assert.Equal(t, "REPLAY_ATTACK", *filter.Conds[0].Str)
}

func TestParseEventFilterConjunction(t *testing.T) {
	filter, err := ParseEventFilter(`type != "SIG_MISMATCH" and severity <= 2 and tenant = "acme"`)
	require.NoError(t, err)
	require.Len(t, filter.Conds, 3)

	assert.Equal(t, "!=", filter.Conds[0].Op)
	assert.Equal(t, "severity", filter.Conds[1].Field)
	assert.Equal(t, "<=", filter.Conds[1].Op)
	require.NotNil(t, filter.Conds[1].Num)
	assert.Equal(t, 2, *filter.Conds[1].Num)
	assert.Equal(t, "tenant", filter.Conds[2].Field)
}

func TestParseEventFilterRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"unknown field", `color = "red"`},
		{"severity wants an integer", `severity = "high"`},
		{"string field wants a quoted value", `type = 3`},
		{"string field rejects ordering", `source < "api"`},
		{"unquoted value", `type = REPLAY_ATTACK`},
		{"dangling conjunction", `type = "REPLAY_ATTACK" and`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEventFilter(tc.expr)
			assert.Error(t, err)
		})
	}
}

func TestEventFilterApply(t *testing.T) {
	db := setupTestDB(t)
	store := NewSecurityEventStore(db, nil)
	ctx := context.Background()

	seed := []SecurityEventRecord{
		{EventType: EventReplayAttack, Severity: 1, TenantID: "acme", Source: "api"},
		{EventType: EventReplayAttack, Severity: 1, TenantID: "rival", Source: "api"},
		{EventType: EventTimestampSkew, Severity: 2, TenantID: "acme", Source: "api"},
		{EventType: EventSigMismatch, Severity: 1, TenantID: "", Source: "worker"},
	}
	for i := range seed {
		require.NoError(t, store.Append(ctx, &seed[i]))
	}

	list := func(expr string) []SecurityEventRecord {
		filter, err := ParseEventFilter(expr)
		require.NoError(t, err)
		records, _, _, err := store.List(filter, 100, "")
		require.NoError(t, err)
		return records
	}

	assert.Len(t, list(`type = "REPLAY_ATTACK"`), 2)
	assert.Len(t, list(`type != "REPLAY_ATTACK"`), 2)
	assert.Len(t, list(`severity <= 1`), 3)
	assert.Len(t, list(`severity > 1`), 1)
	assert.Len(t, list(`source = "worker"`), 1)
	assert.Len(t, list(`type = "REPLAY_ATTACK" and tenant = "acme"`), 1)
	assert.Empty(t, list(`tenant = "acme" and severity >= 3`))
}
