package plans

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupResolvesIDsAndAliases(t *testing.T) {
	c := Default()

	p, ok := c.Lookup("tier-1")
	require.True(t, ok)
	assert.Equal(t, LoveSpark, p.ID)
	assert.Equal(t, 5, p.MaxCreations.Max())

	p, ok = c.Lookup(" Forever-Valentine ")
	require.True(t, ok)
	assert.True(t, p.MaxCreations.IsUnbounded())
	assert.True(t, p.IsUnbounded())

	p, ok = c.Lookup("unlimited")
	require.True(t, ok)
	assert.Equal(t, ForeverValentine, p.ID)
}

func TestResolveUnknownPlan(t *testing.T) {
	_, err := Default().Resolve("mystery-tier")
	require.ErrorIs(t, err, ErrUnknownPlan)
}

func TestListOrderedByPrice(t *testing.T) {
	list := Default().List()
	require.Len(t, list, 5)
	assert.Equal(t, Free, list[0].ID)
	assert.Equal(t, ForeverValentine, list[len(list)-1].ID)
}

func TestQuotaRemainingAndStoreLimit(t *testing.T) {
	q := Limit(5)
	left, ok := q.Remaining(4)
	require.True(t, ok)
	assert.Equal(t, 1, left)

	left, ok = q.Remaining(9)
	require.True(t, ok)
	assert.Equal(t, 0, left)
	assert.Equal(t, 5, q.StoreLimit())

	_, ok = Unbounded().Remaining(1_000_000)
	assert.False(t, ok)
	assert.Equal(t, -1, Unbounded().StoreLimit())
	assert.Equal(t, 0, Limit(-3).Max())
}

func TestQuotaJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		A Quota `json:"a"`
		B Quota `json:"b"`
	}{A: Limit(20), B: Unbounded()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":20,"b":null}`, string(raw))
}

func TestPlanJSONRoundTripKeepsUnbounded(t *testing.T) {
	p, err := Default().Resolve("unlimited")
	require.NoError(t, err)
	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var back Plan
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, p, back)
	assert.True(t, back.IsUnbounded())

	var q Quota
	assert.Error(t, json.Unmarshal([]byte(`-4`), &q))
	assert.Error(t, json.Unmarshal([]byte(`"five"`), &q))
}
