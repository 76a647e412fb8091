package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/waqf-engine/money"
)

func TestParse_RoundTripsFixedPoint(t *testing.T) {
	m, err := money.Parse("1,250.75")
	require.NoError(t, err)
	assert.Equal(t, int64(125075), m.Minor())
	assert.Equal(t, "1250.75", m.String())
}

func TestParse_RejectsExtraPrecision(t *testing.T) {
	_, err := money.Parse("10.005")
	assert.ErrorIs(t, err, money.ErrTooPrecise)

	_, err = money.Parse("ten")
	assert.ErrorIs(t, err, money.ErrInvalidAmount)
}

func TestMulPercent_RoundsHalfToEven(t *testing.T) {
	half := money.MustPercent("50")

	// 0.05 * 50% = 0.025 -> 0.02 (2 is even)
	assert.Equal(t, int64(2), money.FromMinor(5).MulPercent(half).Minor())
	// 0.15 * 50% = 0.075 -> 0.08 (8 is even)
	assert.Equal(t, int64(8), money.FromMinor(15).MulPercent(half).Minor())
	// 0.07 * 50% = 0.035 -> 0.04
	assert.Equal(t, int64(4), money.FromMinor(7).MulPercent(half).Minor())
}

func TestMulPercent_ExactForWholePercents(t *testing.T) {
	gross := money.FromMajor(1_000_000)
	assert.Equal(t, money.FromMajor(50_000), gross.MulPercent(money.MustPercent("5")))
	assert.Equal(t, money.FromMajor(125_000), gross.MulPercent(money.MustPercent("12.5")))
}

func TestAllocate_SumsToTotal(t *testing.T) {
	cases := []struct {
		name    string
		total   int64
		weights []int64
	}{
		{"even", 1000, []int64{1, 1, 1, 1}},
		{"leftover", 1001, []int64{1, 1, 1}},
		{"weighted", 875_000_01, []int64{2, 2, 1}},
		{"leftover exceeds slots", 9, []int64{5, 0, 1}},
		{"single", 7, []int64{3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			shares, err := money.Allocate(money.FromMinor(tc.total), tc.weights)
			require.NoError(t, err)
			assert.Equal(t, tc.total, money.Sum(shares...).Minor())
			for i, w := range tc.weights {
				if w == 0 {
					assert.True(t, shares[i].IsZero(), "zero weight must get nothing")
				}
			}
		})
	}
}

func TestAllocate_LeftoverGoesInSliceOrder(t *testing.T) {
	// unit = 10 / 3 = 3, leftover 1 -> first slot
	shares, err := money.Allocate(money.FromMinor(10), []int64{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3, 3}, minors(shares))

	// unit = 9 / 6 = 1, leftover 3 -> round-robin over positive weights (0, 2, 0)
	shares, err = money.Allocate(money.FromMinor(9), []int64{5, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 0, 2}, minors(shares))
}

func TestAllocate_Errors(t *testing.T) {
	_, err := money.Allocate(money.FromMinor(10), nil)
	assert.ErrorIs(t, err, money.ErrNoWeights)

	_, err = money.Allocate(money.FromMinor(-1), []int64{1})
	assert.ErrorIs(t, err, money.ErrInvalidAmount)

	_, err = money.Allocate(money.FromMinor(10), []int64{1, -1})
	assert.ErrorIs(t, err, money.ErrInvalidAmount)
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(money.MustParse("750000"))
	require.NoError(t, err)
	assert.JSONEq(t, `"750000.00"`, string(b))

	var fromString, fromNumber money.Money
	require.NoError(t, json.Unmarshal([]byte(`"12.30"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`12.3`), &fromNumber))
	assert.Equal(t, fromString, fromNumber)
}

func TestPercent_Parse(t *testing.T) {
	p, err := money.ParsePercent("12.5%")
	require.NoError(t, err)
	assert.Equal(t, "12.5", p.String())
	assert.True(t, money.MustPercent("100").Equal(money.Hundred))

	_, err = money.ParsePercent("abc")
	assert.Error(t, err)
}

func minors(ms []money.Money) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.Minor()
	}
	return out
}
