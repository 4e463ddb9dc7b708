package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxU128 = "340282366920938463463374607431768211455"

func TestAmountFromString(t *testing.T) {
	a, err := AmountFromString("1000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", a.String())

	max, err := AmountFromString(maxU128)
	require.NoError(t, err)
	assert.Equal(t, maxU128, max.String())
}

func TestAmountFromString_Rejects(t *testing.T) {
	for _, s := range []string{"", "abc", "-5", "1.5", "0x10", "340282366920938463463374607431768211456"} {
		_, err := AmountFromString(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestAmount_AddSub(t *testing.T) {
	a := NewAmount(70)
	b := NewAmount(30)
	assert.Equal(t, uint64(100), a.Add(b).Uint64())
	assert.Equal(t, uint64(40), a.Sub(b).Uint64())
}

func TestAmount_AddOverflowPanics(t *testing.T) {
	max := MustAmount(maxU128)
	assert.Panics(t, func() { max.Add(NewAmount(1)) })
}

func TestAmount_SubUnderflowPanics(t *testing.T) {
	assert.Panics(t, func() { NewAmount(1).Sub(NewAmount(2)) })
}

func TestAmount_MulDivFloors(t *testing.T) {
	// 7*3/2 = 10.5 floors to 10
	assert.Equal(t, uint64(10), NewAmount(7).MulDiv(NewAmount(3), NewAmount(2)).Uint64())
	// exact division stays exact
	assert.Equal(t, uint64(21), NewAmount(7).MulDiv(NewAmount(3), NewAmount(1)).Uint64())
}

func TestAmount_MulDivWideIntermediate(t *testing.T) {
	// a*b exceeds 128 bits but the quotient fits
	big := MustAmount("200000000000000000000000000000000000000")
	got := big.MulDiv(NewAmount(3), NewAmount(3))
	assert.True(t, got.Equal(big))
}

func TestAmount_MulDivOverflowPanics(t *testing.T) {
	max := MustAmount(maxU128)
	assert.Panics(t, func() { max.MulDiv(NewAmount(2), NewAmount(1)) })
}

func TestAmount_DivByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { NewAmount(1).Div(NewAmount(0)) })
	assert.Panics(t, func() { NewAmount(1).MulDiv(NewAmount(1), NewAmount(0)) })
}

func TestAmount_MulBps(t *testing.T) {
	// 200 bps on 1_000_000 is the reference fee
	assert.Equal(t, uint64(20_000), NewAmount(1_000_000).MulBps(200).Uint64())
	// floors: 99 * 200 / 10000 = 1.98
	assert.Equal(t, uint64(1), NewAmount(99).MulBps(200).Uint64())
	assert.Equal(t, uint64(0), NewAmount(49).MulBps(200).Uint64())
}

func TestAmount_Compare(t *testing.T) {
	a := NewAmount(5)
	b := NewAmount(9)
	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Cmp(a))
	assert.Equal(t, 0, a.Cmp(NewAmount(5)))
	assert.True(t, a.Equal(NewAmount(5)))
	assert.True(t, a.Min(b).Equal(a))
	assert.True(t, b.Min(a).Equal(a))
	assert.True(t, NewAmount(0).IsZero())
	assert.False(t, a.IsZero())
}

func TestAmount_Uint64PanicsWhenWide(t *testing.T) {
	wide := MustAmount("18446744073709551616") // 2^64
	assert.Panics(t, func() { wide.Uint64() })
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	type payload struct {
		Value Amount `json:"value"`
	}
	raw, err := json.Marshal(payload{Value: MustAmount("340282366920938463463374607431768211455")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"340282366920938463463374607431768211455"}`, string(raw))

	var back payload
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, maxU128, back.Value.String())

	var bad payload
	assert.Error(t, json.Unmarshal([]byte(`{"value":"not-a-number"}`), &bad))
}
