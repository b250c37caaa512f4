package round

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorAndSizeMapping(t *testing.T) {
	t.Parallel()

	colors := map[int]Color{
		0: ColorRed, 1: ColorViolet, 2: ColorRed, 3: ColorViolet, 4: ColorRed,
		5: ColorGreen, 6: ColorRed, 7: ColorViolet, 8: ColorRed, 9: ColorViolet,
	}
	for v, want := range colors {
		assert.Equal(t, want, ColorOf(v), "digit %d", v)
	}

	for v := 0; v <= 4; v++ {
		assert.Equal(t, SizeSmall, SizeOf(v))
	}
	for v := 5; v <= 9; v++ {
		assert.Equal(t, SizeBig, SizeOf(v))
	}
}

func TestRoundResultIsSetOnce(t *testing.T) {
	t.Parallel()

	r := New("rnd_1", "30sec", time.Unix(0, 0), 30*time.Second)
	assert.False(t, r.HasResult())
	assert.Equal(t, Color(""), r.Color())

	require.NoError(t, r.SetResult(5))
	assert.Equal(t, ColorGreen, r.Color())
	assert.Equal(t, SizeBig, r.Size())

	err := r.SetResult(3)
	require.ErrorIs(t, err, ErrResultAlreadySet)
	assert.Equal(t, 5, *r.Result)

	require.ErrorIs(t, New("rnd_2", "30sec", time.Unix(0, 0), time.Second).SetResult(10), ErrResultOutOfRange)
}

func TestRoundTransitions(t *testing.T) {
	t.Parallel()

	r := New("rnd_1", "1min", time.Unix(100, 0), time.Minute)
	assert.Equal(t, time.Unix(160, 0), r.EndTime)

	require.ErrorIs(t, r.Transition(StatusSettling), ErrIllegalTransition)
	require.NoError(t, r.Transition(StatusLocked))
	require.NoError(t, r.Transition(StatusSettling))
	require.NoError(t, r.Transition(StatusCompleted))
	require.ErrorIs(t, r.Transition(StatusBetting), ErrIllegalTransition)
}

func TestRoundTimeLeft(t *testing.T) {
	t.Parallel()

	r := New("rnd_1", "30sec", time.Unix(0, 0), 30*time.Second)
	assert.Equal(t, 20*time.Second, r.TimeLeft(time.Unix(10, 0)))
	assert.Equal(t, time.Duration(0), r.TimeLeft(time.Unix(45, 0)))
}

func TestCloneDoesNotShareResult(t *testing.T) {
	t.Parallel()

	r := New("rnd_1", "30sec", time.Unix(0, 0), 30*time.Second)
	require.NoError(t, r.SetResult(7))
	c := r.Clone()
	*c.Result = 1
	assert.Equal(t, 7, *r.Result)
}

func TestValidateSelection(t *testing.T) {
	t.Parallel()

	valid := []struct {
		kind Kind
		sel  string
	}{
		{KindColor, "red"}, {KindColor, "green"}, {KindColor, "violet"},
		{KindSize, "big"}, {KindSize, "small"},
		{KindNumber, "0"}, {KindNumber, "9"},
	}
	for _, tc := range valid {
		assert.NoError(t, ValidateSelection(tc.kind, tc.sel), "%s %s", tc.kind, tc.sel)
	}

	invalid := []struct {
		kind Kind
		sel  string
	}{
		{KindColor, "blue"}, {KindColor, "big"},
		{KindSize, "medium"},
		{KindNumber, "10"}, {KindNumber, "-1"}, {KindNumber, "07"}, {KindNumber, "seven"},
		{"parity", "odd"},
	}
	for _, tc := range invalid {
		assert.ErrorIs(t, ValidateSelection(tc.kind, tc.sel), ErrInvalidSelection, "%s %s", tc.kind, tc.sel)
	}
}
