package round

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeRules(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7, ModeFun.MaxTries())
	assert.Equal(t, 6, ModeSerious.MaxTries())
	assert.Equal(t, int64(1), ModeFun.Payout())
	assert.Equal(t, int64(2), ModeSerious.Payout())

	_, err := ParseMode("casual")
	require.ErrorIs(t, err, ErrUnknownMode)

	m, err := ParseMode("serious")
	require.NoError(t, err)
	assert.Equal(t, ModeSerious, m)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(ModeFun, 0)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = New(ModeFun, 101)
	require.ErrorIs(t, err, ErrOutOfRange)

	_, err = New("blitz", 5)
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestGuess_Hints(t *testing.T) {
	t.Parallel()

	r, err := New(ModeFun, 42)
	require.NoError(t, err)

	out, err := r.Guess(50)
	require.NoError(t, err)
	assert.Equal(t, HintLower, out.Hint)
	assert.Equal(t, StatusActive, out.Status)
	assert.Zero(t, out.Secret)

	out, err = r.Guess(1)
	require.NoError(t, err)
	assert.Equal(t, HintHigher, out.Hint)
	assert.Equal(t, 5, out.TriesLeft)

	out, err = r.Guess(42)
	require.NoError(t, err)
	assert.Equal(t, HintCorrect, out.Hint)
	assert.Equal(t, StatusWon, out.Status)
	assert.Equal(t, 42, out.Secret)

	assert.Equal(t, []int{50, 1, 42}, r.History())
}

func TestGuess_RejectionsKeepState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   int
		wantErr error
	}{
		{name: "below_range", value: 0, wantErr: ErrOutOfRange},
		{name: "above_range", value: 101, wantErr: ErrOutOfRange},
		{name: "duplicate", value: 10, wantErr: ErrDuplicateGuess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := New(ModeSerious, 77)
			require.NoError(t, err)

			_, err = r.Guess(10)
			require.NoError(t, err)

			_, err = r.Guess(tt.value)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, []int{10}, r.History())
			assert.Equal(t, 5, r.TriesLeft())
			assert.Equal(t, StatusActive, r.Status())
		})
	}
}

func TestGuess_DuplicateNeverConsumesTry(t *testing.T) {
	t.Parallel()

	for g1 := MinValue; g1 <= MaxValue; g1 += 7 {
		g2 := g1%MaxValue + 1

		r, err := New(ModeFun, 100)
		if g1 == 100 || g2 == 100 {
			r, err = New(ModeFun, 50)
		}
		require.NoError(t, err)

		_, err = r.Guess(g1)
		require.NoError(t, err)
		_, err = r.Guess(g2)
		require.NoError(t, err)

		before := r.TriesLeft()

		_, err = r.Guess(g1)
		require.ErrorIs(t, err, ErrDuplicateGuess)
		assert.Equal(t, before, r.TriesLeft())
	}
}

func TestGuess_LostExactlyAtMaxTries(t *testing.T) {
	t.Parallel()

	for _, mode := range []Mode{ModeFun, ModeSerious} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			r, err := New(mode, 100)
			require.NoError(t, err)

			var out Outcome
			for i := 1; i <= mode.MaxTries(); i++ {
				require.Equal(t, StatusActive, r.Status(), "try %d", i)

				out, err = r.Guess(i)
				require.NoError(t, err)
				assert.Equal(t, HintHigher, out.Hint)
				require.LessOrEqual(t, len(r.History()), mode.MaxTries())
			}

			assert.Equal(t, StatusLost, out.Status)
			assert.Equal(t, 100, out.Secret)
			assert.Zero(t, out.TriesLeft)

			_, err = r.Guess(99)
			require.ErrorIs(t, err, ErrRoundOver)
			assert.Len(t, r.History(), mode.MaxTries())
		})
	}
}

func TestGuess_WinOnLastTry(t *testing.T) {
	t.Parallel()

	r, err := New(ModeSerious, 6)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = r.Guess(i)
		require.NoError(t, err)
	}

	out, err := r.Guess(6)
	require.NoError(t, err)
	assert.Equal(t, StatusWon, out.Status)
	assert.Equal(t, HintCorrect, out.Hint)
}

func TestGuess_AfterWinRejected(t *testing.T) {
	t.Parallel()

	r, err := New(ModeFun, 3)
	require.NoError(t, err)

	_, err = r.Guess(3)
	require.NoError(t, err)

	_, err = r.Guess(4)
	require.ErrorIs(t, err, ErrRoundOver)
}

func TestSecretHiddenWhileActive(t *testing.T) {
	t.Parallel()

	r, err := New(ModeFun, 9)
	require.NoError(t, err)

	_, ok := r.Secret()
	assert.False(t, ok)

	_, err = r.Guess(9)
	require.NoError(t, err)

	s, ok := r.Secret()
	assert.True(t, ok)
	assert.Equal(t, 9, s)
}

func TestPartition(t *testing.T) {
	t.Parallel()

	r, err := New(ModeFun, 40)
	require.NoError(t, err)

	for _, g := range []int{70, 20, 55, 10, 35} {
		_, err = r.Guess(g)
		require.NoError(t, err)
	}

	lower, higher := r.Partition()
	assert.Equal(t, []int{10, 20, 35}, lower)
	assert.Equal(t, []int{55, 70}, higher)

	// the view is derived; history keeps submission order
	assert.Equal(t, []int{70, 20, 55, 10, 35}, r.History())
}
