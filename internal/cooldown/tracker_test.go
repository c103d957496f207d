package cooldown_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/levelup/internal/cooldown"
	"github.com/victornm/levelup/internal/store/memory"
)

func TestNextBoundary(t *testing.T) {
	tests := map[string]struct {
		at   time.Time
		want time.Time
	}{
		"wednesday waits for the coming sunday": {
			at:   time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		"monday": {
			at:   time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		"saturday just before midnight": {
			at:   time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC),
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		"sunday midnight waits a full week": {
			at:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		"sunday evening waits for the next sunday": {
			at:   time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC),
			want: time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		"non utc input is normalised": {
			at:   time.Date(2024, 3, 10, 7, 0, 0, 0, time.FixedZone("JST", 9*60*60)),
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		"month rollover": {
			at:   time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := cooldown.NextBoundary(tt.at)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.True(t, got.After(tt.at), "boundary must be strictly after the attempt")
		})
	}
}

func TestTracker_IsOnCooldown(t *testing.T) {
	ctx := context.Background()
	wednesday := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tr := cooldown.NewTracker(cooldown.Config{Store: memory.New()})

	on, next, err := tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, wednesday)
	require.NoError(t, err)
	assert.False(t, on, "no attempts yet")
	assert.True(t, next.IsZero())

	next, err = tr.RecordAttempt(ctx, "g1", "u1", "Gold", wednesday)
	require.NoError(t, err)
	assert.True(t, sunday.Equal(next))

	on, next, err = tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, wednesday.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, sunday.Equal(next))

	on, _, err = tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, sunday.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, on)

	on, _, err = tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, sunday)
	require.NoError(t, err)
	assert.False(t, on, "eligible again at the boundary")

	on, _, err = tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", false, wednesday.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, on, "exempt quizzes are never on cooldown")

	on, _, err = tr.IsOnCooldownAt(ctx, "g1", "u1", "Silver", true, wednesday.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, on, "cooldowns are per quiz")
}

func TestTracker_SundayAttemptWaitsFullWeek(t *testing.T) {
	ctx := context.Background()
	sunday := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	tr := cooldown.NewTracker(cooldown.Config{Store: memory.New()})
	_, err := tr.RecordAttempt(ctx, "g1", "u1", "Gold", sunday)
	require.NoError(t, err)

	on, next, err := tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, sunday)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, sunday.AddDate(0, 0, 7).Equal(next))
}

func TestTracker_Monotonic(t *testing.T) {
	ctx := context.Background()
	attempt := time.Date(2024, 3, 7, 18, 45, 0, 0, time.UTC)

	tr := cooldown.NewTracker(cooldown.Config{Store: memory.New()})
	boundary, err := tr.RecordAttempt(ctx, "g1", "u1", "Gold", attempt)
	require.NoError(t, err)

	for now := attempt; now.Before(boundary.Add(48 * time.Hour)); now = now.Add(37 * time.Minute) {
		on, next, err := tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, now)
		require.NoError(t, err)
		require.True(t, boundary.Equal(next))
		require.Equal(t, now.Before(boundary), on, "at %s", now)
	}
}

func TestTracker_LatestAttemptWins(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	second := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

	tr := cooldown.NewTracker(cooldown.Config{Store: memory.New()})
	_, err := tr.RecordAttempt(ctx, "g1", "u1", "Gold", first)
	require.NoError(t, err)
	_, err = tr.RecordAttempt(ctx, "g1", "u1", "Gold", second)
	require.NoError(t, err)

	last, ok, err := tr.LastAttempt(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, second.Equal(last))

	_, next, err := tr.IsOnCooldownAt(ctx, "g1", "u1", "Gold", true, second)
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC).Equal(next))
}

func TestTracker_ResetAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)

	tr := cooldown.NewTracker(cooldown.Config{
		Store: memory.New(),
		Now:   func() time.Time { return now },
	})

	for _, q := range []string{"Gold", "Silver", "Gold"} {
		_, err := tr.RecordAttempt(ctx, "g1", "u1", q, now)
		require.NoError(t, err)
	}

	n, err := tr.ResetAttempts(ctx, "g1", "u1", "Gold")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	on, _, err := tr.IsOnCooldown(ctx, "g1", "u1", "Gold", true)
	require.NoError(t, err)
	assert.False(t, on)

	on, _, err = tr.IsOnCooldown(ctx, "g1", "u1", "Silver", true)
	require.NoError(t, err)
	assert.True(t, on)

	n, err = tr.ResetAttempts(ctx, "g1", "u1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
