package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	slept []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ErrContextCancelled
	}
	r.slept = append(r.slept, d)
	return nil
}

func TestNewPacer_Validation(t *testing.T) {
	_, err := NewPacer(nil)
	assert.Error(t, err)

	_, err = NewPacer(&PacerConfig{PageDelay: -time.Second})
	assert.Error(t, err)

	_, err = NewPacer(&PacerConfig{RequestsPerSecond: 1, MinRequestsPerSecond: 2})
	assert.Error(t, err)

	p, err := NewPacer(&PacerConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.CurrentLimit())
	assert.NoError(t, p.Wait(context.Background()))
}

func TestPacer_FixedDelays(t *testing.T) {
	rec := &recordingSleep{}
	p, err := NewPacer(&PacerConfig{
		PageDelay:     time.Second,
		LocationDelay: 2 * time.Second,
		Sleep:         rec.Sleep,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.BetweenPages(ctx))
	require.NoError(t, p.BetweenLocations(ctx))
	require.NoError(t, p.BetweenPages(ctx))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, rec.slept)
}

func TestPacer_CancelledContext(t *testing.T) {
	p, err := NewPacer(&PacerConfig{PageDelay: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.BetweenPages(ctx), ErrContextCancelled)
}

func TestPacer_ThrottleAndRecover(t *testing.T) {
	p, err := NewPacer(&PacerConfig{RequestsPerSecond: 4, MinRequestsPerSecond: 1})
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.CurrentLimit())

	p.OnThrottle()
	assert.Equal(t, 2.0, p.CurrentLimit())
	p.OnThrottle()
	p.OnThrottle()
	assert.Equal(t, 1.0, p.CurrentLimit(), "never below the floor")

	for i := 0; i < DefaultRecoverEvery; i++ {
		p.OnOK()
	}
	assert.Equal(t, 2.0, p.CurrentLimit())

	for i := 0; i < 5*DefaultRecoverEvery; i++ {
		p.OnOK()
	}
	assert.Equal(t, 4.0, p.CurrentLimit(), "never above the ceiling")
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), ErrContextCancelled)
}
