package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counting returns a step that records its first argument and advances with
// the argument plus one.
func counting(seen *[]int) DeferredStep {
	return func(d *Deferred, args ...any) any {
		n := args[0].(int)
		*seen = append(*seen, n)
		return d.Advance(n + 1)
	}
}

func TestDeferred_AdvanceChainResolves(t *testing.T) {
	var seen []int
	done := func(d *Deferred, args ...any) any {
		seen = append(seen, args[0].(int))
		d.Resolve("done")
		return nil
	}

	d := NewDeferred(nil, nil, []DeferredStep{counting(&seen), counting(&seen), counting(&seen), done}, 1)
	f := d.Run()

	require.True(t, d.Settled(), "synchronous chain must settle before Run returns")
	assert.True(t, d.Succeeded())
	assert.Equal(t, "done", d.Value())
	assert.Same(t, d.Future(), f)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestDeferred_AdvanceChainRejects(t *testing.T) {
	var seen []int
	boom := errors.New("boom")
	fail := func(d *Deferred, args ...any) any {
		seen = append(seen, args[0].(int))
		d.Reject(boom)
		return nil
	}

	d := NewDeferred(nil, nil, []DeferredStep{counting(&seen), counting(&seen), counting(&seen), fail}, 1)
	d.Run()

	require.True(t, d.Settled())
	assert.True(t, d.Failed())
	assert.Nil(t, d.Value())
	assert.EqualError(t, d.Reason(), "boom")
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestDeferred_SettledSubFlowAdoptedSynchronously(t *testing.T) {
	sub := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			d.Resolve("V")
			return nil
		},
	})
	subFuture := sub.Run()
	require.True(t, subFuture.Settled())

	outer := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			d.Resolve(subFuture)
			return nil
		},
	})
	outer.Run()

	assert.True(t, outer.Settled())
	assert.Equal(t, "V", outer.Value())
}

func TestDeferred_ReturnedFutureIsAdopted(t *testing.T) {
	pending := NewFuture()
	d := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any { return pending },
	})
	d.Run()
	assert.False(t, d.Settled())

	pending.Resolve("later")
	assert.Equal(t, "later", d.Value())
}

func TestDeferred_PlainReturnIsIgnored(t *testing.T) {
	d := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any { return "not a future" },
	})
	d.Run()

	assert.False(t, d.Settled(), "a plain return value must not settle the handle")
}

func TestDeferred_EmptyResolvesNil(t *testing.T) {
	d := NewDeferred(nil, nil, nil)
	d.Run()

	assert.True(t, d.Succeeded())
	assert.Nil(t, d.Value())
}

func TestDeferred_TerminalAdvanceIsSettledEmpty(t *testing.T) {
	calls := 0
	var adv *Future
	d := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			calls++
			adv = d.Advance()
			return adv
		},
	})
	d.Run()

	require.NotNil(t, adv)
	assert.True(t, adv.Succeeded())
	assert.Nil(t, adv.Value())
	assert.Equal(t, 1, calls)
	assert.True(t, d.Succeeded())
}

func TestDeferred_SettleTwiceIsSilent(t *testing.T) {
	d := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			d.Resolve(1)
			d.Resolve(2)
			d.Reject(errors.New("ignored"))
			return nil
		},
	})
	d.Run()

	assert.True(t, d.Succeeded())
	assert.Equal(t, 1, d.Value())
}

func TestDeferred_ResolveFromLaterTurn(t *testing.T) {
	loop := NewLoop()
	d := NewDeferred(loop, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			loop.Post(func() { d.Resolve("async") })
			return nil
		},
	})
	d.Run()
	assert.False(t, d.Settled())

	loop.Drain()
	assert.Equal(t, "async", d.Value())
}

func TestDeferred_AdvanceDeferredRunsOnFreshTurn(t *testing.T) {
	loop := NewLoop()
	tailRan := false
	d := NewDeferred(loop, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			return d.AdvanceDeferred("x")
		},
		func(d *Deferred, args ...any) any {
			tailRan = true
			d.Resolve(args[0])
			return nil
		},
	})
	d.Run()

	// The tail is synchronous but must not run in the caller's turn.
	assert.False(t, tailRan)
	assert.False(t, d.Settled())
	assert.Equal(t, 1, loop.Pending())

	v, err := loop.Await(context.Background(), d.Future())
	require.NoError(t, err)
	assert.True(t, tailRan)
	assert.Equal(t, "x", v)
	assert.Equal(t, int64(1), loop.Turn())
}

func TestDeferred_AdvanceDeferredWithoutScheduler(t *testing.T) {
	d := NewDeferred(nil, nil, []DeferredStep{
		func(d *Deferred, args ...any) any { return d.AdvanceDeferred() },
		func(d *Deferred, args ...any) any { return nil },
	})
	d.Run()

	assert.True(t, d.Failed())
	assert.ErrorIs(t, d.Reason(), ErrNoScheduler)
}

func TestDeferred_AdvanceDeferredAfterStop(t *testing.T) {
	loop := NewLoop()
	loop.Stop()

	d := NewDeferred(loop, nil, []DeferredStep{
		func(d *Deferred, args ...any) any { return d.AdvanceDeferred() },
		func(d *Deferred, args ...any) any { return nil },
	})
	d.Run()

	assert.ErrorIs(t, d.Reason(), ErrSchedulerClosed)
}

func TestDeferred_GoSettlesOnLoop(t *testing.T) {
	loop := NewLoop()
	d := NewDeferred(loop, nil, []DeferredStep{
		func(d *Deferred, args ...any) any {
			return Go(loop, func() (any, error) {
				time.Sleep(time.Millisecond)
				return "from worker", nil
			})
		},
	})
	d.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := loop.Await(ctx, d.Future())
	require.NoError(t, err)
	assert.Equal(t, "from worker", v)
}
