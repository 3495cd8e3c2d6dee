// Package backoff 退避测试
package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoff_Bounds_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("无抖动时单调不减且不超过上限", prop.ForAll(
		func(baseMs, maxMs, n int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			max := time.Duration(maxMs) * time.Millisecond
			b := New(base, max, 0)
			prev := time.Duration(0)
			for i := 0; i < n; i++ {
				d := b.Next()
				if d < prev || d > max || d < base {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 2000),
		gen.IntRange(2000, 60000),
		gen.IntRange(1, 80),
	))

	properties.Property("抖动在 ±jitter 内", prop.ForAll(
		func(jitterPct int) bool {
			jitter := float64(jitterPct) / 100
			b := New(time.Second, 30*time.Second, jitter)
			for i := 0; i < 20; i++ {
				b.Reset()
				d := float64(b.Next())
				if d < float64(time.Second)*(1-jitter) || d > float64(time.Second)*(1+jitter) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestBackoff_SpecificValues(t *testing.T) {
	b := New(time.Second, 10*time.Second, 0)
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second} {
		if got := b.Next(); got != want {
			t.Fatalf("第 %d 次 Next()=%v, want %v", i, got, want)
		}
	}
	b.Reset()
	if b.Attempt() != 0 || b.Next() != time.Second {
		t.Fatalf("Reset 后应从 base 开始")
	}
}

func TestBackoff_NoOverflowAfterManyAttempts(t *testing.T) {
	b := New(time.Second, 30*time.Second, 0)
	for i := 0; i < 200; i++ {
		if d := b.Next(); d <= 0 || d > 30*time.Second {
			t.Fatalf("第 %d 次 Next()=%v", i, d)
		}
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := New(time.Hour, time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait()=%v, want context.Canceled", err)
	}
}
