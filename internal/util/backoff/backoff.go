// Package backoff 行情连接的指数退避。
// 默认基础间隔 500ms，上限 30s，抖动 ±20%。
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// maxShift 指数上限，避免 base<<attempt 溢出
const maxShift = 30

// Backoff 指数退避
// 第 n 次重试等待 min(base·2^n, max)，再乘以 [1-jitter, 1+jitter] 内的随机因子。
// 非并发安全，由重连 goroutine 独占。
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避器
// jitter 会被裁剪到 [0, 1]。
func New(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 500ms / 30s / ±20%
func NewDefault() *Backoff {
	return New(500*time.Millisecond, 30*time.Second, 0.2)
}

// Next 返回本次等待时间并推进重试次数
func (b *Backoff) Next() time.Duration {
	delay := b.max
	if b.attempt < maxShift {
		if d := b.base << uint(b.attempt); d > 0 && d < b.max {
			delay = d
		}
	}
	if b.jitter > 0 {
		delay = time.Duration(float64(delay) * (1 + (rand.Float64()*2-1)*b.jitter))
	}
	b.attempt++
	return delay
}

// Wait 等待下一次退避间隔，ctx 取消时提前返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset 连接成功后归零
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
