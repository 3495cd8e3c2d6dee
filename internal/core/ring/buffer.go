// Package ring 实现固定容量的行情事件环形缓冲区。
// 写满后覆盖最旧事件并累加丢弃计数，生产者永不阻塞。
package ring

import (
	"sync/atomic"

	"okx-signal-pipeline/internal/core/model"
)

// DefaultCapacity 默认容量
const DefaultCapacity = 4096

// Buffer 行情事件环形缓冲区
// 槽位由单个 goroutine（流水线）读写；head/tail/dropped 为原子变量，
// 允许其他 goroutine 无锁读取计数。
type Buffer struct {
	slots []model.MarketEvent
	mask  uint64

	// head 下一个写入位置（单调递增）
	head atomic.Uint64
	// tail 最旧的未消费位置（单调递增）
	tail atomic.Uint64
	// dropped 被覆盖的未消费事件数
	dropped atomic.Uint64
}

// New 创建环形缓冲区
// 参数 capacity: 容量，向上取整为 2 的幂；<=0 时使用 DefaultCapacity
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	n := nextPow2(uint64(capacity))
	return &Buffer{
		slots: make([]model.MarketEvent, n),
		mask:  n - 1,
	}
}

// Push 写入事件，O(1)，永不阻塞
// 缓冲区已满时覆盖最旧的未消费事件，并累加丢弃计数。
func (b *Buffer) Push(ev model.MarketEvent) {
	head := b.head.Load()
	tail := b.tail.Load()
	if head-tail == uint64(len(b.slots)) {
		b.tail.Store(tail + 1)
		b.dropped.Add(1)
	}
	b.slots[head&b.mask] = ev
	b.head.Store(head + 1)
}

// Pop 按到达顺序取出最旧的事件
func (b *Buffer) Pop() (model.MarketEvent, bool) {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return model.MarketEvent{}, false
	}
	ev := b.slots[tail&b.mask]
	b.tail.Store(tail + 1)
	return ev, true
}

// Drain 依次消费当前所有事件
// 回调拿到的是槽位指针，仅在回调期间有效。
// 返回: 消费的事件数
func (b *Buffer) Drain(fn func(ev *model.MarketEvent)) int {
	n := 0
	for {
		tail := b.tail.Load()
		if tail == b.head.Load() {
			return n
		}
		fn(&b.slots[tail&b.mask])
		b.tail.Store(tail + 1)
		n++
	}
}

// Snapshot 按到达顺序导出当前存活事件（不消费）
// 参数 dst: 复用的目标切片，可为 nil
func (b *Buffer) Snapshot(dst []model.MarketEvent) []model.MarketEvent {
	dst = dst[:0]
	head := b.head.Load()
	for pos := b.tail.Load(); pos != head; pos++ {
		dst = append(dst, b.slots[pos&b.mask])
	}
	return dst
}

// Len 当前存活事件数
func (b *Buffer) Len() int {
	return int(b.head.Load() - b.tail.Load())
}

// Cap 容量
func (b *Buffer) Cap() int {
	return len(b.slots)
}

// Pushed 累计写入数
func (b *Buffer) Pushed() uint64 {
	return b.head.Load()
}

// Dropped 累计覆盖丢弃数
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Reset 丢弃所有未消费事件（关闭时使用），不计入丢弃数
func (b *Buffer) Reset() {
	b.tail.Store(b.head.Load())
}

func nextPow2(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}
