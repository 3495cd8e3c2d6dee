// Package window 实现多时间窗的成交量聚合与盘口特征。
// 时间窗 [now-H, now]：时间戳恰为 now-H 的成交保留，now 前进越过后淘汰。
package window

import (
	"okx-signal-pipeline/internal/core/model"
)

// DefaultHorizonsUs 默认时间窗（微秒）：10ms/50ms/100ms
var DefaultHorizonsUs = [NumHorizons]int64{10_000, 50_000, 100_000}

// NumHorizons 时间窗数量
const NumHorizons = 3

// DefaultTradeCapacity 成交缓存默认容量
const DefaultTradeCapacity = 4096

type tradeRecord struct {
	tsUs int64
	size float64
}

// horizonState 单个时间窗的状态
// 所有时间窗共享同一条成交环，各自维护起点与滚动和。
type horizonState struct {
	spanUs int64
	start  uint64
	sum    float64
}

// Aggregator 多时间窗特征聚合器
// 单写者，由所属流水线 goroutine 独占。
type Aggregator struct {
	trades []tradeRecord
	mask   uint64
	head   uint64

	horizons [NumHorizons]horizonState

	// nowUs 聚合器时钟：已观察到的最大事件时间
	nowUs int64

	book    model.BookUpdate
	hasBook bool

	imbalance float64
	spread    float64

	// lateTrades 时间戳早于聚合器时钟的成交数
	lateTrades int64
	// staleTrades 乱序且早于最长时间窗、被丢弃的成交数
	staleTrades int64
	// overflow 因缓存写满而被提前淘汰的成交数
	overflow int64
}

// New 创建聚合器
// 参数 horizonsUs: 时间窗（微秒），须按升序排列
// 参数 tradeCapacity: 成交缓存容量，向上取整为 2 的幂
func New(horizonsUs [NumHorizons]int64, tradeCapacity int) *Aggregator {
	if tradeCapacity <= 0 {
		tradeCapacity = DefaultTradeCapacity
	}
	n := uint64(1)
	for n < uint64(tradeCapacity) {
		n <<= 1
	}
	a := &Aggregator{
		trades: make([]tradeRecord, n),
		mask:   n - 1,
	}
	for i, h := range horizonsUs {
		a.horizons[i].spanUs = h
	}
	return a
}

// NewDefault 使用 10/50/100ms 时间窗创建聚合器
func NewDefault() *Aggregator {
	return New(DefaultHorizonsUs, DefaultTradeCapacity)
}

// Update 用一条行情事件更新状态，均摊 O(1)
// 盘口事件替换最新快照并重算 imbalance/spread；成交事件追加到成交环并按时间窗淘汰。
func (a *Aggregator) Update(ev *model.MarketEvent) {
	a.Advance(ev.ExchTsUs)

	switch ev.Kind {
	case model.EventBook:
		a.book = ev.Book
		a.hasBook = true
		a.imbalance = ev.Book.Imbalance()
		a.spread = ev.Book.Spread()
	case model.EventTrade:
		a.addTrade(ev.ExchTsUs, ev.Trade.Size)
	}
}

// Advance 推进聚合器时钟并淘汰过期成交
// 时钟只进不退；更早的时间戳不会使窗口回退。
func (a *Aggregator) Advance(nowUs int64) {
	if nowUs > a.nowUs {
		a.nowUs = nowUs
	}
	for i := range a.horizons {
		a.evict(&a.horizons[i])
	}
}

func (a *Aggregator) evict(h *horizonState) {
	cutoff := a.nowUs - h.spanUs
	for h.start != a.head {
		rec := &a.trades[h.start&a.mask]
		if rec.tsUs >= cutoff {
			break
		}
		h.sum -= rec.size
		h.start++
	}
	if h.start == a.head {
		// 窗口清空时归零，消除浮点累积误差
		h.sum = 0
	}
}

// addTrade 追加一笔成交
// 成交环按原始时间戳有序。乱序成交插入到对应位置，只计入仍覆盖其时间戳的时间窗，
// 早于最长时间窗的直接丢弃；插入需要移动其后的记录，乱序成交罕见。
func (a *Aggregator) addTrade(tsUs int64, size float64) {
	if size < 0 {
		size = -size
	}
	late := tsUs < a.nowUs
	if late {
		a.lateTrades++
		if tsUs < a.nowUs-a.horizons[NumHorizons-1].spanUs {
			a.staleTrades++
			return
		}
	}

	capacity := uint64(len(a.trades))
	if a.head >= capacity {
		a.dropOldest()
	}

	pos := a.head
	if late {
		lo := uint64(0)
		if a.head >= capacity {
			lo = a.head - capacity + 1
		}
		for pos > lo && a.trades[(pos-1)&a.mask].tsUs > tsUs {
			a.trades[pos&a.mask] = a.trades[(pos-1)&a.mask]
			pos--
		}
	}

	a.trades[pos&a.mask] = tradeRecord{tsUs: tsUs, size: size}
	a.head++
	for i := range a.horizons {
		h := &a.horizons[i]
		if tsUs >= a.nowUs-h.spanUs {
			h.sum += size
		} else {
			// 插入点位于该窗口起点之前，窗口内记录整体后移一位
			h.start++
		}
	}
}

// dropOldest 环已满：最旧记录若仍在某个窗口内，先从该窗口移除
func (a *Aggregator) dropOldest() {
	oldest := a.head - uint64(len(a.trades))
	for i := range a.horizons {
		h := &a.horizons[i]
		if h.start == oldest {
			h.sum -= a.trades[oldest&a.mask].size
			h.start++
			if i == NumHorizons-1 {
				a.overflow++
			}
		}
	}
}

// Features 读取当前特征，O(1)
func (a *Aggregator) Features() model.Features {
	return model.Features{
		Imbalance: a.imbalance,
		Spread:    a.spread,
		Vol10:     a.horizons[0].sum,
		Vol50:     a.horizons[1].sum,
		Vol100:    a.horizons[2].sum,
	}
}

// Volume 读取第 i 个时间窗的成交量
func (a *Aggregator) Volume(i int) float64 {
	if i < 0 || i >= NumHorizons {
		return 0
	}
	return a.horizons[i].sum
}

// WindowLen 读取第 i 个时间窗内的成交条数
func (a *Aggregator) WindowLen(i int) int {
	if i < 0 || i >= NumHorizons {
		return 0
	}
	return int(a.head - a.horizons[i].start)
}

// Book 最新盘口快照
// 返回: ok=false 表示尚未收到盘口
func (a *Aggregator) Book() (model.BookUpdate, bool) {
	return a.book, a.hasBook
}

// NowUs 聚合器时钟（微秒）
func (a *Aggregator) NowUs() int64 {
	return a.nowUs
}

// LateTrades 乱序成交计数
func (a *Aggregator) LateTrades() int64 {
	return a.lateTrades
}

// StaleTrades 被丢弃的过期乱序成交计数
func (a *Aggregator) StaleTrades() int64 {
	return a.staleTrades
}

// Overflow 因缓存写满被提前淘汰的成交计数
func (a *Aggregator) Overflow() int64 {
	return a.overflow
}
