// Package calib 统计在线训练结果的滚动校准指标。
// hit_rate = 预测落在正确一侧（p>0.5 ↔ label=1）的比例
// log_loss = -mean(y·ln p + (1-y)·ln(1-p))，p 裁剪到 [ε, 1-ε]
package calib

import "math"

// Epsilon 概率裁剪边界
const Epsilon = 1e-9

type outcome struct {
	hit  bool
	loss float64
}

// Stats 滚动窗口统计
type Stats struct {
	// Count 样本数
	Count int64 `json:"count"`
	// Hits 命中数
	Hits int64 `json:"hits"`
	// HitRate 命中率
	HitRate float64 `json:"hit_rate"`
	// LogLoss 平均对数损失
	LogLoss float64 `json:"log_loss"`
	// Total 累计样本数（不随窗口滚出）
	Total uint64 `json:"total"`
}

// Calculator 校准统计（滚动窗口，O(1) 更新）
// 非并发安全，由 pipeline goroutine 独占。
type Calculator struct {
	windowSize int
	buf        []outcome
	pos        int
	full       bool

	count   int64
	hits    int64
	sumLoss float64
	total   uint64
}

// NewCalculator 创建校准统计
// 参数 windowSize: 滚动窗口大小（<=0 时为 1000）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]outcome, windowSize),
	}
}

// Add 记录一次训练结果
// 参数 p: 训练前的预测概率
// 参数 label: 标签（0 或 1）
func (c *Calculator) Add(p, label float64) {
	if math.IsNaN(p) {
		return
	}
	pc := math.Min(math.Max(p, Epsilon), 1-Epsilon)
	o := outcome{
		hit:  (p > 0.5) == (label > 0.5),
		loss: -(label*math.Log(pc) + (1-label)*math.Log(1-pc)),
	}

	if c.full {
		old := c.buf[c.pos]
		c.count--
		if old.hit {
			c.hits--
		}
		c.sumLoss -= old.loss
	}

	c.buf[c.pos] = o
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.count++
	if o.hit {
		c.hits++
	}
	c.sumLoss += o.loss
	c.total++
}

// Stats 返回当前窗口统计
func (c *Calculator) Stats() Stats {
	out := Stats{Count: c.count, Hits: c.hits, Total: c.total}
	if c.count <= 0 {
		return out
	}
	out.HitRate = float64(c.hits) / float64(c.count)
	out.LogLoss = math.Max(0, c.sumLoss/float64(c.count))
	return out
}
