// Package latency 实现分阶段的时延测量和滚动分位数统计。
// 每个阶段维护独立的有界样本窗口（默认最近 2048 条），分位数为窗口内的精确次序统计量。
package latency

import (
	"slices"

	"okx-signal-pipeline/internal/core/model"
)

// DefaultWindowSize 默认滚动窗口大小
const DefaultWindowSize = 2048

// Stage 流水线阶段
type Stage uint8

const (
	// StageReceive 网络接收：到达时间 - 交易所时间
	StageReceive Stage = iota
	// StageParse 帧解析
	StageParse
	// StageFeatureCompute 特征计算
	StageFeatureCompute
	// StageSignalCompute 模型推断与过滤
	StageSignalCompute
	// StageDispatch 信号交付
	StageDispatch

	numStages
)

// Stages 所有阶段（按流水线顺序）
var Stages = [...]Stage{StageReceive, StageParse, StageFeatureCompute, StageSignalCompute, StageDispatch}

// String 返回阶段名称
func (s Stage) String() string {
	switch s {
	case StageReceive:
		return "receive"
	case StageParse:
		return "parse"
	case StageFeatureCompute:
		return "feature"
	case StageSignalCompute:
		return "signal"
	case StageDispatch:
		return "dispatch"
	default:
		return "unknown"
	}
}

// Sample 单条阶段样本
type Sample struct {
	// Stage 阶段
	Stage Stage
	// DurationUs 耗时（微秒），异常样本为 0
	DurationUs int64
	// TsUs 采样时间（微秒）
	TsUs int64
	// Anomalous 时钟倒退导致的异常样本
	Anomalous bool
}

// StageStats 阶段统计快照（滚动窗口）
// 单位：微秒。
type StageStats struct {
	// Stage 阶段名称
	Stage string `json:"stage"`
	// Count 有效样本总数（累计，不含异常）
	Count int64 `json:"count"`
	// Anomalies 异常样本总数（累计）
	Anomalies int64 `json:"anomalies"`
	// Window 当前窗口内样本数
	Window int `json:"window"`
	// P50Us 中位数
	P50Us int64 `json:"p50_us"`
	// P95Us 95 分位
	P95Us int64 `json:"p95_us"`
	// P99Us 99 分位
	P99Us int64 `json:"p99_us"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	// scratch 排序用临时缓冲，避免每次分配
	scratch []int64
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{
		size:    size,
		buf:     make([]int64, 0, size),
		scratch: make([]int64, 0, size),
	}
}

func (w *rollingWindow) add(v int64) {
	w.count++

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

// quantiles 计算窗口内的次序统计量
// 下标取 int((n-1)*q)，对 1..100 的 p50/p95 恰为 50/95。
func (w *rollingWindow) quantiles(out []int64, qs ...float64) []int64 {
	out = out[:0]
	if len(w.buf) == 0 {
		for range qs {
			out = append(out, 0)
		}
		return out
	}

	w.scratch = append(w.scratch[:0], w.buf...)
	slices.Sort(w.scratch)

	n := len(w.scratch)
	for _, q := range qs {
		out = append(out, w.scratch[quantileIndex(n, q)])
	}
	return out
}

func quantileIndex(n int, q float64) int {
	if q <= 0 {
		return 0
	}
	if q >= 1 {
		return n - 1
	}
	idx := int(float64(n-1) * q)
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

type stageTracker struct {
	window    *rollingWindow
	anomalies int64
	last      Sample
}

// Tracker 分阶段时延追踪器
// 单写者：由所属流水线 goroutine 独占，不加锁；跨 goroutine 请传递 Snapshot 结果。
type Tracker struct {
	stages [numStages]stageTracker
	qbuf   []int64
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 每个阶段的滚动窗口大小（<=0 时使用 DefaultWindowSize）
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	t := &Tracker{qbuf: make([]int64, 0, 3)}
	for i := range t.stages {
		t.stages[i].window = newRollingWindow(windowSize)
	}
	return t
}

// Record 记录一条阶段耗时
// 负值被钳制为 0 并计入异常计数，不参与分位数计算。
// 返回: 实际记录的耗时
func (t *Tracker) Record(stage Stage, durationUs, tsUs int64) int64 {
	if stage >= numStages {
		return 0
	}
	st := &t.stages[stage]
	if durationUs < 0 {
		st.anomalies++
		st.last = Sample{Stage: stage, DurationUs: 0, TsUs: tsUs, Anomalous: true}
		return 0
	}
	st.window.add(durationUs)
	st.last = Sample{Stage: stage, DurationUs: durationUs, TsUs: tsUs}
	return durationUs
}

// RecordSpan 基于起止时间戳记录阶段耗时
// 结束时间早于开始时间视为时钟异常。
func (t *Tracker) RecordSpan(stage Stage, startUs, endUs int64) int64 {
	return t.Record(stage, endUs-startUs, endUs)
}

// Percentiles 获取阶段的 P50/P95
// 返回: ok=false 表示窗口内尚无样本
func (t *Tracker) Percentiles(stage Stage) (p50, p95 int64, ok bool) {
	if stage >= numStages {
		return 0, 0, false
	}
	w := t.stages[stage].window
	if len(w.buf) == 0 {
		return 0, 0, false
	}
	t.qbuf = w.quantiles(t.qbuf, 0.50, 0.95)
	return t.qbuf[0], t.qbuf[1], true
}

// Last 获取阶段的最后一条样本
func (t *Tracker) Last(stage Stage) Sample {
	if stage >= numStages {
		return Sample{}
	}
	return t.stages[stage].last
}

// Anomalies 获取阶段的异常计数
func (t *Tracker) Anomalies(stage Stage) int64 {
	if stage >= numStages {
		return 0
	}
	return t.stages[stage].anomalies
}

// TotalAnomalies 所有阶段的异常计数之和
func (t *Tracker) TotalAnomalies() int64 {
	var n int64
	for i := range t.stages {
		n += t.stages[i].anomalies
	}
	return n
}

// Stats 获取指定阶段的统计快照
func (t *Tracker) Stats(stage Stage) StageStats {
	if stage >= numStages {
		return StageStats{Stage: stage.String()}
	}
	st := &t.stages[stage]
	t.qbuf = st.window.quantiles(t.qbuf, 0.50, 0.95, 0.99)
	return StageStats{
		Stage:     stage.String(),
		Count:     st.window.count,
		Anomalies: st.anomalies,
		Window:    len(st.window.buf),
		P50Us:     t.qbuf[0],
		P95Us:     t.qbuf[1],
		P99Us:     t.qbuf[2],
	}
}

// Snapshot 获取所有阶段的统计快照
func (t *Tracker) Snapshot() []StageStats {
	out := make([]StageStats, 0, len(Stages))
	for _, s := range Stages {
		out = append(out, t.Stats(s))
	}
	return out
}

// StageLatencies 导出有样本阶段的 P50/P95，用于附加到信号上
// 参数 dst: 复用的目标切片，可为 nil
func (t *Tracker) StageLatencies(dst []model.StageLatency) []model.StageLatency {
	dst = dst[:0]
	for _, s := range Stages {
		p50, p95, ok := t.Percentiles(s)
		if !ok {
			continue
		}
		dst = append(dst, model.StageLatency{Stage: s.String(), P50Us: p50, P95Us: p95})
	}
	return dst
}
