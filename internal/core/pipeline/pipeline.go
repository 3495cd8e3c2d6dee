// Package pipeline 串联单个合约的热路径:
// 环形缓冲 → 时间窗聚合 → 信号引擎 → 过滤 → 交付，并在各阶段边界记录时延。
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"okx-signal-pipeline/internal/config"
	"okx-signal-pipeline/internal/core/model"
	"okx-signal-pipeline/internal/core/ring"
	"okx-signal-pipeline/internal/core/signal"
	"okx-signal-pipeline/internal/core/window"
	"okx-signal-pipeline/internal/stats/calib"
	"okx-signal-pipeline/internal/stats/latency"
	"okx-signal-pipeline/internal/util/timeutil"
)

// Dispatcher 信号下游，不得阻塞
type Dispatcher interface {
	Dispatch(sig *model.Signal)
}

// Option 构造选项
type Option func(*Pipeline)

// WithClock 替换阶段计时时钟
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.now = c }
}

// WithLogger 设置日志记录器（只在 Run 的汇报与退出时使用）
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithReporter 设置周期汇报回调，在流水线 goroutine 中调用
func WithReporter(fn func(Stats)) Option {
	return func(p *Pipeline) { p.reporter = fn }
}

// Stats 流水线统计快照
type Stats struct {
	Instrument string `json:"instrument"`
	// Events 已处理事件数
	Events uint64 `json:"events"`
	Trades uint64 `json:"trades"`
	Books  uint64 `json:"books"`
	// RingDropped 环形缓冲覆盖丢弃
	RingDropped uint64 `json:"ring_dropped"`
	// SeqGaps 消费时发现的序列号缺口
	SeqGaps uint64 `json:"seq_gaps"`
	// LateTrades 乱序成交
	LateTrades int64 `json:"late_trades"`
	// StaleTrades 早于最长时间窗而被丢弃的乱序成交
	StaleTrades int64 `json:"stale_trades"`
	// WindowOverflow 成交缓存溢出
	WindowOverflow int64 `json:"window_overflow"`
	// LatencyAnomalies 时钟倒退样本
	LatencyAnomalies int64 `json:"latency_anomalies"`
	// Passed / Rejected 过滤结果
	Passed   uint64 `json:"passed"`
	Rejected uint64 `json:"rejected"`
	// ModelUpdates 训练步数
	ModelUpdates   uint64  `json:"model_updates"`
	SkippedUpdates uint64  `json:"skipped_updates"`
	LearningRate   float64 `json:"learning_rate"`
	// Calibration 训练结果校准
	Calibration calib.Stats `json:"calibration"`
	// Latency 各阶段时延统计
	Latency []latency.StageStats `json:"latency"`
}

// Pipeline 单合约流水线
// 除 Ingest 外的所有方法须在同一 goroutine 中调用。
type Pipeline struct {
	instrument string

	ring    *ring.Buffer
	tracker *latency.Tracker
	agg     *window.Aggregator
	engine  *signal.Engine
	filter  *signal.Filter
	labeler *MidMoveLabeler
	calib   *calib.Calculator

	now          timeutil.Clock
	logger       *zap.Logger
	reporter     func(Stats)
	reportEvery  time.Duration
	refreshEvery int

	// percentiles 最近一次分位数快照，刷新时整体替换，已交付的信号可继续引用旧切片
	percentiles  []model.StageLatency
	sinceRefresh int

	lastSeq uint64
	seqGaps uint64
	events  uint64
	trades  uint64
	books   uint64
}

// New 创建单合约流水线
func New(instrument string, cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		instrument:   instrument,
		ring:         ring.New(cfg.Pipeline.RingCapacity),
		tracker:      latency.NewTracker(cfg.Pipeline.LatencyWindow),
		agg:          window.New(cfg.Pipeline.HorizonsUs(), cfg.Pipeline.TradeCapacity),
		engine:       signal.NewEngine(instrument, cfg.Model, cfg.Filter),
		filter:       signal.NewFilter(cfg.Filter),
		calib:        calib.NewCalculator(0),
		now:          timeutil.NowMicro,
		logger:       zap.NewNop(),
		reportEvery:  time.Duration(cfg.Output.ReportIntervalMs) * time.Millisecond,
		refreshEvery: cfg.Pipeline.PercentileRefresh,
	}
	if cfg.Model.OnlineTraining {
		p.labeler = &MidMoveLabeler{}
	}
	if p.refreshEvery <= 0 {
		p.refreshEvery = 1
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("instrument", instrument))
	return p
}

// Instrument 合约 ID
func (p *Pipeline) Instrument() string {
	return p.instrument
}

// Ingest 写入环形缓冲，O(1)，永不阻塞
func (p *Pipeline) Ingest(ev model.MarketEvent) {
	p.ring.Push(ev)
}

// Flush 按到达顺序处理缓冲内全部事件
// 参数 emit: 每个信号（含被过滤的）的回调，可为 nil；信号指针仅在回调期间有效
// 返回: 处理的事件数
func (p *Pipeline) Flush(emit func(sig *model.Signal)) int {
	return p.ring.Drain(func(ev *model.MarketEvent) {
		sig := p.process(ev)
		if emit != nil {
			emit(&sig)
		}
	})
}

// Process 写入并立即处理一条事件
// 返回: 最后一条事件产生的信号
func (p *Pipeline) Process(ev model.MarketEvent) model.Signal {
	p.Ingest(ev)
	var last model.Signal
	p.Flush(func(sig *model.Signal) { last = *sig })
	return last
}

// process 单事件热路径
func (p *Pipeline) process(ev *model.MarketEvent) model.Signal {
	p.events++
	if ev.IsTrade() {
		p.trades++
	} else {
		p.books++
	}
	// 序列号从 1 开始，被覆盖或在上游丢弃的事件表现为缺口
	if ev.Seq > p.lastSeq+1 {
		p.seqGaps += ev.Seq - p.lastSeq - 1
	}
	if ev.Seq > p.lastSeq {
		p.lastSeq = ev.Seq
	}

	var lat model.LatencyBreakdown
	lat.ReceiveUs = p.tracker.RecordSpan(latency.StageReceive, ev.ExchTsUs, ev.ArrivalUs)
	if ev.ParsedUs != 0 {
		lat.ParseUs = p.tracker.RecordSpan(latency.StageParse, ev.ArrivalUs, ev.ParsedUs)
	}

	t0 := p.now()
	p.agg.Update(ev)
	f := p.agg.Features()
	t1 := p.now()
	lat.FeatureUs = p.tracker.RecordSpan(latency.StageFeatureCompute, t0, t1)

	if p.labeler != nil && ev.IsBook() {
		if x, label, ok := p.labeler.Observe(ev.Book, f); ok {
			prob := p.engine.Train(x, label)
			p.calib.Add(prob, label)
		}
	}
	sig := p.engine.Evaluate(f, ev)
	sig, _ = p.filter.Evaluate(sig)
	t2 := p.now()
	lat.SignalUs = p.tracker.RecordSpan(latency.StageSignalCompute, t1, t2)

	if p.sinceRefresh == 0 {
		p.percentiles = p.tracker.StageLatencies(nil)
	}
	p.sinceRefresh++
	if p.sinceRefresh >= p.refreshEvery {
		p.sinceRefresh = 0
	}

	sig.Latency = lat
	sig.Percentiles = p.percentiles
	return sig
}

// RecordDispatch 记录交付阶段耗时
// 交付发生在信号生成之后，因此只进入后续信号的分位数快照。
func (p *Pipeline) RecordDispatch(startUs, endUs int64) {
	p.tracker.RecordSpan(latency.StageDispatch, startUs, endUs)
}

// Stats 返回统计快照
func (p *Pipeline) Stats() Stats {
	st := p.engine.State()
	return Stats{
		Instrument:       p.instrument,
		Events:           p.events,
		Trades:           p.trades,
		Books:            p.books,
		RingDropped:      p.ring.Dropped(),
		SeqGaps:          p.seqGaps,
		LateTrades:       p.agg.LateTrades(),
		StaleTrades:      p.agg.StaleTrades(),
		WindowOverflow:   p.agg.Overflow(),
		LatencyAnomalies: p.tracker.TotalAnomalies(),
		Passed:           p.filter.Passed(),
		Rejected:         p.filter.Rejected(),
		ModelUpdates:     st.Updates,
		SkippedUpdates:   p.engine.SkippedUpdates(),
		LearningRate:     st.LearningRate,
		Calibration:      p.calib.Stats(),
		Latency:          p.tracker.Snapshot(),
	}
}

// Model 返回模型状态副本
func (p *Pipeline) Model() signal.ModelState {
	return p.engine.State()
}

// Run 单合约事件循环
// 阻塞等待事件，随后非阻塞地把通道中已有的事件搬入环形缓冲，再统一处理。
// 通道中积压超过缓冲容量时，最旧的事件被覆盖并计入 RingDropped。
// ctx 取消或 in 关闭时返回，退出前处理缓冲中剩余事件。
func (p *Pipeline) Run(ctx context.Context, in <-chan model.MarketEvent, d Dispatcher) {
	var tick <-chan time.Time
	if p.reportEvery > 0 {
		t := time.NewTicker(p.reportEvery)
		defer t.Stop()
		tick = t.C
	}

	emit := func(sig *model.Signal) {
		start := p.now()
		d.Dispatch(sig)
		p.RecordDispatch(start, p.now())
	}

	for {
		select {
		case <-ctx.Done():
			p.Flush(emit)
			p.logger.Info("流水线退出", zap.Uint64("events", p.events))
			return
		case ev, ok := <-in:
			if !ok {
				p.Flush(emit)
				p.logger.Info("事件通道已关闭，流水线退出", zap.Uint64("events", p.events))
				return
			}
			p.Ingest(ev)
			for n := len(in); n > 0; n-- {
				ev, ok = <-in
				if !ok {
					break
				}
				p.Ingest(ev)
			}
			p.Flush(emit)
		case <-tick:
			p.report()
		}
	}
}

// report 输出周期汇报
func (p *Pipeline) report() {
	st := p.Stats()
	fields := []zap.Field{
		zap.Uint64("events", st.Events),
		zap.Uint64("ring_dropped", st.RingDropped),
		zap.Uint64("seq_gaps", st.SeqGaps),
		zap.Int64("latency_anomalies", st.LatencyAnomalies),
		zap.Uint64("passed", st.Passed),
		zap.Uint64("rejected", st.Rejected),
		zap.Uint64("model_updates", st.ModelUpdates),
		zap.Float64("hit_rate", st.Calibration.HitRate),
		zap.Float64("log_loss", st.Calibration.LogLoss),
	}
	for _, s := range st.Latency {
		fields = append(fields, zap.Int64(s.Stage+"_p50_us", s.P50Us), zap.Int64(s.Stage+"_p95_us", s.P95Us))
	}
	p.logger.Info("流水线统计", fields...)

	if p.reporter != nil {
		p.reporter(st)
	}
}
