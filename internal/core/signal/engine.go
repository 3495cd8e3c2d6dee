// Package signal 实现在线逻辑回归信号引擎和阈值过滤。
package signal

import (
	"math"

	"okx-signal-pipeline/internal/config"
	"okx-signal-pipeline/internal/core/model"
)

// ProbEpsilon 训练时预测概率的裁剪边界，避免 log-loss 发散
const ProbEpsilon = 1e-9

// ModelState 模型状态
// 由单个 Engine 实例独占，不在合约之间共享。
type ModelState struct {
	// Weights 权重: [imbalance_top1, spread, vol10, vol50, vol100, bias]
	Weights [model.FeatureCount]float64 `json:"weights"`
	// LearningRate 当前学习率（Train 使用）
	LearningRate float64 `json:"learning_rate"`
	// Updates 累计训练次数
	Updates uint64 `json:"updates"`
}

// Engine 信号引擎（单合约）
// 每个合约应创建独立实例；PredictProba 与 FitPartial 须在同一 goroutine 中串行调用。
type Engine struct {
	// instrument 合约 ID
	instrument string
	// cfg 模型配置
	cfg config.ModelConfig
	// thresholds 方向阈值与仓位上限
	thresholds config.FilterConfig

	// state 模型状态
	state ModelState

	// skippedUpdates 因数值非有限而放弃的训练步数
	skippedUpdates uint64
}

// NewEngine 创建信号引擎
// 参数 instrument: 合约 ID
// 参数 cfg: 模型配置
// 参数 thresholds: 过滤配置（方向阈值与最大仓位）
func NewEngine(instrument string, cfg config.ModelConfig, thresholds config.FilterConfig) *Engine {
	return &Engine{
		instrument: instrument,
		cfg:        cfg,
		thresholds: thresholds,
		state: ModelState{
			LearningRate: cfg.LearningRate,
		},
	}
}

// PredictProba 计算上涨概率: sigmoid(dot(weights, x))
// 纯函数：相同的输入与模型状态总是返回相同结果。
func (e *Engine) PredictProba(x [model.FeatureCount]float64) float64 {
	return sigmoid(dot(&e.state.Weights, &x))
}

// FitPartial 执行一步随机梯度更新
// weights += lr × (label - p) × x，其中 p 裁剪到 [ε, 1-ε]。
// 参数 label: 外部提供的标签（0 或 1）
// 参数 lr: 本步学习率
// 返回: 更新前的（裁剪后）预测概率
func (e *Engine) FitPartial(x [model.FeatureCount]float64, label, lr float64) float64 {
	p := clip(e.PredictProba(x), ProbEpsilon, 1-ProbEpsilon)
	g := lr * (label - p)

	// 先在副本上计算，出现非有限值时整步放弃，保证权重更新的原子性
	next := e.state.Weights
	for i := range next {
		next[i] += g * x[i]
		if math.IsNaN(next[i]) || math.IsInf(next[i], 0) {
			e.skippedUpdates++
			return p
		}
	}
	e.state.Weights = next
	e.state.Updates++
	return p
}

// Train 使用学习率衰减计划训练一步
// 本步使用 max(lr, min_lr)，之后 lr = max(min_lr, lr × decay)。
func (e *Engine) Train(x [model.FeatureCount]float64, label float64) float64 {
	lr := math.Max(e.state.LearningRate, e.cfg.MinLearningRate)
	p := e.FitPartial(x, label, lr)
	e.state.LearningRate = math.Max(e.cfg.MinLearningRate, e.state.LearningRate*e.cfg.LearningRateDecay)
	return p
}

// Evaluate 基于特征生成信号（未过滤）
// 参数 f: 当前特征
// 参数 ev: 触发事件
func (e *Engine) Evaluate(f model.Features, ev *model.MarketEvent) model.Signal {
	p := e.PredictProba(f.Vector())
	conf := Confidence(p)
	return model.Signal{
		Instrument:   e.instrument,
		Seq:          ev.Seq,
		SourceTsUs:   ev.ExchTsUs,
		EventKind:    ev.Kind.String(),
		Probability:  p,
		Confidence:   conf,
		Direction:    Classify(p, e.thresholds),
		PositionSize: PositionSize(conf, e.thresholds.MaxPosition),
		Features:     f,
	}
}

// State 返回模型状态副本
func (e *Engine) State() ModelState {
	return e.state
}

// Instrument 返回合约 ID
func (e *Engine) Instrument() string {
	return e.instrument
}

// SkippedUpdates 因数值问题放弃的训练步数
func (e *Engine) SkippedUpdates() uint64 {
	return e.skippedUpdates
}

// Confidence 置信度 = 2·|p - 0.5|，范围 [0, 1]
func Confidence(p float64) float64 {
	return clip(2*math.Abs(p-0.5), 0, 1)
}

// Classify 根据概率阈值判定方向
// p >= min_probability_long 为 long，p <= max_probability_short 为 short，其余为 flat。
func Classify(p float64, th config.FilterConfig) model.Direction {
	switch {
	case p >= th.MinProbabilityLong:
		return model.DirectionLong
	case p <= th.MaxProbabilityShort:
		return model.DirectionShort
	default:
		return model.DirectionFlat
	}
}

// PositionSize 仓位 = confidence × max_position，随置信度单调不减
func PositionSize(confidence, maxPosition float64) float64 {
	if maxPosition <= 0 || confidence <= 0 {
		return 0
	}
	return confidence * maxPosition
}

// sigmoid 数值稳定的 logistic 函数
func sigmoid(z float64) float64 {
	if math.IsNaN(z) {
		return 0.5
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

func dot(w, x *[model.FeatureCount]float64) float64 {
	var s float64
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
