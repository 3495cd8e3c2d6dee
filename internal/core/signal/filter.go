package signal

import (
	"okx-signal-pipeline/internal/config"
	"okx-signal-pipeline/internal/core/model"
)

// 过滤原因
const (
	// ReasonFlat 方向为 flat
	ReasonFlat = "flat"
	// ReasonLowConfidence 置信度低于阈值
	ReasonLowConfidence = "low_confidence"
)

// Evaluate 按阈值过滤信号
// 通过条件: confidence >= min_confidence 且 direction != flat（边界含等号）。
// 被拒绝的信号仍然返回，Forwarded=false 并标记 RejectReason。
func Evaluate(sig model.Signal, cfg config.FilterConfig) (model.Signal, bool) {
	switch {
	case sig.Direction == model.DirectionFlat:
		sig.Forwarded = false
		sig.RejectReason = ReasonFlat
	case sig.Confidence < cfg.MinConfidence:
		sig.Forwarded = false
		sig.RejectReason = ReasonLowConfidence
	default:
		sig.Forwarded = true
		sig.RejectReason = ""
	}
	return sig, sig.Forwarded
}

// Filter 带计数的信号过滤器
type Filter struct {
	cfg config.FilterConfig

	passed   uint64
	rejected uint64
}

// NewFilter 创建过滤器
func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Evaluate 过滤信号并累加计数
func (f *Filter) Evaluate(sig model.Signal) (model.Signal, bool) {
	out, ok := Evaluate(sig, f.cfg)
	if ok {
		f.passed++
	} else {
		f.rejected++
	}
	return out, ok
}

// Passed 通过数
func (f *Filter) Passed() uint64 {
	return f.passed
}

// Rejected 拒绝数
func (f *Filter) Rejected() uint64 {
	return f.rejected
}
