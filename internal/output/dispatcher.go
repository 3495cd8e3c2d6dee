// Package output 把过滤后的信号交付到下游 sink。
package output

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"okx-signal-pipeline/internal/core/model"
	"okx-signal-pipeline/internal/output/jsonl"
)

// Sink 信号下游，Write 不得阻塞
type Sink interface {
	Write(v any) error
}

// Stats 交付统计
type Stats struct {
	// Forwarded 交付的可执行信号
	Forwarded uint64 `json:"forwarded"`
	// Rejected 被过滤的信号
	Rejected uint64 `json:"rejected"`
	// RejectedEmitted 以 forwarded=false 写出的被过滤信号
	RejectedEmitted uint64 `json:"rejected_emitted"`
	// SinkDrops sink 队列满导致的丢弃
	SinkDrops uint64 `json:"sink_drops"`
	// SinkErrors 其他 sink 错误
	SinkErrors uint64 `json:"sink_errors"`
}

// Dispatcher 信号分发器
// 可被多个合约的 pipeline goroutine 并发调用。
type Dispatcher struct {
	sink         Sink
	emitRejected bool
	logger       *zap.Logger

	forwarded       atomic.Uint64
	rejected        atomic.Uint64
	rejectedEmitted atomic.Uint64
	sinkDrops       atomic.Uint64
	sinkErrors      atomic.Uint64
}

// NewDispatcher 创建分发器
// 参数 sink: 下游（通常为 jsonl.Writer）
// 参数 emitRejected: 是否写出被过滤的信号
func NewDispatcher(sink Sink, emitRejected bool, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sink:         sink,
		emitRejected: emitRejected,
		logger:       logger.Named("dispatch"),
	}
}

// Dispatch 交付一条信号
// Forwarded=false 的信号只计数，除非开启 emitRejected。
func (d *Dispatcher) Dispatch(sig *model.Signal) {
	if !sig.Forwarded {
		d.rejected.Add(1)
		if !d.emitRejected {
			return
		}
	}

	// 按值投递，sink 异步编码时不与调用方共享可变状态
	err := d.sink.Write(*sig)
	switch {
	case err == nil:
		if sig.Forwarded {
			d.forwarded.Add(1)
		} else {
			d.rejectedEmitted.Add(1)
		}
	case errors.Is(err, jsonl.ErrBufferFull):
		d.sinkDrops.Add(1)
	default:
		if d.sinkErrors.Add(1) == 1 {
			d.logger.Warn("信号写出失败", zap.Error(err))
		}
	}
}

// Stats 返回交付统计
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Forwarded:       d.forwarded.Load(),
		Rejected:        d.rejected.Load(),
		RejectedEmitted: d.rejectedEmitted.Load(),
		SinkDrops:       d.sinkDrops.Load(),
		SinkErrors:      d.sinkErrors.Load(),
	}
}
