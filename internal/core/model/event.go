// Package model 定义流水线中使用的核心数据结构。
// 包含行情事件、特征向量、信号等类型。
package model

// EventKind 行情事件类型
type EventKind uint8

const (
	// EventTrade 逐笔成交
	EventTrade EventKind = iota + 1
	// EventBook 盘口一档更新
	EventBook
)

// String 返回事件类型名称
func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "trade"
	case EventBook:
		return "book"
	default:
		return "unknown"
	}
}

// Side 成交方向（主动方）
type Side uint8

const (
	// SideUnknown 未知方向
	SideUnknown Side = iota
	// SideBuy 主动买
	SideBuy
	// SideSell 主动卖
	SideSell
)

// String 返回方向名称
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "?"
	}
}

// ParseSide 将交易所方向字段转换为 Side
func ParseSide(s string) Side {
	switch s {
	case "buy", "BUY", "Buy":
		return SideBuy
	case "sell", "SELL", "Sell":
		return SideSell
	default:
		return SideUnknown
	}
}

// Trade 成交负载
type Trade struct {
	// Price 成交价
	Price float64
	// Size 成交量
	Size float64
	// Side 主动方向
	Side Side
}

// BookUpdate 盘口一档负载
type BookUpdate struct {
	// BidPx 买一价
	BidPx float64
	// BidSize 买一量
	BidSize float64
	// AskPx 卖一价
	AskPx float64
	// AskSize 卖一量
	AskSize float64
}

// MidPrice 计算中间价
func (b BookUpdate) MidPrice() float64 {
	return (b.BidPx + b.AskPx) / 2
}

// Spread 计算买卖价差: AskPx - BidPx
func (b BookUpdate) Spread() float64 {
	return b.AskPx - b.BidPx
}

// Imbalance 计算一档量不平衡
// 公式: (BidSize - AskSize) / (BidSize + AskSize)，分母为 0 时返回 0
func (b BookUpdate) Imbalance() float64 {
	den := b.BidSize + b.AskSize
	if den == 0 {
		return 0
	}
	return (b.BidSize - b.AskSize) / den
}

// MarketEvent 已解码的行情事件（Trade | BookUpdate 二选一）
// 事件在解析边界一次性构造，之后按值传递，核心路径不再检查字段是否存在。
type MarketEvent struct {
	// Kind 事件类型
	Kind EventKind
	// Instrument 合约 ID，如 HYPE-USDT
	Instrument string
	// ExchTsUs 交易所事件时间（微秒）
	ExchTsUs int64
	// ArrivalUs 本机收到帧的时间（微秒）
	ArrivalUs int64
	// ParsedUs 解析完成时间（微秒），0 表示未记录
	ParsedUs int64
	// Seq 按合约单调递增的序列号（由解析器分配）
	Seq uint64
	// Trade 成交负载，仅 Kind == EventTrade 时有效
	Trade Trade
	// Book 盘口负载，仅 Kind == EventBook 时有效
	Book BookUpdate
}

// NewTrade 构造成交事件
func NewTrade(instrument string, seq uint64, exchTsUs, arrivalUs int64, t Trade) MarketEvent {
	return MarketEvent{
		Kind:       EventTrade,
		Instrument: instrument,
		ExchTsUs:   exchTsUs,
		ArrivalUs:  arrivalUs,
		Seq:        seq,
		Trade:      t,
	}
}

// NewBook 构造盘口事件
func NewBook(instrument string, seq uint64, exchTsUs, arrivalUs int64, b BookUpdate) MarketEvent {
	return MarketEvent{
		Kind:       EventBook,
		Instrument: instrument,
		ExchTsUs:   exchTsUs,
		ArrivalUs:  arrivalUs,
		Seq:        seq,
		Book:       b,
	}
}

// IsTrade 是否为成交事件
func (e *MarketEvent) IsTrade() bool {
	return e.Kind == EventTrade
}

// IsBook 是否为盘口事件
func (e *MarketEvent) IsBook() bool {
	return e.Kind == EventBook
}
