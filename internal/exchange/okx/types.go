// Package okx 定义 OKX 公共频道消息类型。
package okx

import "encoding/json"

// 频道名称
const (
	// ChannelTrades 逐笔成交
	ChannelTrades = "trades"
	// ChannelBooks5 5 档深度
	ChannelBooks5 = "books5"
	// ChannelBBOTbt 逐笔一档
	ChannelBBOTbt = "bbo-tbt"
)

// SubscribeRequest 订阅请求
type SubscribeRequest struct {
	// Op 操作类型: subscribe, unsubscribe
	Op string `json:"op"`
	// Args 订阅参数列表
	Args []SubscribeArg `json:"args"`
}

// SubscribeArg 订阅参数
type SubscribeArg struct {
	// Channel 频道名称
	Channel string `json:"channel"`
	// InstId 合约 ID，如 HYPE-USDT
	InstId string `json:"instId"`
}

// EventResponse 事件帧（subscribe / error / notice）
type EventResponse struct {
	Event  string        `json:"event"`
	Arg    *SubscribeArg `json:"arg,omitempty"`
	Code   string        `json:"code,omitempty"`
	Msg    string        `json:"msg,omitempty"`
	ConnId string        `json:"connId,omitempty"`
}

// PushMessage 数据推送帧
// data 按频道延迟解码。
type PushMessage struct {
	// Event 非空表示事件帧
	Event string `json:"event,omitempty"`
	// Code 错误码（事件帧）
	Code string `json:"code,omitempty"`
	// Msg 错误消息（事件帧）
	Msg string `json:"msg,omitempty"`
	// ConnId 连接 ID（事件帧）
	ConnId string `json:"connId,omitempty"`
	// Arg 频道与合约
	Arg SubscribeArg `json:"arg"`
	// Action snapshot / update（深度频道）
	Action string `json:"action,omitempty"`
	// Data 原始数据数组
	Data json.RawMessage `json:"data"`
}

// TradeData trades 频道数据
type TradeData struct {
	InstId  string `json:"instId"`
	TradeId string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	// Ts 成交时间（毫秒字符串）
	Ts string `json:"ts"`
}

// BookData books5 / bbo-tbt 频道数据
// bids/asks 格式: [[价格, 数量, 废弃, 订单数], ...]
type BookData struct {
	Asks   [][]string `json:"asks"`
	Bids   [][]string `json:"bids"`
	Ts     string     `json:"ts"`
	SeqId  int64      `json:"seqId"`
	InstId string     `json:"instId"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount uint64
	// ParseErrorCount 帧级解析错误
	ParseErrorCount uint64
	// SkippedEntries 被跳过的畸形数据条目
	SkippedEntries uint64
	// Frames 收到的数据帧
	Frames uint64
	// LastMessageAgeMs 最后消息距今（毫秒）
	LastMessageAgeMs int64
	// WsRttMs ping/pong RTT（毫秒）
	WsRttMs int64
}
