// Package okx 实现 OKX 公共频道消息解析。
// 字段映射: ts(ms) -> ExchTsUs, 合约内单调序列号由解析器分配。
package okx

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"okx-signal-pipeline/internal/core/model"
	"okx-signal-pipeline/internal/util/fastparse"
	"okx-signal-pipeline/internal/util/timeutil"
)

// Parser OKX 消息解析器
// 非并发安全，只在读循环 goroutine 中调用。
type Parser struct {
	// seqs 每个已配置合约的下一个序列号
	seqs map[string]uint64
	// bookChannel 盘口频道名
	bookChannel string
	// now 解析完成时刻
	now timeutil.Clock
	// skipped 被跳过的畸形条目（可跨 goroutine 读取）
	skipped atomic.Uint64
}

// NewParser 创建解析器
// 参数 instruments: 已配置合约，未配置的合约数据会被忽略
// 参数 bookChannel: books5 或 bbo-tbt
func NewParser(instruments []string, bookChannel string) *Parser {
	seqs := make(map[string]uint64, len(instruments))
	for _, inst := range instruments {
		seqs[inst] = 0
	}
	return &Parser{
		seqs:        seqs,
		bookChannel: bookChannel,
		now:         timeutil.NowMicro,
	}
}

// SetClock 替换解析完成时刻的时钟（测试用）
func (p *Parser) SetClock(c timeutil.Clock) {
	p.now = c
}

// Parse 解析一帧
// 参数 data: 已解压的帧
// 参数 arrivalUs: 帧到达时间（微秒）
// 返回: 行情事件；事件帧、pong 和未订阅频道返回 nil, nil；帧级 JSON 错误返回 error。
// 单条数据畸形时跳过该条并计数，不影响同帧其他数据。
func (p *Parser) Parse(data []byte, arrivalUs int64) ([]model.MarketEvent, error) {
	return p.AppendParse(nil, data, arrivalUs)
}

// AppendParse 与 Parse 相同，结果追加到 dst
func (p *Parser) AppendParse(dst []model.MarketEvent, data []byte, arrivalUs int64) ([]model.MarketEvent, error) {
	dst, _, err := p.AppendParseFrame(dst, data, arrivalUs)
	return dst, err
}

// AppendParseFrame 与 AppendParse 相同，另外返回事件帧
// 返回: evt 非 nil 表示事件帧（subscribe / error 等），此时不产生行情事件。
// 整帧只解码一次。
func (p *Parser) AppendParseFrame(dst []model.MarketEvent, data []byte, arrivalUs int64) ([]model.MarketEvent, *EventResponse, error) {
	if IsPong(data) {
		return dst, nil, nil
	}

	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return dst, nil, fmt.Errorf("解析 OKX 消息失败: %w", err)
	}
	if msg.Event != "" {
		arg := msg.Arg
		return dst, &EventResponse{Event: msg.Event, Arg: &arg, Code: msg.Code, Msg: msg.Msg, ConnId: msg.ConnId}, nil
	}
	if len(msg.Data) == 0 {
		return dst, nil, nil
	}

	var err error
	dst, err = p.appendData(dst, &msg, arrivalUs)
	return dst, nil, err
}

// appendData 按频道解码 data 数组
func (p *Parser) appendData(dst []model.MarketEvent, msg *PushMessage, arrivalUs int64) ([]model.MarketEvent, error) {
	switch msg.Arg.Channel {
	case ChannelTrades:
		var items []TradeData
		if err := json.Unmarshal(msg.Data, &items); err != nil {
			return dst, fmt.Errorf("解析 trades 数据失败: %w", err)
		}
		parsedUs := p.now()
		for i := range items {
			ev, ok := p.trade(&items[i], msg.Arg.InstId, arrivalUs, parsedUs)
			if ok {
				dst = append(dst, ev)
			}
		}
	case ChannelBooks5, ChannelBBOTbt:
		if msg.Arg.Channel != p.bookChannel {
			return dst, nil
		}
		var items []BookData
		if err := json.Unmarshal(msg.Data, &items); err != nil {
			return dst, fmt.Errorf("解析 %s 数据失败: %w", msg.Arg.Channel, err)
		}
		parsedUs := p.now()
		for i := range items {
			ev, ok := p.book(&items[i], msg.Arg.InstId, arrivalUs, parsedUs)
			if ok {
				dst = append(dst, ev)
			}
		}
	}
	return dst, nil
}

func (p *Parser) trade(d *TradeData, argInst string, arrivalUs, parsedUs int64) (model.MarketEvent, bool) {
	inst := d.InstId
	if inst == "" {
		inst = argInst
	}
	if _, ok := p.seqs[inst]; !ok {
		return model.MarketEvent{}, false
	}

	tsUs, err := fastparse.MsToMicro(d.Ts)
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}
	px, err := fastparse.NonNegFloat(d.Px)
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}
	sz, err := fastparse.NonNegFloat(d.Sz)
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}

	ev := model.NewTrade(inst, p.nextSeq(inst), tsUs, arrivalUs, model.Trade{
		Price: px,
		Size:  sz,
		Side:  model.ParseSide(d.Side),
	})
	ev.ParsedUs = parsedUs
	return ev, true
}

func (p *Parser) book(d *BookData, argInst string, arrivalUs, parsedUs int64) (model.MarketEvent, bool) {
	inst := d.InstId
	if inst == "" {
		inst = argInst
	}
	if _, ok := p.seqs[inst]; !ok {
		return model.MarketEvent{}, false
	}
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}

	tsUs, err := fastparse.MsToMicro(d.Ts)
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}
	bidPx, bidSz, err := fastparse.Level(d.Bids[0])
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}
	askPx, askSz, err := fastparse.Level(d.Asks[0])
	if err != nil {
		p.skipped.Add(1)
		return model.MarketEvent{}, false
	}

	ev := model.NewBook(inst, p.nextSeq(inst), tsUs, arrivalUs, model.BookUpdate{
		BidPx:   bidPx,
		BidSize: bidSz,
		AskPx:   askPx,
		AskSize: askSz,
	})
	ev.ParsedUs = parsedUs
	return ev, true
}

// nextSeq 分配合约内序列号，从 1 开始
func (p *Parser) nextSeq(inst string) uint64 {
	s := p.seqs[inst] + 1
	p.seqs[inst] = s
	return s
}

// Skipped 被跳过的畸形条目数
func (p *Parser) Skipped() uint64 {
	return p.skipped.Load()
}

// IsPong 判断是否为 pong 响应
func IsPong(data []byte) bool {
	return string(data) == "pong"
}
