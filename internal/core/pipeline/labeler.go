package pipeline

import "okx-signal-pipeline/internal/core/model"

// MidMoveLabeler 用下一次盘口中间价的变动给上一次盘口的特征打标签
// 中间价上涨为 1，下跌为 0，不变则跳过。
type MidMoveLabeler struct {
	prevMid float64
	prevX   [model.FeatureCount]float64
	has     bool

	labelled uint64
	skipped  uint64
}

// Observe 输入一次盘口及其特征
// 返回: 上一次盘口的特征向量与标签；ok=false 表示本次不产生训练样本
func (l *MidMoveLabeler) Observe(book model.BookUpdate, f model.Features) (x [model.FeatureCount]float64, label float64, ok bool) {
	if book.BidPx <= 0 || book.AskPx <= 0 {
		return x, 0, false
	}
	mid := book.MidPrice()

	if l.has {
		switch {
		case mid > l.prevMid:
			x, label, ok = l.prevX, 1, true
		case mid < l.prevMid:
			x, label, ok = l.prevX, 0, true
		default:
			l.skipped++
		}
		if ok {
			l.labelled++
		}
	}

	l.prevMid = mid
	l.prevX = f.Vector()
	l.has = true
	return x, label, ok
}

// Labelled 产生的样本数
func (l *MidMoveLabeler) Labelled() uint64 {
	return l.labelled
}

// Skipped 中间价不变而跳过的次数
func (l *MidMoveLabeler) Skipped() uint64 {
	return l.skipped
}
