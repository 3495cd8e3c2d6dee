// Package window 时间窗聚合器测试
package window

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"okx-signal-pipeline/internal/core/model"
)

const baseUs = int64(1_700_000_000_000_000)

func trade(tsUs int64, size float64) *model.MarketEvent {
	ev := model.NewTrade("HYPE-USDT", 0, tsUs, tsUs, model.Trade{Price: 40, Size: size, Side: model.SideBuy})
	return &ev
}

func book(tsUs int64, bidSz, askSz, bidPx, askPx float64) *model.MarketEvent {
	ev := model.NewBook("HYPE-USDT", 0, tsUs, tsUs, model.BookUpdate{BidPx: bidPx, BidSize: bidSz, AskPx: askPx, AskSize: askSz})
	return &ev
}

func TestAggregator_BoundaryInclusiveThenEvicted(t *testing.T) {
	a := NewDefault()
	a.Update(trade(baseUs, 2))

	// now - 10ms 恰好等于成交时间：保留
	a.Advance(baseUs + 10_000)
	if got := a.Features().Vol10; got != 2 {
		t.Fatalf("边界时刻 Vol10=%v, want 2", got)
	}

	// 下一个 tick 越过边界：淘汰
	a.Advance(baseUs + 10_001)
	f := a.Features()
	if f.Vol10 != 0 {
		t.Fatalf("越界后 Vol10=%v, want 0", f.Vol10)
	}
	if f.Vol50 != 2 || f.Vol100 != 2 {
		t.Fatalf("Vol50=%v Vol100=%v, want 2/2", f.Vol50, f.Vol100)
	}
	if a.WindowLen(0) != 0 || a.WindowLen(2) != 1 {
		t.Fatalf("WindowLen=(%d,%d), want (0,1)", a.WindowLen(0), a.WindowLen(2))
	}
}

func TestAggregator_MultiHorizonVolumes(t *testing.T) {
	a := NewDefault()
	now := baseUs + 1_000_000
	a.Update(trade(now-80_000, 3))
	a.Update(trade(now-30_000, 2))
	a.Update(trade(now-5_000, 1))
	a.Advance(now)

	f := a.Features()
	if f.Vol10 != 1 || f.Vol50 != 3 || f.Vol100 != 6 {
		t.Fatalf("vols=(%v,%v,%v), want (1,3,6)", f.Vol10, f.Vol50, f.Vol100)
	}
}

func TestAggregator_BookFeatures(t *testing.T) {
	a := NewDefault()

	cases := []struct {
		bid, ask float64
		want     float64
	}{
		{10, 5, 1.0 / 3.0},
		{8, 8, 0},
		{3, 12, -0.6},
		{0, 0, 0},
	}
	for i, c := range cases {
		a.Update(book(baseUs+int64(i), c.bid, c.ask, 100, 100.001))
		f := a.Features()
		if math.Abs(f.Imbalance-c.want) > 1e-12 {
			t.Fatalf("case %d Imbalance=%v, want %v", i, f.Imbalance, c.want)
		}
		if math.IsNaN(f.Imbalance) {
			t.Fatalf("case %d Imbalance 为 NaN", i)
		}
		if math.Abs(f.Spread-0.001) > 1e-9 {
			t.Fatalf("case %d Spread=%v, want 0.001", i, f.Spread)
		}
	}

	if _, ok := a.Book(); !ok {
		t.Fatalf("Book() 应返回最新快照")
	}
}

func TestAggregator_LateTradeOnlyEntersCoveringWindows(t *testing.T) {
	a := NewDefault()
	a.Update(trade(baseUs, 1))
	a.Update(book(baseUs+100_000, 1, 1, 100, 100.001))
	a.Update(trade(baseUs+50_000, 5))

	if a.LateTrades() != 1 {
		t.Fatalf("LateTrades=%d, want 1", a.LateTrades())
	}
	if a.NowUs() != baseUs+100_000 {
		t.Fatalf("时钟不应回退: %d", a.NowUs())
	}
	f := a.Features()
	if f.Vol10 != 0 || f.Vol50 != 5 || f.Vol100 != 6 {
		t.Fatalf("vols=(%v,%v,%v), want (0,5,6)", f.Vol10, f.Vol50, f.Vol100)
	}

	// 50ms 窗口在 now 越过 baseUs+100ms 后淘汰该成交
	a.Advance(baseUs + 100_001)
	f = a.Features()
	if f.Vol50 != 0 || f.Vol100 != 5 {
		t.Fatalf("vols=(%v,%v,%v), want (0,0,5)", f.Vol10, f.Vol50, f.Vol100)
	}
}

func TestAggregator_StaleTradeIsDropped(t *testing.T) {
	a := NewDefault()
	a.Update(trade(baseUs+200_000, 1))
	a.Update(trade(baseUs, 7))

	if a.LateTrades() != 1 || a.StaleTrades() != 1 {
		t.Fatalf("LateTrades=%d StaleTrades=%d, want 1/1", a.LateTrades(), a.StaleTrades())
	}
	if got := a.Features().Vol100; got != 1 {
		t.Fatalf("Vol100=%v, want 1", got)
	}
	if a.WindowLen(2) != 1 {
		t.Fatalf("WindowLen(2)=%d, want 1", a.WindowLen(2))
	}
}

func TestAggregator_LateTradeWithFullRing(t *testing.T) {
	a := New(DefaultHorizonsUs, 4)
	for i := 0; i < 4; i++ {
		a.Update(trade(baseUs+int64(i)*10_000, 1))
	}
	// 环已满，乱序成交插入到中间，最旧的一笔被挤出
	a.Update(trade(baseUs+15_000, 2))

	if a.Overflow() != 1 {
		t.Fatalf("Overflow=%d, want 1", a.Overflow())
	}
	f := a.Features()
	// now=30ms: 10ms 窗口 [20,30] 含 20/30 两笔；100ms 窗口含 10/15/20/30
	if f.Vol10 != 2 || f.Vol50 != 5 || f.Vol100 != 5 {
		t.Fatalf("vols=(%v,%v,%v), want (2,5,5)", f.Vol10, f.Vol50, f.Vol100)
	}
}

func TestAggregator_OverflowEvictsOldest(t *testing.T) {
	a := New(DefaultHorizonsUs, 4)
	for i := 0; i < 6; i++ {
		a.Update(trade(baseUs+int64(i), 1))
	}
	if a.Overflow() != 2 {
		t.Fatalf("Overflow=%d, want 2", a.Overflow())
	}
	if got := a.Features().Vol100; got != 4 {
		t.Fatalf("Vol100=%v, want 4", got)
	}
}

func bruteForceMatches(a *Aggregator, ts []int64, sizes []float64, now int64) bool {
	f := a.Features()
	got := [NumHorizons]float64{f.Vol10, f.Vol50, f.Vol100}
	for h, span := range DefaultHorizonsUs {
		var want float64
		for i := range ts {
			if ts[i] >= now-span {
				want += sizes[i]
			}
		}
		if math.Abs(got[h]-want) > 1e-6 {
			return false
		}
	}
	return true
}

func TestAggregator_MatchesBruteForce_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("滚动和与暴力求和一致", prop.ForAll(
		func(gaps []int64, sizes []float64) bool {
			n := len(gaps)
			if len(sizes) < n {
				n = len(sizes)
			}
			a := NewDefault()
			ts := make([]int64, 0, n)
			now := baseUs
			for i := 0; i < n; i++ {
				now += gaps[i]
				ts = append(ts, now)
				a.Update(trade(now, sizes[i]))
			}
			return bruteForceMatches(a, ts, sizes[:n], now)
		},
		gen.SliceOfN(200, gen.Int64Range(0, 5_000)),
		gen.SliceOfN(200, gen.Float64Range(0.001, 100)),
	))

	// 时钟只进不退：到达时已落在窗口外的乱序成交此后也不会进入窗口，
	// 因此期望值仍是时间戳 >= max_ts - H 的成交之和
	properties.Property("乱序成交与暴力求和一致", prop.ForAll(
		func(gaps []int64, sizes []float64) bool {
			n := len(gaps)
			if len(sizes) < n {
				n = len(sizes)
			}
			a := NewDefault()
			ts := make([]int64, 0, n)
			cursor := baseUs
			now := baseUs
			for i := 0; i < n; i++ {
				cursor += gaps[i]
				ts = append(ts, cursor)
				if cursor > now {
					now = cursor
				}
				a.Update(trade(cursor, sizes[i]))
			}
			return bruteForceMatches(a, ts, sizes[:n], now)
		},
		gen.SliceOfN(200, gen.Int64Range(-60_000, 20_000)),
		gen.SliceOfN(200, gen.Float64Range(0.001, 100)),
	))

	properties.TestingRun(t)
}
