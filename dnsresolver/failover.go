// SPDX-License-Identifier: GPL-3.0-or-later

package dnsresolver

import "time"

// FailoverPolicy selects which name server a resolution attempt tries
// next. [TraditionalPolicy] is the spec-mandated round-robin loop
// (spec.md §4.3 "Failover loop"); [LatencyPolicy] is a supplemented,
// opt-in strategy grounded on the teacher pack's bestserver algorithm
// (markdingo-trustydns/internal/bestserver/latency.go), which tracks a
// weighted-average RTT per server and prefers the fastest one instead
// of always starting from index 0.
type FailoverPolicy interface {
	// Next returns the index of the name server to try given that the
	// previous attempt was at lastIndex (-1 before the first attempt).
	// It returns -1 once every server has been tried for this
	// resolution.
	Next(serverCount int, lastIndex int) int

	// Report records the outcome of an attempt against the server at
	// index. Policies that track no per-server statistics may ignore
	// it.
	Report(index int, success bool, now time.Time, latency time.Duration)
}

// TraditionalPolicy tries name servers strictly in list order,
// starting over at index 0 for every new resolution (spec.md §4.3:
// "name_server = -1" then "name_server += 1" until the list is
// exhausted). It is the default.
type TraditionalPolicy struct{}

func (TraditionalPolicy) Next(serverCount int, lastIndex int) int {
	next := lastIndex + 1
	if next >= serverCount {
		return -1
	}
	return next
}

func (TraditionalPolicy) Report(index int, success bool, now time.Time, latency time.Duration) {
}

// LatencyConfig tunes [LatencyPolicy], mirroring the teacher pack's
// bestserver.LatencyConfig field-for-field.
type LatencyConfig struct {
	ReassessAfter     time.Duration
	ReassessCount     int
	ResetFailedAfter  time.Duration
	SampleOthersEvery int
	WeightForLatest   int // percent weight given to the latest sample, 0-100
}

// DefaultLatencyConfig matches the teacher pack's defaults.
var DefaultLatencyConfig = LatencyConfig{
	ReassessAfter:     61 * time.Second,
	ReassessCount:     1061,
	ResetFailedAfter:  3 * time.Minute,
	SampleOthersEvery: 20,
	WeightForLatest:   67,
}

type latencyStats struct {
	lastTime    time.Time
	lastFailed  bool
	weightedAvg time.Duration
}

// LatencyPolicy picks the name server with the lowest weighted-average
// latency, periodically sampling the others so a server that has
// recovered gets rediscovered (markdingo-trustydns/internal/bestserver/latency.go).
// It is not the spec's default but is offered for callers that set
// [Config.Failover] explicitly.
type LatencyPolicy struct {
	cfg   LatencyConfig
	stats []latencyStats

	best        int
	bestExpires time.Time
	assessCount int
	sampleCount int
	sampleIndex int
}

// NewLatencyPolicy returns a [LatencyPolicy] sized for serverCount
// servers, applying zero-valued fields from cfg as DefaultLatencyConfig.
func NewLatencyPolicy(cfg LatencyConfig, serverCount int) *LatencyPolicy {
	if cfg.ReassessAfter == 0 {
		cfg.ReassessAfter = DefaultLatencyConfig.ReassessAfter
	}
	if cfg.ReassessCount == 0 {
		cfg.ReassessCount = DefaultLatencyConfig.ReassessCount
	}
	if cfg.ResetFailedAfter == 0 {
		cfg.ResetFailedAfter = DefaultLatencyConfig.ResetFailedAfter
	}
	if cfg.SampleOthersEvery == 0 {
		cfg.SampleOthersEvery = DefaultLatencyConfig.SampleOthersEvery
	}
	if cfg.WeightForLatest == 0 {
		cfg.WeightForLatest = DefaultLatencyConfig.WeightForLatest
	}
	return &LatencyPolicy{cfg: cfg, stats: make([]latencyStats, serverCount)}
}

func (p *LatencyPolicy) Next(serverCount int, lastIndex int) int {
	if lastIndex == -1 {
		return p.best
	}
	// Previous attempt at lastIndex failed (a successful attempt never
	// calls Next again); move past it, skipping back to the start only
	// once every server has been tried.
	tried := lastIndex + 1
	if tried >= serverCount {
		return -1
	}
	return tried
}

func (p *LatencyPolicy) Report(index int, success bool, now time.Time, latency time.Duration) {
	if index < 0 || index >= len(p.stats) {
		return
	}
	st := &p.stats[index]
	st.lastFailed = !success
	st.lastTime = now
	if success {
		if st.weightedAvg == 0 {
			st.weightedAvg = latency
		} else {
			cur := latency * time.Duration(p.cfg.WeightForLatest)
			hist := st.weightedAvg * time.Duration(100-p.cfg.WeightForLatest)
			st.weightedAvg = (cur + hist) / 100
		}
	}

	p.assessCount++
	if index == p.best && (!success || p.assessCount >= p.cfg.ReassessCount || now.After(p.bestExpires)) {
		p.reassessBest(now)
		p.assessCount = 0
	}

	p.sampleCount++
	if p.sampleCount < p.cfg.SampleOthersEvery {
		return
	}
	p.sampleCount = 0
	p.sampleIndex = (p.sampleIndex + 1) % len(p.stats)
	if !p.stats[p.sampleIndex].lastFailed {
		p.best = p.sampleIndex
	}
}

func (p *LatencyPolicy) reassessBest(now time.Time) {
	if len(p.stats) <= 1 {
		return
	}
	newBest := -1
	for ix := range p.stats {
		st := &p.stats[ix]
		switch {
		case st.lastFailed:
			if st.lastTime.Add(p.cfg.ResetFailedAfter).Before(now) {
				*st = latencyStats{}
			}
		case newBest == -1:
			newBest = ix
		case st.weightedAvg == 0:
		case p.stats[newBest].weightedAvg == 0:
			newBest = ix
		case st.weightedAvg < p.stats[newBest].weightedAvg:
			newBest = ix
		}
	}
	if newBest == -1 {
		newBest = (p.best + 1) % len(p.stats)
	}
	p.best = newBest
	p.bestExpires = now.Add(p.cfg.ReassessAfter)
}
