package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// 链调用结果标签。
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type chainCallKey struct {
	chain  string
	step   string
	result string
}

type chainLatencyKey struct {
	chain string
	step  string
}

type chainMetrics struct {
	mu       sync.Mutex
	calls    map[chainCallKey]uint64
	latency  map[chainLatencyKey]*histogram
	outcomes map[string]uint64
	sources  map[string]uint64
}

var chainCollector = newChainMetrics()

func newChainMetrics() *chainMetrics {
	return &chainMetrics{
		calls:    make(map[chainCallKey]uint64),
		latency:  make(map[chainLatencyKey]*histogram),
		outcomes: make(map[string]uint64),
		sources:  make(map[string]uint64),
	}
}

// ObserveChainCall 记录一次链上能力调用（余额查询、转账、授权、报价、桥接提交）。
func ObserveChainCall(chain, step string, duration time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	chainCollector.observeCall(chain, step, result, duration)
}

// ObserveTransferOutcome 记录一次转账请求的最终结果，source 为空时只计结果。
func ObserveTransferOutcome(outcome, source string) {
	chainCollector.observeOutcome(outcome, source)
}

// ChainCallCount 返回指定链与步骤的调用次数，主要用于测试。
func ChainCallCount(chain, step, result string) uint64 {
	chainCollector.mu.Lock()
	defer chainCollector.mu.Unlock()
	return chainCollector.calls[chainCallKey{chain: chain, step: step, result: result}]
}

// OutcomeCount 返回指定结果的累计次数。
func OutcomeCount(outcome string) uint64 {
	chainCollector.mu.Lock()
	defer chainCollector.mu.Unlock()
	return chainCollector.outcomes[outcome]
}

func (c *chainMetrics) observeCall(chain, step, result string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[chainCallKey{chain: chain, step: step, result: result}]++
	key := chainLatencyKey{chain: chain, step: step}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *chainMetrics) observeOutcome(outcome, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
	if source != "" {
		c.sources[source]++
	}
}

func (c *chainMetrics) render(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	callKeys := make([]chainCallKey, 0, len(c.calls))
	for key := range c.calls {
		callKeys = append(callKeys, key)
	}
	sort.Slice(callKeys, func(i, j int) bool {
		a, b := callKeys[i], callKeys[j]
		if a.chain != b.chain {
			return a.chain < b.chain
		}
		if a.step != b.step {
			return a.step < b.step
		}
		return a.result < b.result
	})
	latKeys := make([]chainLatencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].chain != latKeys[j].chain {
			return latKeys[i].chain < latKeys[j].chain
		}
		return latKeys[i].step < latKeys[j].step
	})

	writeHeader(builder, "transferd_chain_calls_total", "counter", "Chain capability calls by chain, step and result.")
	for _, key := range callKeys {
		fmt.Fprintf(builder, "transferd_chain_calls_total{chain=\"%s\",step=\"%s\",result=\"%s\"} %d\n",
			escape(key.chain), escape(key.step), escape(key.result), c.calls[key])
	}

	writeHeader(builder, "transferd_chain_call_duration_seconds", "histogram", "Chain capability call duration in seconds.")
	for _, key := range latKeys {
		labels := fmt.Sprintf("chain=\"%s\",step=\"%s\"", escape(key.chain), escape(key.step))
		c.latency[key].write(builder, "transferd_chain_call_duration_seconds", labels)
	}

	writeHeader(builder, "transferd_transfer_outcomes_total", "counter", "Transfer requests by final outcome.")
	for _, outcome := range sortedKeys(c.outcomes) {
		fmt.Fprintf(builder, "transferd_transfer_outcomes_total{outcome=\"%s\"} %d\n", escape(outcome), c.outcomes[outcome])
	}

	writeHeader(builder, "transferd_transfer_sources_total", "counter", "Successful transfers by funding chain.")
	for _, source := range sortedKeys(c.sources) {
		fmt.Fprintf(builder, "transferd_transfer_sources_total{chain=\"%s\"} %d\n", escape(source), c.sources[source])
	}
}
