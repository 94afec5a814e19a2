package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// latencyBuckets 覆盖 RPC 调用与整笔跨链提交的耗时范围，单位秒。
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram 是累积桶直方图，调用方负责加锁。
type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: latencyBuckets,
		counts:  make([]uint64, len(latencyBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// 超出最后一个桶的值只计入 +Inf（即 count）。
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

func (h *histogram) write(builder *strings.Builder, name, labels string) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(builder, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(builder, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(builder, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(builder, "%s_count{%s} %d\n", name, labels, h.count)
}

func writeHeader(builder *strings.Builder, name, kind, help string) {
	fmt.Fprintf(builder, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
