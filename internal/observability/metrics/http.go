package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// routeKey 标识一个处理器与方法的组合。
type routeKey struct {
	handler string
	method  string
}

type statusKey struct {
	routeKey
	code string
}

type httpMetrics struct {
	mu       sync.Mutex
	requests map[statusKey]uint64
	failures map[routeKey]uint64
	latency  map[routeKey]*histogram
}

var httpCollector = newHTTPMetrics()

func newHTTPMetrics() *httpMetrics {
	return &httpMetrics{
		requests: make(map[statusKey]uint64),
		failures: make(map[routeKey]uint64),
		latency:  make(map[routeKey]*histogram),
	}
}

// ObserveHTTPRequest 记录一次 API 请求的状态码与耗时，5xx 额外计入错误数。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

// HTTPRequestCount 返回指定处理器、方法与状态码的请求数，主要用于测试。
func HTTPRequestCount(handler, method string, status int) uint64 {
	httpCollector.mu.Lock()
	defer httpCollector.mu.Unlock()
	return httpCollector.requests[statusKey{routeKey{handler, method}, strconv.Itoa(status)}]
}

func (c *httpMetrics) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route := routeKey{handler: handler, method: method}
	c.requests[statusKey{route, strconv.Itoa(status)}]++
	if status >= http.StatusInternalServerError {
		c.failures[route]++
	}
	hist := c.latency[route]
	if hist == nil {
		hist = newHistogram()
		c.latency[route] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *httpMetrics) render(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]statusKey, 0, len(c.requests))
	for key := range c.requests {
		statuses = append(statuses, key)
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].routeKey != statuses[j].routeKey {
			return statuses[i].routeKey.less(statuses[j].routeKey)
		}
		return statuses[i].code < statuses[j].code
	})

	writeHeader(builder, "transferd_http_requests_total", "counter", "API requests by handler, method and status code.")
	for _, key := range statuses {
		fmt.Fprintf(builder, "transferd_http_requests_total{%s,code=\"%s\"} %d\n", key.labels(), escape(key.code), c.requests[key])
	}

	writeHeader(builder, "transferd_http_request_errors_total", "counter", "API requests answered with a 5xx status.")
	for _, route := range sortedRoutes(c.failures) {
		fmt.Fprintf(builder, "transferd_http_request_errors_total{%s} %d\n", route.labels(), c.failures[route])
	}

	writeHeader(builder, "transferd_http_request_duration_seconds", "histogram", "API request duration in seconds.")
	routes := make([]routeKey, 0, len(c.latency))
	for route := range c.latency {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].less(routes[j]) })
	for _, route := range routes {
		c.latency[route].write(builder, "transferd_http_request_duration_seconds", route.labels())
	}
}

func (k routeKey) less(other routeKey) bool {
	if k.handler != other.handler {
		return k.handler < other.handler
	}
	return k.method < other.method
}

func (k routeKey) labels() string {
	return fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
}

func sortedRoutes(m map[routeKey]uint64) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Handler 以 Prometheus 文本格式输出 API 与链调用指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var builder strings.Builder
		builder.Grow(4096)
		httpCollector.render(&builder)
		chainCollector.render(&builder)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(builder.String()))
	})
}

// StartServer 启动只暴露 /metrics 的独立 HTTP 服务，直到 ctx 结束。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Reset 清空所有已采集的指标，仅用于测试。
func Reset() {
	httpCollector.mu.Lock()
	httpCollector.requests = make(map[statusKey]uint64)
	httpCollector.failures = make(map[routeKey]uint64)
	httpCollector.latency = make(map[routeKey]*histogram)
	httpCollector.mu.Unlock()

	chainCollector.mu.Lock()
	chainCollector.calls = make(map[chainCallKey]uint64)
	chainCollector.latency = make(map[chainLatencyKey]*histogram)
	chainCollector.outcomes = make(map[string]uint64)
	chainCollector.sources = make(map[string]uint64)
	chainCollector.mu.Unlock()
}
