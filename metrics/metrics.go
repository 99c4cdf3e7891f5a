// Package metrics 服务端 prometheus 指标
// *Collector 的所有方法对 nil 接收者安全, 关闭指标时事件循环无需判断
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wildmap/hydra/xlog"
)

// Config 指标配置
type Config struct {
	// Enabled 是否采集指标
	Enabled bool `mapstructure:"enabled"`
	// Addr HTTP 暴露地址, 为空时只采集不暴露
	Addr string `mapstructure:"addr"`
	// Path HTTP 路径
	Path string `mapstructure:"path"`
	// Namespace 指标命名空间
	Namespace string `mapstructure:"namespace"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Path:      "/metrics",
		Namespace: "hydra",
	}
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.Path[0] != '/' {
		return errors.New("metrics: path must start with '/'")
	}
	if c.Namespace == "" {
		c.Namespace = def.Namespace
	}
	if c.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Addr); err != nil {
			return errors.Wrapf(err, "metrics: invalid addr %q", c.Addr)
		}
	}
	return nil
}

// 连接关闭原因
const (
	ReasonPeerClosed = "peer_closed"
	ReasonIOError    = "io_error"
	ReasonOversized  = "oversized_frame"
	ReasonMalformed  = "malformed"
	ReasonDefect     = "defect"
	ReasonOverflow   = "outbound_overflow"
	ReasonProxy      = "proxy_header"
	ReasonShutdown   = "shutdown"
)

// 帧处理结果
const (
	FrameReply     = "reply"
	FrameException = "exception"
	FrameOneway    = "oneway"
)

// Collector 服务端指标
type Collector struct {
	cfg      Config
	registry *prometheus.Registry

	connsActive     prometheus.Gauge
	connsAccepted   prometheus.Counter
	connsClosed     *prometheus.CounterVec
	acceptErrors    prometheus.Counter
	frames          *prometheus.CounterVec
	bytesIn         prometheus.Counter
	bytesOut        prometheus.Counter
	seqMismatch     prometheus.Counter
	dispatchLatency *prometheus.HistogramVec
}

// New 创建指标采集器, 未开启时返回 nil
func New(cfg Config) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	ns := cfg.Namespace
	c := &Collector{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),

		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections_active",
			Help:      "当前连接数",
		}),
		connsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_accepted_total",
			Help:      "已接受连接总数",
		}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_closed_total",
			Help:      "已关闭连接总数(按原因)",
		}, []string{"reason"}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "accept_errors_total",
			Help:      "accept 失败次数",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "frames_total",
			Help:      "处理的帧总数(按结果)",
		}, []string{"result"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "read_bytes_total",
			Help:      "读取字节数",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "written_bytes_total",
			Help:      "写出字节数",
		}),
		seqMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sequence_mismatch_total",
			Help:      "序列号不连续的调用数",
		}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "dispatch_duration_seconds",
			Help:      "处理函数耗时",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		c.connsActive,
		c.connsAccepted,
		c.connsClosed,
		c.acceptErrors,
		c.frames,
		c.bytesIn,
		c.bytesOut,
		c.seqMismatch,
		c.dispatchLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c, nil
}

func (c *Collector) ConnAccepted() {
	if c == nil {
		return
	}
	c.connsAccepted.Inc()
	c.connsActive.Inc()
}

func (c *Collector) ConnClosed(reason string) {
	if c == nil {
		return
	}
	c.connsActive.Dec()
	c.connsClosed.WithLabelValues(reason).Inc()
}

func (c *Collector) AcceptError() {
	if c == nil {
		return
	}
	c.acceptErrors.Inc()
}

func (c *Collector) Frame(result string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(result).Inc()
}

func (c *Collector) BytesIn(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIn.Add(float64(n))
}

func (c *Collector) BytesOut(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesOut.Add(float64(n))
}

func (c *Collector) SeqMismatch() {
	if c == nil {
		return
	}
	c.seqMismatch.Inc()
}

// ObserveDispatch 记录一次处理函数调用耗时
func (c *Collector) ObserveDispatch(method string, d time.Duration) {
	if c == nil {
		return
	}
	c.dispatchLatency.WithLabelValues(method).Observe(d.Seconds())
}

// Registry 返回私有注册表
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 指标 HTTP 处理器
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve 在 cfg.Addr 上暴露指标, 阻塞直到 ctx 取消
// 运行在独立 goroutine 中, 与事件循环无关
func (c *Collector) Serve(ctx context.Context) error {
	if c == nil || c.cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, c.Handler())
	srv := &http.Server{
		Addr:              c.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		xlog.Infof("metrics listening on %s%s", c.cfg.Addr, c.cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
