// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン失敗・トークン不一致の理由ラベル。
const (
	ReasonVerification = "verification"
	ReasonDisabled     = "disabled"
	ReasonInternal     = "internal"
	ReasonRateLimited  = "rate_limited"

	KindCSRF      = "csrf"
	KindUserToken = "user_token"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション管理やハンドラー層から利用する。
type MetricsCollector interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordVerifyLatency(duration time.Duration)
	RecordSessionRotated()
	RecordTokenMismatch(kind string)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFail       *prometheus.CounterVec
	verifyLatency   prometheus.Histogram
	sessionRotated  prometheus.Counter
	tokenMismatch   *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessiongate_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiongate_login_fail_total",
			Help: "理由別のログイン失敗数",
		}, []string{"reason"}),
		verifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessiongate_verify_latency_seconds",
			Help:    "IDトークン検証のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessiongate_session_rotated_total",
			Help: "ローテーションされたセッションの合計数",
		}),
		tokenMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiongate_token_mismatch_total",
			Help: "種別ごとのトークン不一致数",
		}, []string{"kind"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessiongate_sessions_cleaned_total",
			Help: "掃除で削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.verifyLatency,
		c.sessionRotated,
		c.tokenMismatch,
		c.sessionsCleaned,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。
func (c *Collector) RecordLoginSuccess() {
	c.loginSuccess.Inc()
}

// RecordLoginFailure はログイン失敗を理由付きで記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFail.WithLabelValues(reason).Inc()
}

// RecordVerifyLatency はIDトークン検証のレイテンシを記録する。
func (c *Collector) RecordVerifyLatency(duration time.Duration) {
	c.verifyLatency.Observe(duration.Seconds())
}

// RecordSessionRotated はセッションのローテーションを記録する。
func (c *Collector) RecordSessionRotated() {
	c.sessionRotated.Inc()
}

// RecordTokenMismatch はCSRFトークンまたはユーザートークンの不一致を記録する。
func (c *Collector) RecordTokenMismatch(kind string) {
	c.tokenMismatch.WithLabelValues(kind).Inc()
}

// RecordSessionsCleaned は掃除で削除されたセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストや計測不要な経路で使う。
type Nop struct{}

func (Nop) RecordLoginSuccess() {}
func (Nop) RecordLoginFailure(string) {}
func (Nop) RecordVerifyLatency(time.Duration) {}
func (Nop) RecordSessionRotated() {}
func (Nop) RecordTokenMismatch(string) {}
func (Nop) RecordSessionsCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
