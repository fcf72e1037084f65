// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
	ResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、クリーンアップジョブから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordOAuthLogin(provider, result string)
	RecordTokenIssued()
	RecordTokenRevoked()
	RecordSwept(kind string, count int64)
	RecordMailFailure(template string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	oauthLogins   *prometheus.CounterVec
	tokensIssued  prometheus.Counter
	tokensRevoked prometheus.Counter
	swept         *prometheus.CounterVec
	mailFailures  *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shunfish_logins_total",
			Help: "パスワードログイン試行の結果別合計数",
		}, []string{"result"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shunfish_oauth_logins_total",
			Help: "OAuthログインのプロバイダ・結果別合計数",
		}, []string{"provider", "result"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shunfish_tokens_issued_total",
			Help: "発行したセッショントークンの合計数",
		}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shunfish_tokens_revoked_total",
			Help: "失効させたセッショントークンの合計数",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shunfish_cleanup_swept_total",
			Help: "クリーンアップジョブが削除・消去したレコード数",
		}, []string{"kind"}),
		mailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shunfish_mail_failures_total",
			Help: "メール送信失敗のテンプレート別合計数",
		}, []string{"template"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shunfish_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.oauthLogins,
		c.tokensIssued,
		c.tokensRevoked,
		c.swept,
		c.mailFailures,
		c.httpStatus,
	)

	return c
}

// RecordLogin はパスワードログインの結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordOAuthLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordOAuthLogin(provider, result string) {
	c.oauthLogins.WithLabelValues(provider, result).Inc()
}

// RecordTokenIssued はセッショントークンの発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenRevoked はセッショントークンの失効を記録する。
func (c *Collector) RecordTokenRevoked() {
	c.tokensRevoked.Inc()
}

// RecordSwept はクリーンアップで処理した件数を記録する。
func (c *Collector) RecordSwept(kind string, count int64) {
	c.swept.WithLabelValues(kind).Add(float64(count))
}

// RecordMailFailure はメール送信失敗を記録する。
func (c *Collector) RecordMailFailure(template string) {
	c.mailFailures.WithLabelValues(template).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string)              {}
func (Nop) RecordOAuthLogin(string, string) {}
func (Nop) RecordTokenIssued()              {}
func (Nop) RecordTokenRevoked()             {}
func (Nop) RecordSwept(string, int64)       {}
func (Nop) RecordMailFailure(string)        {}
func (Nop) RecordHTTPStatus(int)            {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
