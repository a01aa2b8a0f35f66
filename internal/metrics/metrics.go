package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallStateProvider exposes the phone hub's global call state.
type CallStateProvider interface {
	Connected() int
	ActiveCallers() int
	Ringing() bool
}

// SignalingProvider exposes signaling relay membership and throughput.
type SignalingProvider interface {
	PeerCount() int
	RelayedTotal() uint64
}

// DoorbellProvider exposes the doorbell flag and its subscribers.
type DoorbellProvider interface {
	Ringing() bool
	ClientCount() int
}

// ChatProvider exposes chat bridge membership and throughput.
type ChatProvider interface {
	BotCount() int
	DashboardCount() int
	ForwardedTotal() uint64
}

// BlockedIPCounter returns the number of source IPs currently blocked by the
// authentication guard.
type BlockedIPCounter interface {
	BlockedCount() int
}

// RateLimitProvider reports refused requests per rate limit scope.
type RateLimitProvider interface {
	RateLimited() map[string]uint64
}

// Collector is a prometheus.Collector that reads phonebell state at scrape
// time.
type Collector struct {
	calls     CallStateProvider
	signaling SignalingProvider
	doorbell  DoorbellProvider
	chat      ChatProvider
	blocked   BlockedIPCounter
	limits    RateLimitProvider
	startTime time.Time

	phonesConnectedDesc  *prometheus.Desc
	activeCallersDesc    *prometheus.Desc
	ringerStateDesc      *prometheus.Desc
	signalingPeersDesc   *prometheus.Desc
	signalingRelayedDesc *prometheus.Desc
	doorbellRingingDesc  *prometheus.Desc
	doorbellClientsDesc  *prometheus.Desc
	chatBotsDesc         *prometheus.Desc
	chatDashboardsDesc   *prometheus.Desc
	chatForwardedDesc    *prometheus.Desc
	authBlockedDesc      *prometheus.Desc
	rateLimitedDesc      *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// the component is not running.
func NewCollector(
	calls CallStateProvider,
	signaling SignalingProvider,
	doorbell DoorbellProvider,
	chat ChatProvider,
	blocked BlockedIPCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		calls:     calls,
		signaling: signaling,
		doorbell:  doorbell,
		chat:      chat,
		blocked:   blocked,
		startTime: startTime,

		phonesConnectedDesc: prometheus.NewDesc(
			"phonebell_phones_connected",
			"Number of authenticated phone connections",
			nil, nil,
		),
		activeCallersDesc: prometheus.NewDesc(
			"phonebell_active_callers",
			"Number of phones currently part of a call",
			nil, nil,
		),
		ringerStateDesc: prometheus.NewDesc(
			"phonebell_ringer_state",
			"Global ringer flag (1=ringing, 0=silent)",
			nil, nil,
		),
		signalingPeersDesc: prometheus.NewDesc(
			"phonebell_signaling_peers",
			"Number of connected signaling clients",
			nil, nil,
		),
		signalingRelayedDesc: prometheus.NewDesc(
			"phonebell_signaling_relayed_total",
			"Total signaling payloads queued for delivery to peers",
			nil, nil,
		),
		doorbellRingingDesc: prometheus.NewDesc(
			"phonebell_doorbell_ringing",
			"Doorbell state (1=ringing, 0=silent)",
			nil, nil,
		),
		doorbellClientsDesc: prometheus.NewDesc(
			"phonebell_doorbell_clients",
			"Number of connected doorbell clients",
			nil, nil,
		),
		chatBotsDesc: prometheus.NewDesc(
			"phonebell_chat_bots",
			"Number of authenticated chat bot connections",
			nil, nil,
		),
		chatDashboardsDesc: prometheus.NewDesc(
			"phonebell_chat_dashboards",
			"Number of connected chat dashboards",
			nil, nil,
		),
		chatForwardedDesc: prometheus.NewDesc(
			"phonebell_chat_messages_forwarded_total",
			"Total chat messages forwarded to dashboards",
			nil, nil,
		),
		authBlockedDesc: prometheus.NewDesc(
			"phonebell_auth_blocked_ips",
			"Number of source IPs blocked after repeated authentication failures",
			nil, nil,
		),
		rateLimitedDesc: prometheus.NewDesc(
			"phonebell_http_rate_limited_total",
			"Total HTTP requests refused by a per-IP rate limiter",
			[]string{"scope"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"phonebell_uptime_seconds",
			"Seconds since the phonebell process started",
			nil, nil,
		),
	}
}

// WithRateLimits adds per-scope rate limiter rejections to the collector.
func (c *Collector) WithRateLimits(p RateLimitProvider) *Collector {
	c.limits = p
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.phonesConnectedDesc
	ch <- c.activeCallersDesc
	ch <- c.ringerStateDesc
	ch <- c.signalingPeersDesc
	ch <- c.signalingRelayedDesc
	ch <- c.doorbellRingingDesc
	ch <- c.doorbellClientsDesc
	ch <- c.chatBotsDesc
	ch <- c.chatDashboardsDesc
	ch <- c.chatForwardedDesc
	ch <- c.authBlockedDesc
	ch <- c.rateLimitedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.phonesConnectedDesc, prometheus.GaugeValue,
			float64(c.calls.Connected()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.activeCallersDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCallers()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.ringerStateDesc, prometheus.GaugeValue,
			boolValue(c.calls.Ringing()),
		)
	}

	if c.signaling != nil {
		ch <- prometheus.MustNewConstMetric(
			c.signalingPeersDesc, prometheus.GaugeValue,
			float64(c.signaling.PeerCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.signalingRelayedDesc, prometheus.CounterValue,
			float64(c.signaling.RelayedTotal()),
		)
	}

	if c.doorbell != nil {
		ch <- prometheus.MustNewConstMetric(
			c.doorbellRingingDesc, prometheus.GaugeValue,
			boolValue(c.doorbell.Ringing()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.doorbellClientsDesc, prometheus.GaugeValue,
			float64(c.doorbell.ClientCount()),
		)
	}

	if c.chat != nil {
		ch <- prometheus.MustNewConstMetric(
			c.chatBotsDesc, prometheus.GaugeValue,
			float64(c.chat.BotCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.chatDashboardsDesc, prometheus.GaugeValue,
			float64(c.chat.DashboardCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.chatForwardedDesc, prometheus.CounterValue,
			float64(c.chat.ForwardedTotal()),
		)
	}

	if c.blocked != nil {
		ch <- prometheus.MustNewConstMetric(
			c.authBlockedDesc, prometheus.GaugeValue,
			float64(c.blocked.BlockedCount()),
		)
	}

	if c.limits != nil {
		for scope, n := range c.limits.RateLimited() {
			ch <- prometheus.MustNewConstMetric(
				c.rateLimitedDesc, prometheus.CounterValue,
				float64(n), scope,
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
