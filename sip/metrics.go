package sip

import (
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsReport is a point in time copy of the engine counters.
type StatsReport struct {
	Time         time.Time        `json:"time"`
	Transactions TransactionStats `json:"transactions"`
}

type TransactionStats struct {
	// InviteClientTransactions is a number of active invite client transactions.
	InviteClientTransactions uint64 `json:"invite_client_transactions"`
	// NonInviteClientTransactions is a number of active non-invite client transactions.
	NonInviteClientTransactions uint64 `json:"non_invite_client_transactions"`
	// InviteServerTransactions is a number of active invite server transactions.
	InviteServerTransactions uint64 `json:"invite_server_transactions"`
	// NonInviteServerTransactions is a number of active non-invite server transactions.
	NonInviteServerTransactions uint64 `json:"non_invite_server_transactions"`
	// TransactionsTotal is a total number of created transactions.
	TransactionsTotal uint64 `json:"transactions_total"`
	// Retransmissions is a number of retransmitted messages.
	Retransmissions uint64 `json:"retransmissions"`
	// Timeouts is a number of transactions concluded with a timeout.
	Timeouts uint64 `json:"timeouts"`
	// TransmitFailures is a number of failed sends.
	TransmitFailures uint64 `json:"transmit_failures"`
	// AuthRetries is a number of authenticated retries.
	AuthRetries uint64 `json:"auth_retries"`
	// Forks is a number of forked dialog transactions.
	Forks uint64 `json:"forks"`
}

// Metrics records transaction layer statistics.
// Counters are always kept in memory, see [Metrics.Report];
// Prometheus collectors are registered when a registerer is given.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	invCln, ninvCln, invSrv, ninvSrv atomic.Int64

	total, retrans, timeouts, failures, auths, forks atomic.Uint64

	active      *prometheus.GaugeVec
	created     *prometheus.CounterVec
	retransmits *prometheus.CounterVec
	timedOuts   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	authRetries *prometheus.CounterVec
	forked      prometheus.Counter
	events      *prometheus.CounterVec
}

const metricsNamespace = "sip"

// NewMetrics creates metrics and registers its collectors on reg, if not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := new(Metrics)
	if reg == nil {
		return m, nil
	}

	m.active = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "active",
		Help:      "Number of live transactions.",
	}, []string{"kind"})
	m.created = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "created_total",
		Help:      "Total number of created transactions.",
	}, []string{"kind"})
	m.retransmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "retransmissions_total",
		Help:      "Total number of retransmitted messages.",
	}, []string{"kind"})
	m.timedOuts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "timeouts_total",
		Help:      "Total number of transactions concluded by a timeout.",
	}, []string{"kind"})
	m.failed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "transmit_failures_total",
		Help:      "Total number of failed message sends.",
	}, []string{"kind"})
	m.authRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "auth_retries_total",
		Help:      "Total number of automatic authenticated retries.",
	}, []string{"kind"})
	m.forked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "transaction",
		Name:      "forks_total",
		Help:      "Total number of forked dialog transactions.",
	})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Total number of processed events.",
	}, []string{"direction"})

	for _, c := range []prometheus.Collector{
		m.active, m.created, m.retransmits, m.timedOuts, m.failed, m.authRetries, m.forked, m.events,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errtrace.Wrap(err)
		}
	}
	return m, nil
}

// Report returns the current counters.
func (m *Metrics) Report() StatsReport {
	report := StatsReport{Time: time.Now()}
	if m == nil {
		return report
	}
	report.Transactions = TransactionStats{
		InviteClientTransactions:    clampToUint64(m.invCln.Load()),
		NonInviteClientTransactions: clampToUint64(m.ninvCln.Load()),
		InviteServerTransactions:    clampToUint64(m.invSrv.Load()),
		NonInviteServerTransactions: clampToUint64(m.ninvSrv.Load()),
		TransactionsTotal:           m.total.Load(),
		Retransmissions:             m.retrans.Load(),
		Timeouts:                    m.timeouts.Load(),
		TransmitFailures:            m.failures.Load(),
		AuthRetries:                 m.auths.Load(),
		Forks:                       m.forks.Load(),
	}
	return report
}

func clampToUint64(value int64) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value)
}

func (m *Metrics) gauge(kind string) *atomic.Int64 {
	switch kind {
	case "client_invite":
		return &m.invCln
	case "client_non_invite":
		return &m.ninvCln
	case "server_invite":
		return &m.invSrv
	default:
		return &m.ninvSrv
	}
}

func (m *Metrics) txCreated(kind string) {
	if m == nil {
		return
	}
	m.gauge(kind).Add(1)
	m.total.Add(1)
	if m.active != nil {
		m.active.WithLabelValues(kind).Inc()
		m.created.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) txEnded(kind string) {
	if m == nil {
		return
	}
	m.gauge(kind).Add(-1)
	if m.active != nil {
		m.active.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) retransmitted(kind string) {
	if m == nil {
		return
	}
	m.retrans.Add(1)
	if m.retransmits != nil {
		m.retransmits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) timedOut(kind string) {
	if m == nil {
		return
	}
	m.timeouts.Add(1)
	if m.timedOuts != nil {
		m.timedOuts.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) transmitFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.Add(1)
	if m.failed != nil {
		m.failed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) authRetried(kind string) {
	if m == nil {
		return
	}
	m.auths.Add(1)
	if m.authRetries != nil {
		m.authRetries.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) forkedTx() {
	if m == nil {
		return
	}
	m.forks.Add(1)
	if m.forked != nil {
		m.forked.Inc()
	}
}

func (m *Metrics) eventProcessed(outgoing bool) {
	if m == nil || m.events == nil {
		return
	}
	if outgoing {
		m.events.WithLabelValues("outgoing").Inc()
	} else {
		m.events.WithLabelValues("incoming").Inc()
	}
}
