// Package metrics exposes orchestration state as Prometheus metrics,
// gathered from the stores and services at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/sipprobe"
	"github.com/dialcast/dialcast/internal/store"
)

// LockCounter exposes the number of live caller-identity locks.
type LockCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// GroupCounter exposes dial group counts by status.
type GroupCounter interface {
	CountGroupsByStatus(ctx context.Context) (map[store.GroupStatus]int, error)
}

// TransferCounter exposes transfer counts by status.
type TransferCounter interface {
	CountTransfersByStatus(ctx context.Context) (map[store.TransferStatus]int, error)
}

// DialerStats exposes the dial orchestrator's counters.
type DialerStats interface {
	Stats() dialer.Stats
}

// ProbeState exposes the SIP edge probe's health.
type ProbeState interface {
	State() sipprobe.State
}

var groupStatuses = []store.GroupStatus{
	store.GroupPending, store.GroupDialing, store.GroupConnected,
	store.GroupCompleted, store.GroupFailed, store.GroupTerminated,
}

var transferStatuses = []store.TransferStatus{
	store.TransferInitiating, store.TransferConsulting,
	store.TransferCompleted, store.TransferCancelled, store.TransferFailed,
}

// Collector is a prometheus.Collector that gathers dialcast metrics at
// scrape time.
type Collector struct {
	locks     LockCounter
	groups    GroupCounter
	transfers TransferCounter
	stats     DialerStats
	probe     ProbeState
	startTime time.Time

	// Metric descriptors.
	locksDesc       *prometheus.Desc
	groupsDesc      *prometheus.Desc
	transfersDesc   *prometheus.Desc
	dialsDesc       *prometheus.Desc
	winnersDesc     *prometheus.Desc
	screenedDesc    *prometheus.Desc
	hangupsDesc     *prometheus.Desc
	outcomesDesc    *prometheus.Desc
	probeUpDesc     *prometheus.Desc
	probeFailedDesc *prometheus.Desc
	uptimeDesc      *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	locks LockCounter,
	groups GroupCounter,
	transfers TransferCounter,
	stats DialerStats,
	probe ProbeState,
	startTime time.Time,
) *Collector {
	return &Collector{
		locks:     locks,
		groups:    groups,
		transfers: transfers,
		stats:     stats,
		probe:     probe,
		startTime: startTime,

		locksDesc: prometheus.NewDesc(
			"dialcast_caller_id_locks_active",
			"Number of caller-identity numbers currently locked",
			nil, nil,
		),
		groupsDesc: prometheus.NewDesc(
			"dialcast_dial_groups",
			"Number of dial groups by status",
			[]string{"status"}, nil,
		),
		transfersDesc: prometheus.NewDesc(
			"dialcast_transfers",
			"Number of transfers by status",
			[]string{"status"}, nil,
		),
		dialsDesc: prometheus.NewDesc(
			"dialcast_dials_placed_total",
			"Total outbound dial attempts placed",
			nil, nil,
		),
		winnersDesc: prometheus.NewDesc(
			"dialcast_dial_winners_total",
			"Total dial groups won by a human answer",
			nil, nil,
		),
		screenedDesc: prometheus.NewDesc(
			"dialcast_screened_answers_total",
			"Total answers screened out as machine or fax",
			nil, nil,
		),
		hangupsDesc: prometheus.NewDesc(
			"dialcast_hangups_issued_total",
			"Total hangups issued to the provider",
			nil, nil,
		),
		outcomesDesc: prometheus.NewDesc(
			"dialcast_dial_attempts_total",
			"Total dial attempts by final outcome",
			[]string{"outcome"}, nil,
		),
		probeUpDesc: prometheus.NewDesc(
			"dialcast_sip_edge_up",
			"SIP edge probe health (1=ok, 0=degraded or down)",
			[]string{"status"}, nil,
		),
		probeFailedDesc: prometheus.NewDesc(
			"dialcast_sip_edge_consecutive_failures",
			"Consecutive failed SIP edge pings",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialcast_uptime_seconds",
			"Seconds since the dialcast process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.locksDesc
	ch <- c.groupsDesc
	ch <- c.transfersDesc
	ch <- c.dialsDesc
	ch <- c.winnersDesc
	ch <- c.screenedDesc
	ch <- c.hangupsDesc
	ch <- c.outcomesDesc
	ch <- c.probeUpDesc
	ch <- c.probeFailedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.locks != nil {
		count, err := c.locks.CountActive(ctx)
		if err != nil {
			slog.Error("metrics: failed to count locks", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.locksDesc, prometheus.GaugeValue, float64(count))
		}
	}

	if c.groups != nil {
		counts, err := c.groups.CountGroupsByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count groups", "error", err)
		} else {
			for _, status := range groupStatuses {
				ch <- prometheus.MustNewConstMetric(
					c.groupsDesc, prometheus.GaugeValue,
					float64(counts[status]), string(status),
				)
			}
		}
	}

	if c.transfers != nil {
		counts, err := c.transfers.CountTransfersByStatus(ctx)
		if err != nil {
			slog.Error("metrics: failed to count transfers", "error", err)
		} else {
			for _, status := range transferStatuses {
				ch <- prometheus.MustNewConstMetric(
					c.transfersDesc, prometheus.GaugeValue,
					float64(counts[status]), string(status),
				)
			}
		}
	}

	if c.stats != nil {
		stats := c.stats.Stats()
		ch <- prometheus.MustNewConstMetric(c.dialsDesc, prometheus.CounterValue, float64(stats.DialsPlaced))
		ch <- prometheus.MustNewConstMetric(c.winnersDesc, prometheus.CounterValue, float64(stats.Winners))
		ch <- prometheus.MustNewConstMetric(c.screenedDesc, prometheus.CounterValue, float64(stats.Screened))
		ch <- prometheus.MustNewConstMetric(c.hangupsDesc, prometheus.CounterValue, float64(stats.HangupsIssued))
		for outcome, count := range stats.AttemptOutcomes {
			ch <- prometheus.MustNewConstMetric(
				c.outcomesDesc, prometheus.CounterValue,
				float64(count), outcome,
			)
		}
	}

	if c.probe != nil {
		state := c.probe.State()
		val := 0.0
		if state.Status == sipprobe.StatusOK {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.probeUpDesc, prometheus.GaugeValue, val, string(state.Status),
		)
		ch <- prometheus.MustNewConstMetric(
			c.probeFailedDesc, prometheus.GaugeValue, float64(state.FailureCount),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
