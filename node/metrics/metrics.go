// Package metrics exposes marketplace activity to prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skull",
			Subsystem: "chain",
			Name:      "txs_total",
			Help:      "Executed transactions by operation and result code.",
		},
		[]string{"op", "code"},
	)
	blockHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skull",
			Subsystem: "chain",
			Name:      "block_height",
			Help:      "Height of the last finalized block.",
		},
	)
	blockTxs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "skull",
			Subsystem: "chain",
			Name:      "block_txs",
			Help:      "Transactions per finalized block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	tokenSupply = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skull",
			Subsystem: "ledger",
			Name:      "tokens",
			Help:      "Tokens in existence.",
		},
	)
	pregnant = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "skull",
			Subsystem: "ledger",
			Name:      "pregnant_tokens",
			Help:      "Tokens currently gestating.",
		},
	)
	births = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "skull",
			Subsystem: "ledger",
			Name:      "births_total",
			Help:      "Tokens created, gen0 included.",
		},
	)
	auctionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skull",
			Subsystem: "auction",
			Name:      "events_total",
			Help:      "Auction lifecycle events by auction and outcome.",
		},
		[]string{"auction", "event"},
	)
	auctionVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "skull",
			Subsystem: "auction",
			Name:      "volume_total",
			Help:      "Sum of winning prices by auction.",
		},
		[]string{"auction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(txTotal, blockHeight, blockTxs, tokenSupply, pregnant, births, auctionEvents, auctionVolume)
	})
}

func ObserveTx(op string, code uint32) {
	RegisterMetrics()
	txTotal.WithLabelValues(op, strconv.FormatUint(uint64(code), 10)).Inc()
}

func ObserveBlock(height int64, txs int, supply, pregnantCount uint64) {
	RegisterMetrics()
	blockHeight.Set(float64(height))
	blockTxs.Observe(float64(txs))
	tokenSupply.Set(float64(supply))
	pregnant.Set(float64(pregnantCount))
}

// ObserveEvents counts births and auction outcomes of a successful tx.
func ObserveEvents(events []types.Event) {
	RegisterMetrics()
	for _, ev := range events {
		switch ev.Type {
		case core.EventBirth:
			births.Inc()
		case auction.EventAuctionCreated, auction.EventAuctionCancelled:
			auctionEvents.WithLabelValues(ev.Get("auction"), ev.Type).Inc()
		case auction.EventAuctionSuccessful:
			auctionEvents.WithLabelValues(ev.Get("auction"), ev.Type).Inc()
			if price, err := strconv.ParseFloat(ev.Get("total_price"), 64); err == nil {
				auctionVolume.WithLabelValues(ev.Get("auction")).Add(price)
			}
		}
	}
}
