package metrics

import (
	"testing"

	"github.com/ahmadzakiakmal/skullchain/core"
	"github.com/ahmadzakiakmal/skullchain/core/auction"
	"github.com/ahmadzakiakmal/skullchain/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveEvents(t *testing.T) {
	beforeBirths := testutil.ToFloat64(births)
	beforeSales := testutil.ToFloat64(auctionEvents.WithLabelValues("sale", auction.EventAuctionSuccessful))
	beforeVolume := testutil.ToFloat64(auctionVolume.WithLabelValues("sale"))

	ObserveEvents([]types.Event{
		{Type: core.EventBirth},
		{Type: core.EventTransfer},
		{Type: auction.EventAuctionSuccessful, Attributes: []types.Attribute{
			types.Attr("auction", "sale"),
			types.Attr("total_price", 250),
		}},
	})

	assert.Equal(t, beforeBirths+1, testutil.ToFloat64(births))
	assert.Equal(t, beforeSales+1, testutil.ToFloat64(auctionEvents.WithLabelValues("sale", auction.EventAuctionSuccessful)))
	assert.Equal(t, beforeVolume+250, testutil.ToFloat64(auctionVolume.WithLabelValues("sale")))
}

func TestObserveBlock(t *testing.T) {
	ObserveBlock(7, 3, 12, 2)
	assert.Equal(t, float64(7), testutil.ToFloat64(blockHeight))
	assert.Equal(t, float64(12), testutil.ToFloat64(tokenSupply))
	assert.Equal(t, float64(2), testutil.ToFloat64(pregnant))
}

func TestObserveTxRegistersOnce(t *testing.T) {
	assert.NotPanics(t, func() {
		ObserveTx("transfer", 0)
		ObserveTx("transfer", 1)
		RegisterMetrics()
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(txTotal.WithLabelValues("transfer", "1")))
}
