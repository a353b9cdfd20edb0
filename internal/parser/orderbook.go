package parser

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-stream/internal/model"
)

type book = model.OrderBook

// bookLayout is the H0STASP0 record. Order-book frames carry no business
// date, so time-of-day is placed on the current KST date.
var bookLayout = newLayout("", finishBook,
	[]field[book]{
		text("MKSC_SHRN_ISCD", func(b *book) *string { return &b.Code }),
		clock("BSOP_HOUR", func(b *book) *time.Time { return &b.Time }),
		code("HOUR_CLS_CODE", model.ParseTimeClass, func(b *book) *model.TimeClass { return &b.TimeClass }),
	},
	levels("ASKP", func(b *book) *[model.DepthLevels]int64 { return &b.AskPrices }),
	levels("BIDP", func(b *book) *[model.DepthLevels]int64 { return &b.BidPrices }),
	levels("ASKP_RSQN", func(b *book) *[model.DepthLevels]int64 { return &b.AskQtys }),
	levels("BIDP_RSQN", func(b *book) *[model.DepthLevels]int64 { return &b.BidQtys }),
	[]field[book]{
		integer("TOTAL_ASKP_RSQN", func(b *book) *int64 { return &b.TotalAskQty }),
		integer("TOTAL_BIDP_RSQN", func(b *book) *int64 { return &b.TotalBidQty }),
		integer("OVTM_TOTAL_ASKP_RSQN", func(b *book) *int64 { return &b.AfterHoursAskQty }),
		integer("OVTM_TOTAL_BIDP_RSQN", func(b *book) *int64 { return &b.AfterHoursBidQty }),
		integer("ANTC_CNPR", func(b *book) *int64 { return &b.PredictedPrice }),
		integer("ANTC_CNQN", func(b *book) *int64 { return &b.PredictedQty }),
		integer("ANTC_VOL", func(b *book) *int64 { return &b.PredictedVolume }),
		integer("ANTC_CNTG_VRSS", func(b *book) *int64 { return &b.PredictedChange }),
		code("ANTC_CNTG_VRSS_SIGN", model.ParsePriceSign, func(b *book) *model.PriceSign { return &b.PredictedSign }),
		number("ANTC_CNTG_PRDY_CTRT", func(b *book) *decimal.Decimal { return &b.PredictedRate }),
		integer("ACML_VOL", func(b *book) *int64 { return &b.CumVolume }),
		integer("TOTAL_ASKP_RSQN_ICDC", func(b *book) *int64 { return &b.TotalAskQtyDelta }),
		integer("TOTAL_BIDP_RSQN_ICDC", func(b *book) *int64 { return &b.TotalBidQtyDelta }),
		integer("OVTM_TOTAL_ASKP_ICDC", func(b *book) *int64 { return &b.AfterHoursAskQtyDelta }),
		integer("OVTM_TOTAL_BIDP_ICDC", func(b *book) *int64 { return &b.AfterHoursBidQtyDelta }),
		rawCode("STCK_DEAL_CLS_CODE", func(b *book) *model.DealClass { return &b.DealClass }),
	},
)

// levels expands one ten-level column group, best level first.
func levels(prefix string, get func(*book) *[model.DepthLevels]int64) []field[book] {
	fields := make([]field[book], model.DepthLevels)
	for i := range fields {
		level := i
		fields[i] = integer(fmt.Sprintf("%s%d", prefix, level+1), func(b *book) *int64 { return &get(b)[level] })
	}
	return fields
}

func finishBook(b *book, trID model.TrID) model.Message {
	b.Hdr = model.Header{TrID: trID, Time: b.Time}
	return b
}
