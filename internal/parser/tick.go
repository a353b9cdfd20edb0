package parser

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-stream/internal/model"
)

type tick = model.TradeTick

// tickLayout is the H0STCNT0 record. The first value is the instrument
// code carried in the compound header.
var tickLayout = newLayout("BSOP_DATE", finishTick, []field[tick]{
	text("MKSC_SHRN_ISCD", func(t *tick) *string { return &t.Code }),
	clock("STCK_CNTG_HOUR", func(t *tick) *time.Time { return &t.ExecTime }),
	integer("STCK_PRPR", func(t *tick) *int64 { return &t.Price }),
	code("PRDY_VRSS_SIGN", model.ParsePriceSign, func(t *tick) *model.PriceSign { return &t.SignVsPrevDay }),
	integer("PRDY_VRSS", func(t *tick) *int64 { return &t.ChangeVsPrev }),
	number("PRDY_CTRT", func(t *tick) *decimal.Decimal { return &t.RateVsPrev }),
	number("WGHN_AVRG_STCK_PRC", func(t *tick) *decimal.Decimal { return &t.WeightedAvg }),
	integer("STCK_OPRC", func(t *tick) *int64 { return &t.Open }),
	integer("STCK_HGPR", func(t *tick) *int64 { return &t.High }),
	integer("STCK_LWPR", func(t *tick) *int64 { return &t.Low }),
	integer("ASKP1", func(t *tick) *int64 { return &t.BestAsk }),
	integer("BIDP1", func(t *tick) *int64 { return &t.BestBid }),
	integer("CNTG_VOL", func(t *tick) *int64 { return &t.Volume }),
	integer("ACML_VOL", func(t *tick) *int64 { return &t.CumVolume }),
	integer("ACML_TR_PBMN", func(t *tick) *int64 { return &t.CumAmount }),
	integer("SELN_CNTG_CSNU", func(t *tick) *int64 { return &t.AskTickCount }),
	integer("SHNU_CNTG_CSNU", func(t *tick) *int64 { return &t.BidTickCount }),
	integer("NTBY_CNTG_CSNU", func(t *tick) *int64 { return &t.NetBidCount }),
	number("CTTR", func(t *tick) *decimal.Decimal { return &t.Strength }),
	integer("SELN_CNTG_SMTN", func(t *tick) *int64 { return &t.TotalAskVolume }),
	integer("SHNU_CNTG_SMTN", func(t *tick) *int64 { return &t.TotalBidVolume }),
	code("CCLD_DVSN", model.ParseExecClass, func(t *tick) *model.ExecClass { return &t.ExecClass }),
	number("SHNU_RATE", func(t *tick) *decimal.Decimal { return &t.BidRatio }),
	number("PRDY_VOL_VRSS_ACML_VOL_RATE", func(t *tick) *decimal.Decimal { return &t.VolumeRateVsPrev }),
	clock("OPRC_HOUR", func(t *tick) *time.Time { return &t.OpenTime }),
	code("OPRC_VRSS_PRPR_SIGN", model.ParsePriceSign, func(t *tick) *model.PriceSign { return &t.SignVsOpen }),
	integer("OPRC_VRSS_PRPR", func(t *tick) *int64 { return &t.ChangeVsOpen }),
	clock("HGPR_HOUR", func(t *tick) *time.Time { return &t.HighTime }),
	code("HGPR_VRSS_PRPR_SIGN", model.ParsePriceSign, func(t *tick) *model.PriceSign { return &t.SignVsHigh }),
	integer("HGPR_VRSS_PRPR", func(t *tick) *int64 { return &t.ChangeVsHigh }),
	clock("LWPR_HOUR", func(t *tick) *time.Time { return &t.LowTime }),
	code("LWPR_VRSS_PRPR_SIGN", model.ParsePriceSign, func(t *tick) *model.PriceSign { return &t.SignVsLow }),
	integer("LWPR_VRSS_PRPR", func(t *tick) *int64 { return &t.ChangeVsLow }),
	date("BSOP_DATE", func(t *tick) *time.Time { return &t.BusinessDate }),
	code("NEW_MKOP_CLS_CODE", model.ParseMarketOperation, func(t *tick) *model.MarketOperation { return &t.MarketOperation }),
	flag("TRHT_YN", func(t *tick) *bool { return &t.Halted }),
	integer("ASKP_RSQN1", func(t *tick) *int64 { return &t.BestAskQty }),
	integer("BIDP_RSQN1", func(t *tick) *int64 { return &t.BestBidQty }),
	integer("TOTAL_ASKP_RSQN", func(t *tick) *int64 { return &t.TotalAskQty }),
	integer("TOTAL_BIDP_RSQN", func(t *tick) *int64 { return &t.TotalBidQty }),
	number("VOL_TNRT", func(t *tick) *decimal.Decimal { return &t.Turnover }),
	integer("PRDY_SMNS_HOUR_ACML_VOL", func(t *tick) *int64 { return &t.PrevSameTimeVol }),
	number("PRDY_SMNS_HOUR_ACML_VOL_RATE", func(t *tick) *decimal.Decimal { return &t.PrevSameTimeRate }),
	code("HOUR_CLS_CODE", model.ParseTimeClass, func(t *tick) *model.TimeClass { return &t.TimeClass }),
	rawCode("MRKT_TRTM_CLS_CODE", func(t *tick) *model.MarketTermination { return &t.Termination }),
	lenientInt("VI_STND_PRC", func(t *tick) *int64 { return &t.StaticVIBasePrice }),
})

func finishTick(t *tick, trID model.TrID) model.Message {
	t.Hdr = model.Header{TrID: trID, Time: t.ExecTime}
	return t
}
