package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Header is attached to every decoded message.
type Header struct {
	TrID TrID
	// Time comes from header.datetime on control frames, or from the
	// business date plus the time-of-day field on data frames.
	Time time.Time
}

// Message is a decoded data-frame body. The concrete type is one of
// *TradeTick, *OrderBook or *PersonalFill.
type Message interface {
	Header() Header
	Channel() Channel
}

// -----------------------------------------------------------------------------
// Public market data
// -----------------------------------------------------------------------------

// TradeTick is one execution on the public tick channel (H0STCNT0).
// Prices are KRW integers; rates and ratios are exact decimals.
type TradeTick struct {
	Hdr Header

	Code             string    // MKSC_SHRN_ISCD instrument short code
	ExecTime         time.Time // STCK_CNTG_HOUR on the business date
	Price            int64     // STCK_PRPR current price
	SignVsPrevDay    PriceSign // PRDY_VRSS_SIGN
	ChangeVsPrev     int64     // PRDY_VRSS
	RateVsPrev       decimal.Decimal
	WeightedAvg      decimal.Decimal // WGHN_AVRG_STCK_PRC
	Open             int64
	High             int64
	Low              int64
	BestAsk          int64           // ASKP1
	BestBid          int64           // BIDP1
	Volume           int64           // CNTG_VOL for this tick
	CumVolume        int64           // ACML_VOL
	CumAmount        int64           // ACML_TR_PBMN
	AskTickCount     int64           // SELN_CNTG_CSNU
	BidTickCount     int64           // SHNU_CNTG_CSNU
	NetBidCount      int64           // NTBY_CNTG_CSNU
	Strength         decimal.Decimal // CTTR
	TotalAskVolume   int64
	TotalBidVolume   int64
	ExecClass        ExecClass
	BidRatio         decimal.Decimal
	VolumeRateVsPrev decimal.Decimal

	OpenTime     time.Time
	SignVsOpen   PriceSign
	ChangeVsOpen int64
	HighTime     time.Time
	SignVsHigh   PriceSign
	ChangeVsHigh int64
	LowTime      time.Time
	SignVsLow    PriceSign
	ChangeVsLow  int64

	BusinessDate    time.Time // BSOP_DATE at midnight KST
	MarketOperation MarketOperation
	Halted          bool // TRHT_YN

	BestAskQty        int64
	BestBidQty        int64
	TotalAskQty       int64
	TotalBidQty       int64
	Turnover          decimal.Decimal // VOL_TNRT
	PrevSameTimeVol   int64
	PrevSameTimeRate  decimal.Decimal
	TimeClass         TimeClass
	Termination       MarketTermination
	StaticVIBasePrice int64 // VI_STND_PRC, 0 when blank
}

func (t *TradeTick) Header() Header   { return t.Hdr }
func (t *TradeTick) Channel() Channel { return ChannelTradeTick }

// DepthLevels is the number of price levels on each side of the book.
const DepthLevels = 10

// OrderBook is one order-book depth update (H0STASP0). Index 0 of every
// level array is the best level.
type OrderBook struct {
	Hdr Header

	Code      string
	Time      time.Time // BSOP_HOUR on the current business date
	TimeClass TimeClass

	AskPrices [DepthLevels]int64
	BidPrices [DepthLevels]int64
	AskQtys   [DepthLevels]int64
	BidQtys   [DepthLevels]int64

	TotalAskQty           int64
	TotalBidQty           int64
	AfterHoursAskQty      int64
	AfterHoursBidQty      int64
	PredictedPrice        int64
	PredictedQty          int64
	PredictedVolume       int64
	PredictedChange       int64
	PredictedSign         PriceSign
	PredictedRate         decimal.Decimal
	CumVolume             int64
	TotalAskQtyDelta      int64
	TotalBidQtyDelta      int64
	AfterHoursAskQtyDelta int64
	AfterHoursBidQtyDelta int64
	DealClass             DealClass
}

func (o *OrderBook) Header() Header   { return o.Hdr }
func (o *OrderBook) Channel() Channel { return ChannelOrderBook }

// -----------------------------------------------------------------------------
// Personal execution notices
// -----------------------------------------------------------------------------

// PersonalFill is an order/execution notice for the subscribed customer
// (H0STCNI0 / H0STCNI9), decoded from the decrypted payload.
type PersonalFill struct {
	Hdr Header

	CustomerID     string
	AccountNo      string
	OrderNo        int64
	OriginOrderNo  int64 // 0 when the order has no origin
	Direction      Direction
	Correction     CorrectionClass
	OrderKind      OrderKind
	OrderCondition string
	Code           string
	ExecQty        int64
	ExecPrice      int64
	ExecTime       time.Time
	Refused        bool
	Executed       bool
	Accepted       bool
	BranchNo       string
	OrderQty       int64
	AccountName    string
	StockName      string
	CreditClass    string
	CreditLoanDate *time.Time // nil when blank or not a date
	StockNameLong  string     // CNTG_ISNM40
}

func (f *PersonalFill) Header() Header   { return f.Hdr }
func (f *PersonalFill) Channel() Channel { return ChannelPersonalFill }
