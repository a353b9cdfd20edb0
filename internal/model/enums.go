package model

import (
	"fmt"
	"strings"
)

// The closed code sets below are string-backed: the constant value is the
// wire code, so decoding is a membership check and encoding is a cast.

// PriceSign is the sign classifier of a "versus" price delta.
type PriceSign string

const (
	SignUpperLimit PriceSign = "1"
	SignRise       PriceSign = "2"
	SignFlat       PriceSign = "3"
	SignFall       PriceSign = "4"
	SignLowerLimit PriceSign = "5"
)

// ParsePriceSign maps a one-character code to a PriceSign.
func ParsePriceSign(code string) (PriceSign, error) {
	switch s := PriceSign(code); s {
	case SignUpperLimit, SignRise, SignFlat, SignFall, SignLowerLimit:
		return s, nil
	}
	return "", unknownCode("price sign", code)
}

func (s PriceSign) String() string {
	switch s {
	case SignUpperLimit:
		return "upper_limit"
	case SignRise:
		return "rise"
	case SignFlat:
		return "flat"
	case SignFall:
		return "fall"
	case SignLowerLimit:
		return "lower_limit"
	}
	return string(s)
}

// ExecClass tells which side initiated a tick.
type ExecClass string

const (
	ExecBid       ExecClass = "1"
	ExecPreMarket ExecClass = "3"
	ExecAsk       ExecClass = "5"
)

// ParseExecClass maps a tick-direction code.
func ParseExecClass(code string) (ExecClass, error) {
	switch c := ExecClass(code); c {
	case ExecBid, ExecPreMarket, ExecAsk:
		return c, nil
	}
	return "", unknownCode("exec class", code)
}

// TimeClass is the hour classification attached to ticks and quotes.
type TimeClass string

const (
	TimeInMarket           TimeClass = "0"
	TimePostMarketPredict  TimeClass = "A"
	TimePreMarketPredict   TimeClass = "B"
	TimeAfterNineOrVI      TimeClass = "C"
	TimeSinglePricePredict TimeClass = "D"
)

// ParseTimeClass maps an hour classification code.
func ParseTimeClass(code string) (TimeClass, error) {
	switch c := TimeClass(code); c {
	case TimeInMarket, TimePostMarketPredict, TimePreMarketPredict, TimeAfterNineOrVI, TimeSinglePricePredict:
		return c, nil
	}
	return "", unknownCode("time class", code)
}

// SessionPhase is the first digit of a market-operation code: when the
// order is placed.
type SessionPhase byte

const (
	PhasePreMarket   SessionPhase = '1'
	PhaseMarket      SessionPhase = '2'
	PhasePostMarket  SessionPhase = '3'
	PhaseSinglePrice SessionPhase = '4'
	PhaseNormalBuyIn SessionPhase = '7'
	PhaseTodayBuyIn  SessionPhase = '8'
)

// SessionTarget is the second digit of a market-operation code: what kind
// of trading the session serves.
type SessionTarget byte

const (
	TargetNormal     SessionTarget = '0'
	TargetClosePrice SessionTarget = '1'
	TargetBlock      SessionTarget = '2'
	TargetBasket     SessionTarget = '3'
	TargetClearance  SessionTarget = '7'
	TargetBuyIn      SessionTarget = '8'
)

// MarketOperation is the two-character market-session classifier.
type MarketOperation struct {
	Phase  SessionPhase
	Target SessionTarget
}

// ParseMarketOperation decodes codes such as "20" (regular session, normal).
func ParseMarketOperation(code string) (MarketOperation, error) {
	if len(code) != 2 {
		return MarketOperation{}, unknownCode("market operation", code)
	}
	op := MarketOperation{Phase: SessionPhase(code[0]), Target: SessionTarget(code[1])}
	switch op.Phase {
	case PhasePreMarket, PhaseMarket, PhasePostMarket, PhaseSinglePrice, PhaseNormalBuyIn, PhaseTodayBuyIn:
	default:
		return MarketOperation{}, unknownCode("market operation", code)
	}
	switch op.Target {
	case TargetNormal, TargetClosePrice, TargetBlock, TargetBasket, TargetClearance, TargetBuyIn:
	default:
		return MarketOperation{}, unknownCode("market operation", code)
	}
	return op, nil
}

func (o MarketOperation) String() string {
	if o == (MarketOperation{}) {
		return ""
	}
	return string([]byte{byte(o.Phase), byte(o.Target)})
}

// MarshalText encodes the operation as its two-character wire code.
func (o MarketOperation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Direction is the order side on a personal fill.
type Direction string

const (
	DirectionAsk Direction = "01"
	DirectionBid Direction = "02"
)

// ParseDirection maps the sell/buy classifier.
func ParseDirection(code string) (Direction, error) {
	switch d := Direction(code); d {
	case DirectionAsk, DirectionBid:
		return d, nil
	}
	return "", unknownCode("direction", code)
}

func (d Direction) String() string {
	switch d {
	case DirectionAsk:
		return "ask"
	case DirectionBid:
		return "bid"
	}
	return string(d)
}

// CorrectionClass marks a fill as belonging to an original, corrected or
// cancelled order.
type CorrectionClass string

const (
	CorrectionNone   CorrectionClass = "0"
	CorrectionModify CorrectionClass = "01"
	CorrectionCancel CorrectionClass = "02"
)

// ParseCorrectionClass accepts both the one- and two-digit spellings the
// broker uses.
func ParseCorrectionClass(code string) (CorrectionClass, error) {
	switch code {
	case "0", "00":
		return CorrectionNone, nil
	case "1", "01":
		return CorrectionModify, nil
	case "2", "02":
		return CorrectionCancel, nil
	}
	return "", unknownCode("correction class", code)
}

// OrderKind is the order type of a personal fill.
type OrderKind string

const (
	OrderLimit            OrderKind = "00"
	OrderMarket           OrderKind = "01"
	OrderConditionalLimit OrderKind = "02"
	OrderBest             OrderKind = "03"
	OrderFirst            OrderKind = "04"
	OrderPreMarket        OrderKind = "05"
	OrderPostMarket       OrderKind = "06"
	OrderSinglePrice      OrderKind = "07"
	OrderOwnStock         OrderKind = "08"
	OrderOwnStockSOption  OrderKind = "09"
	OrderOwnStockTrust    OrderKind = "10"
	OrderIOCLimit         OrderKind = "11"
	OrderFOKLimit         OrderKind = "12"
	OrderIOCMarket        OrderKind = "13"
	OrderFOKMarket        OrderKind = "14"
	OrderIOCBest          OrderKind = "15"
	OrderFOKBest          OrderKind = "16"
)

// ParseOrderKind maps a two-digit order type.
func ParseOrderKind(code string) (OrderKind, error) {
	if len(code) == 2 && code >= string(OrderLimit) && code <= string(OrderFOKBest) &&
		code[0] >= '0' && code[0] <= '1' && code[1] >= '0' && code[1] <= '9' {
		return OrderKind(code), nil
	}
	return "", unknownCode("order kind", code)
}

// CustomerType is sent in the subscribe envelope.
type CustomerType string

const (
	CustomerPersonal CustomerType = "P"
	CustomerBusiness CustomerType = "B"
)

// DealClass is the stock deal classifier on order-book frames. The broker
// does not publish its code set, so the raw code is kept.
type DealClass string

// MarketTermination is the arbitrary-termination classifier on ticks; kept
// raw for the same reason as DealClass.
type MarketTermination string

// ParseBool is the tolerant boolean mapping used by the wire format.
// Unrecognised values read as false.
func ParseBool(s string) bool {
	switch strings.ToUpper(s) {
	case "1", "Y", "T", "TRUE":
		return true
	}
	return false
}

func unknownCode(kind, code string) error {
	return fmt.Errorf("unknown %s code %q", kind, code)
}
