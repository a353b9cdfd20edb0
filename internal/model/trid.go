package model

import (
	"fmt"
	"strings"
)

// TrID is a broker transaction code. Streaming code only cares about the
// realtime subset; the REST codes are kept so frames echoing them can be
// recognised and logged.
type TrID string

const (
	// Orders
	TrRealStockCashBid    TrID = "TTTC0802U"
	TrRealStockCashAsk    TrID = "TTTC0801U"
	TrVirtualStockCashBid TrID = "VTTC0802U"
	TrVirtualStockCashAsk TrID = "VTTC0801U"
	TrRealStockCorrection TrID = "TTTC0803U"
	TrVirtualStockCorrect TrID = "VTTC0803U"
	TrDailyPrice          TrID = "FHKST01010400"
	TrVolumeRank          TrID = "FHPST01710000"
	TrInterestGroupList   TrID = "HHKCM113004C7"
	TrInterestGroupItem   TrID = "HHKCM113004C6"

	// Realtime
	TrTradeTick           TrID = "H0STCNT0"
	TrOrderBook           TrID = "H0STASP0"
	TrRealPersonalFill    TrID = "H0STCNI0"
	TrVirtualPersonalFill TrID = "H0STCNI9"
	TrKeepAlive           TrID = "PINGPONG"
)

// Known reports whether the code is one of the declared constants.
func (t TrID) Known() bool {
	switch t {
	case TrRealStockCashBid, TrRealStockCashAsk, TrVirtualStockCashBid, TrVirtualStockCashAsk,
		TrRealStockCorrection, TrVirtualStockCorrect, TrDailyPrice, TrVolumeRank,
		TrInterestGroupList, TrInterestGroupItem,
		TrTradeTick, TrOrderBook, TrRealPersonalFill, TrVirtualPersonalFill, TrKeepAlive:
		return true
	}
	return false
}

// IsPersonalFill reports whether the code is either personal-fill channel.
func (t TrID) IsPersonalFill() bool {
	return t == TrRealPersonalFill || t == TrVirtualPersonalFill
}

// Channel returns the streaming channel carried by this code.
func (t TrID) Channel() (Channel, bool) {
	switch t {
	case TrTradeTick:
		return ChannelTradeTick, true
	case TrOrderBook:
		return ChannelOrderBook, true
	case TrRealPersonalFill, TrVirtualPersonalFill:
		return ChannelPersonalFill, true
	}
	return 0, false
}

// Environment selects the real or the simulated (virtual) trading system.
type Environment string

const (
	EnvReal    Environment = "real"
	EnvVirtual Environment = "virtual"
)

// ParseEnvironment accepts "real" or "virtual" in any case.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(s)) {
	case EnvReal:
		return EnvReal, nil
	case EnvVirtual, "":
		return EnvVirtual, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Channel is one logical realtime stream. Each channel has its own
// connection and at most one receive loop.
type Channel int

const (
	ChannelTradeTick Channel = iota + 1
	ChannelOrderBook
	ChannelPersonalFill
)

// Channels lists every streaming channel in a stable order.
var Channels = []Channel{ChannelTradeTick, ChannelOrderBook, ChannelPersonalFill}

func (c Channel) String() string {
	switch c {
	case ChannelTradeTick:
		return "trade_tick"
	case ChannelOrderBook:
		return "order_book"
	case ChannelPersonalFill:
		return "personal_fill"
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// TrID returns the subscribe code for the channel. Personal fills use a
// different code on the virtual system.
func (c Channel) TrID(env Environment) TrID {
	switch c {
	case ChannelTradeTick:
		return TrTradeTick
	case ChannelOrderBook:
		return TrOrderBook
	case ChannelPersonalFill:
		if env == EnvReal {
			return TrRealPersonalFill
		}
		return TrVirtualPersonalFill
	}
	return ""
}
