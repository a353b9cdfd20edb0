package parser

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/protocol"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, model.KST)

func newTestParser() *Parser {
	return &Parser{Now: func() time.Time { return fixedNow }}
}

func dataFrame(t *testing.T, raw string) *protocol.DataFrame {
	t.Helper()
	f, err := protocol.Classify([]byte(raw))
	require.NoError(t, err)
	d, ok := f.(*protocol.DataFrame)
	require.True(t, ok, "expected data frame, got %T", f)
	return d
}

func marketLine(enc string, trID model.TrID, count int, values []string) string {
	return fmt.Sprintf("%s|%s|%03d|%s", enc, trID, count, strings.Join(values, protocol.FieldSep))
}

func tickValues(code string) []string {
	return []string{
		code, "093015", "71000", "2", "500", "0.71", "70850.25", "70500", "71200", "70400",
		"71100", "71000", "10", "1234567", "87654321000", "1500", "1700", "200", "105.32", "600000",
		"650000", "1", "52.10", "85.30", "090000", "2", "500", "091500", "5", "-200",
		"090100", "2", "600", "20240314", "20", "N", "3000", "4000", "250000", "260000",
		"0.21", "1100000", "112.20", "0", "0", "",
	}
}

func TestDecode_TradeTick(t *testing.T) {
	values := tickValues("005930")
	require.Len(t, values, TradeTickWidth)

	p := newTestParser()
	msgs, err := p.Decode(dataFrame(t, marketLine("0", model.TrTradeTick, 1, values)), model.ChannelTradeTick, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	tk, ok := msgs[0].(*model.TradeTick)
	require.True(t, ok)

	// Time-of-day fields use BSOP_DATE, not the wall clock.
	bizDate := time.Date(2024, 3, 14, 0, 0, 0, 0, model.KST)
	at := func(h, m, s int) time.Time { return time.Date(2024, 3, 14, h, m, s, 0, model.KST) }

	assert.Equal(t, model.TrTradeTick, tk.Header().TrID)
	assert.True(t, tk.Header().Time.Equal(at(9, 30, 15)))
	assert.Equal(t, model.ChannelTradeTick, tk.Channel())

	assert.Equal(t, "005930", tk.Code)
	assert.True(t, tk.ExecTime.Equal(at(9, 30, 15)))
	assert.Equal(t, int64(71000), tk.Price)
	assert.Equal(t, model.SignRise, tk.SignVsPrevDay)
	assert.Equal(t, int64(500), tk.ChangeVsPrev)
	assert.True(t, tk.RateVsPrev.Equal(decimal.RequireFromString("0.71")))
	assert.True(t, tk.WeightedAvg.Equal(decimal.RequireFromString("70850.25")))
	assert.Equal(t, []int64{70500, 71200, 70400}, []int64{tk.Open, tk.High, tk.Low})
	assert.Equal(t, []int64{71100, 71000}, []int64{tk.BestAsk, tk.BestBid})
	assert.Equal(t, []int64{10, 1234567, 87654321000}, []int64{tk.Volume, tk.CumVolume, tk.CumAmount})
	assert.Equal(t, []int64{1500, 1700, 200}, []int64{tk.AskTickCount, tk.BidTickCount, tk.NetBidCount})
	assert.True(t, tk.Strength.Equal(decimal.RequireFromString("105.32")))
	assert.Equal(t, []int64{600000, 650000}, []int64{tk.TotalAskVolume, tk.TotalBidVolume})
	assert.Equal(t, model.ExecBid, tk.ExecClass)
	assert.True(t, tk.BidRatio.Equal(decimal.RequireFromString("52.10")))
	assert.True(t, tk.VolumeRateVsPrev.Equal(decimal.RequireFromString("85.3")))
	assert.True(t, tk.OpenTime.Equal(at(9, 0, 0)))
	assert.Equal(t, model.SignRise, tk.SignVsOpen)
	assert.Equal(t, int64(500), tk.ChangeVsOpen)
	assert.True(t, tk.HighTime.Equal(at(9, 15, 0)))
	assert.Equal(t, model.SignLowerLimit, tk.SignVsHigh)
	assert.Equal(t, int64(-200), tk.ChangeVsHigh)
	assert.True(t, tk.LowTime.Equal(at(9, 1, 0)))
	assert.Equal(t, model.SignRise, tk.SignVsLow)
	assert.Equal(t, int64(600), tk.ChangeVsLow)
	assert.True(t, tk.BusinessDate.Equal(bizDate))
	assert.Equal(t, model.MarketOperation{Phase: model.PhaseMarket, Target: model.TargetNormal}, tk.MarketOperation)
	assert.False(t, tk.Halted)
	assert.Equal(t, []int64{3000, 4000, 250000, 260000}, []int64{tk.BestAskQty, tk.BestBidQty, tk.TotalAskQty, tk.TotalBidQty})
	assert.True(t, tk.Turnover.Equal(decimal.RequireFromString("0.21")))
	assert.Equal(t, int64(1100000), tk.PrevSameTimeVol)
	assert.True(t, tk.PrevSameTimeRate.Equal(decimal.RequireFromString("112.2")))
	assert.Equal(t, model.TimeInMarket, tk.TimeClass)
	assert.Equal(t, model.MarketTermination("0"), tk.Termination)
	assert.Equal(t, int64(0), tk.StaticVIBasePrice)
}

func TestDecode_TradeTickMultiRecord(t *testing.T) {
	values := append(tickValues("005930"), tickValues("000660")...)

	msgs, err := newTestParser().Decode(dataFrame(t, marketLine("0", model.TrTradeTick, 2, values)), model.ChannelTradeTick, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "005930", msgs[0].(*model.TradeTick).Code)
	assert.Equal(t, "000660", msgs[1].(*model.TradeTick).Code)
}

func TestDecode_FieldCountMismatch(t *testing.T) {
	values := tickValues("005930")
	values = values[:len(values)-1]

	_, err := newTestParser().Decode(dataFrame(t, marketLine("0", model.TrTradeTick, 1, values)), model.ChannelTradeTick, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldCount)

	var fpe *FrameParseError
	require.ErrorAs(t, err, &fpe)
	assert.Equal(t, model.TrTradeTick, fpe.TrID)

	// Two records announced, one sent.
	_, err = newTestParser().Decode(dataFrame(t, marketLine("0", model.TrTradeTick, 2, tickValues("005930"))), model.ChannelTradeTick, nil)
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestDecode_FieldNameQualifiedErrors(t *testing.T) {
	tests := []struct {
		name      string
		index     int
		value     string
		wantField string
	}{
		{"non-numeric price", 2, "abc", "STCK_PRPR"},
		{"unknown sign", 3, "9", "PRDY_VRSS_SIGN"},
		{"bad rate", 5, "1.2.3", "PRDY_CTRT"},
		{"bad clock", 24, "25xx00", "OPRC_HOUR"},
		{"bad business date", 33, "2024-03-14", "BSOP_DATE"},
		{"unknown exec class", 21, "7", "CCLD_DVSN"},
		{"unknown market operation", 34, "99", "NEW_MKOP_CLS_CODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := tickValues("005930")
			values[tt.index] = tt.value

			_, err := newTestParser().Decode(dataFrame(t, marketLine("0", model.TrTradeTick, 1, values)), model.ChannelTradeTick, nil)
			var fpe *FrameParseError
			require.ErrorAs(t, err, &fpe)
			assert.Equal(t, tt.wantField, fpe.Field)
			assert.Equal(t, tt.index, fpe.Index)
			assert.Equal(t, tt.value, fpe.Value)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func bookValues() []string {
	v := []string{"005930", "093015", "0"}
	for i := 0; i < model.DepthLevels; i++ {
		v = append(v, strconv.Itoa(71100+i*100)) // asks, best first
	}
	for i := 0; i < model.DepthLevels; i++ {
		v = append(v, strconv.Itoa(71000-i*100)) // bids, best first
	}
	for i := 0; i < model.DepthLevels; i++ {
		v = append(v, strconv.Itoa(1000+i))
	}
	for i := 0; i < model.DepthLevels; i++ {
		v = append(v, strconv.Itoa(2000+i))
	}
	v = append(v,
		"500000", "600000", "100", "200",
		"71050", "3000", "15000", "550", "2", "0.78",
		"1234567", "-10", "20", "0", "0", "00",
	)
	return v
}

func TestDecode_OrderBookLevels(t *testing.T) {
	values := bookValues()
	require.Len(t, values, OrderBookWidth)

	msgs, err := newTestParser().Decode(dataFrame(t, marketLine("0", model.TrOrderBook, 1, values)), model.ChannelOrderBook, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	ob := msgs[0].(*model.OrderBook)
	assert.Equal(t, "005930", ob.Code)
	assert.True(t, ob.Time.Equal(time.Date(2024, 3, 15, 9, 30, 15, 0, model.KST)))
	assert.Equal(t, model.TimeInMarket, ob.TimeClass)

	assert.Len(t, ob.AskPrices, 10)
	assert.Len(t, ob.BidPrices, 10)
	for i := 0; i < model.DepthLevels; i++ {
		assert.Equal(t, int64(71100+i*100), ob.AskPrices[i], "ask level %d", i)
		assert.Equal(t, int64(71000-i*100), ob.BidPrices[i], "bid level %d", i)
		assert.Equal(t, int64(1000+i), ob.AskQtys[i], "ask qty level %d", i)
		assert.Equal(t, int64(2000+i), ob.BidQtys[i], "bid qty level %d", i)
	}

	assert.Equal(t, int64(500000), ob.TotalAskQty)
	assert.Equal(t, int64(600000), ob.TotalBidQty)
	assert.Equal(t, int64(100), ob.AfterHoursAskQty)
	assert.Equal(t, int64(200), ob.AfterHoursBidQty)
	assert.Equal(t, int64(71050), ob.PredictedPrice)
	assert.Equal(t, int64(3000), ob.PredictedQty)
	assert.Equal(t, int64(15000), ob.PredictedVolume)
	assert.Equal(t, int64(550), ob.PredictedChange)
	assert.Equal(t, model.SignRise, ob.PredictedSign)
	assert.True(t, ob.PredictedRate.Equal(decimal.RequireFromString("0.78")))
	assert.Equal(t, int64(1234567), ob.CumVolume)
	assert.Equal(t, int64(-10), ob.TotalAskQtyDelta)
	assert.Equal(t, int64(20), ob.TotalBidQtyDelta)
	assert.Equal(t, model.DealClass("00"), ob.DealClass)
}

func TestDecode_ProtocolMismatch(t *testing.T) {
	f := dataFrame(t, marketLine("0", model.TrTradeTick, 1, tickValues("005930")))
	_, err := newTestParser().Decode(f, model.ChannelOrderBook, nil)
	assert.ErrorIs(t, err, protocol.ErrProtocolMismatch)
}

func TestDecode_EncryptedMarketFrame(t *testing.T) {
	f := dataFrame(t, marketLine("1", model.TrTradeTick, 1, tickValues("005930")))
	_, err := newTestParser().Decode(f, model.ChannelTradeTick, nil)
	assert.ErrorIs(t, err, ErrUnexpectedEncryption)
}

const (
	fillKey = "abcdefghijklmnopqrstuvwxyz012345"
	fillIV  = "0123456789abcdef"
)

var fillPlain = strings.Join([]string{
	"cust01", "12345678", "0000012345", "", "02", "0", "00", "0", "005930",
	"10", "71000", "093015", "N", "Y", "1", "01", "10", "홍길동", "삼성전자", "10", "20240301", "삼성전자보통주",
}, "^")

func fillLine(t *testing.T, enc string, trID model.TrID, payload []byte) *protocol.DataFrame {
	t.Helper()
	return dataFrame(t, fmt.Sprintf("%s|%s|001|%s", enc, trID, base64.StdEncoding.EncodeToString(payload)))
}

func assertFill(t *testing.T, msgs []model.Message) {
	t.Helper()
	require.Len(t, msgs, 1)
	pf, ok := msgs[0].(*model.PersonalFill)
	require.True(t, ok)

	assert.Equal(t, "cust01", pf.CustomerID)
	assert.Equal(t, "12345678", pf.AccountNo)
	assert.Equal(t, int64(12345), pf.OrderNo)
	assert.Equal(t, int64(0), pf.OriginOrderNo)
	assert.Equal(t, model.DirectionBid, pf.Direction)
	assert.Equal(t, model.CorrectionNone, pf.Correction)
	assert.Equal(t, model.OrderLimit, pf.OrderKind)
	assert.Equal(t, "0", pf.OrderCondition)
	assert.Equal(t, "005930", pf.Code)
	assert.Equal(t, int64(10), pf.ExecQty)
	assert.Equal(t, int64(71000), pf.ExecPrice)
	assert.True(t, pf.ExecTime.Equal(time.Date(2024, 3, 15, 9, 30, 15, 0, model.KST)))
	assert.False(t, pf.Refused)
	assert.True(t, pf.Executed)
	assert.True(t, pf.Accepted)
	assert.Equal(t, "01", pf.BranchNo)
	assert.Equal(t, int64(10), pf.OrderQty)
	assert.Equal(t, "홍길동", pf.AccountName)
	assert.Equal(t, "삼성전자", pf.StockName)
	assert.Equal(t, "10", pf.CreditClass)
	require.NotNil(t, pf.CreditLoanDate)
	assert.True(t, pf.CreditLoanDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, model.KST)))
	assert.Equal(t, "삼성전자보통주", pf.StockNameLong)
}

func TestDecode_PersonalFillEncryptedRoundTrip(t *testing.T) {
	c, err := decrypt.New(fillKey, fillIV)
	require.NoError(t, err)

	f := fillLine(t, "1", model.TrRealPersonalFill, c.Encrypt(fillPlain))
	msgs, err := newTestParser().Decode(f, model.ChannelPersonalFill, c)
	require.NoError(t, err)
	assertFill(t, msgs)
}

func TestDecode_PersonalFillPlaintext(t *testing.T) {
	f := fillLine(t, "0", model.TrVirtualPersonalFill, []byte(fillPlain))
	msgs, err := newTestParser().Decode(f, model.ChannelPersonalFill, nil)
	require.NoError(t, err)
	assertFill(t, msgs)
}

func TestDecode_PersonalFillBlankLoanDate(t *testing.T) {
	plain := strings.Replace(fillPlain, "^20240301^", "^^", 1)
	f := fillLine(t, "0", model.TrRealPersonalFill, []byte(plain))
	msgs, err := newTestParser().Decode(f, model.ChannelPersonalFill, nil)
	require.NoError(t, err)
	assert.Nil(t, msgs[0].(*model.PersonalFill).CreditLoanDate)
}

func TestDecode_PersonalFillWrongKey(t *testing.T) {
	oldC, err := decrypt.New(fillKey, fillIV)
	require.NoError(t, err)
	newC, err := decrypt.New("ZYXWVUTSRQPONMLKJIHGFEDCBA987654", "fedcba9876543210")
	require.NoError(t, err)

	f := fillLine(t, "1", model.TrRealPersonalFill, oldC.Encrypt(fillPlain))
	_, err = newTestParser().Decode(f, model.ChannelPersonalFill, newC)
	require.Error(t, err)

	var ce *decrypt.CryptoError
	assert.ErrorAs(t, err, &ce)
	var fpe *FrameParseError
	assert.False(t, errors.As(err, &fpe), "crypto failure must not be reported as a parse error")
}

func TestDecode_PersonalFillNoCipher(t *testing.T) {
	f := fillLine(t, "1", model.TrRealPersonalFill, []byte(strings.Repeat("x", 32)))
	_, err := newTestParser().Decode(f, model.ChannelPersonalFill, nil)

	var ce *decrypt.CryptoError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrNoCipher)
}

func TestDecode_PersonalFillBadBase64(t *testing.T) {
	f := dataFrame(t, "1|H0STCNI0|001|not*base64")
	_, err := newTestParser().Decode(f, model.ChannelPersonalFill, nil)

	var fpe *FrameParseError
	require.ErrorAs(t, err, &fpe)
	assert.Equal(t, "payload", fpe.Field)
}
