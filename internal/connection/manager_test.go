package connection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/kis-stream/internal/auth"
	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/parser"
	"github.com/rickgao/kis-stream/internal/protocol"
)

const pingFrame = `{"header":{"tr_id":"PINGPONG","datetime":"20240315093000"}}`

// fakeBroker answers subscribe envelopes with whatever respond returns and
// records echoed keep-alives.
type fakeBroker struct {
	server  *httptest.Server
	respond func(req protocol.Request) []string

	mu    sync.Mutex
	conns []*brokerConn
	paths []string

	requests chan protocol.Request
	echoes   chan string
}

type brokerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *brokerConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func newFakeBroker(t *testing.T, respond func(req protocol.Request) []string) *fakeBroker {
	b := &fakeBroker{
		respond:  respond,
		requests: make(chan protocol.Request, 64),
		echoes:   make(chan string, 64),
	}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		bc := &brokerConn{conn: conn}
		b.mu.Lock()
		b.conns = append(b.conns, bc)
		b.paths = append(b.paths, r.URL.Path)
		b.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req protocol.Request
			if json.Unmarshal(data, &req) == nil && req.Body.Input.TrID != "" {
				b.requests <- req
				for _, f := range b.respond(req) {
					if bc.write(f) != nil {
						return
					}
				}
				continue
			}
			b.echoes <- string(data)
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) latest(t *testing.T) *brokerConn {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.conns, "no broker connection")
	return b.conns[len(b.conns)-1]
}

func (b *fakeBroker) push(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, b.latest(t).write(frame))
}

// drop closes the newest connection without a close handshake.
func (b *fakeBroker) drop(t *testing.T) {
	t.Helper()
	b.latest(t).conn.Close()
}

func (b *fakeBroker) connCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *fakeBroker) path(i int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paths[i]
}

func ackFrame(trID model.TrID, trKey, msg string, ivKey ...string) string {
	rtCd := "0"
	if msg != protocol.MsgSubscribeSuccess && msg != protocol.MsgUnsubscribeSuccess {
		rtCd = "1"
	}
	body := map[string]any{"rt_cd": rtCd, "msg_cd": "OPSP0000", "msg1": msg}
	if len(ivKey) == 2 {
		body["output"] = map[string]string{"iv": ivKey[0], "key": ivKey[1]}
	}
	data, _ := json.Marshal(map[string]any{
		"header": map[string]string{"tr_id": string(trID), "tr_key": trKey, "encrypt": "N"},
		"body":   body,
	})
	return string(data)
}

func acceptAll(req protocol.Request) []string {
	msg := protocol.MsgSubscribeSuccess
	if req.Header.TrType == protocol.TrUnregister {
		msg = protocol.MsgUnsubscribeSuccess
	}
	return []string{ackFrame(req.Body.Input.TrID, req.Body.Input.TrKey, msg)}
}

func tickValues(code string, price int) []string {
	return []string{
		code, "093015", strconv.Itoa(price), "2", "500", "0.71", "70850.25", "70500", "71200", "70400",
		"71100", "71000", "10", "1234567", "87654321000", "1500", "1700", "200", "105.32", "600000",
		"650000", "1", "52.10", "85.30", "090000", "2", "500", "091500", "5", "-200",
		"090100", "2", "600", "20240314", "20", "N", "3000", "4000", "250000", "260000",
		"0.21", "1100000", "112.20", "0", "0", "",
	}
}

func tickFrame(code string, price int) string {
	return "0|H0STCNT0|001|" + strings.Join(tickValues(code, price), "^")
}

const (
	fillKey1 = "abcdefghijklmnopqrstuvwxyz012345"
	fillIV1  = "0123456789abcdef"
	fillKey2 = "ZYXWVUTSRQPONMLKJIHGFEDCBA987654"
	fillIV2  = "fedcba9876543210"
)

var fillPlain = strings.Join([]string{
	"cust01", "12345678", "0000012345", "", "02", "0", "00", "0", "005930",
	"10", "71000", "093015", "N", "Y", "1", "01", "10", "홍길동", "삼성전자", "10", "20240301", "삼성전자보통주",
}, "^")

func fillFrame(t *testing.T, key, iv string) string {
	t.Helper()
	c, err := decrypt.New(key, iv)
	require.NoError(t, err)
	return "1|H0STCNI9|001|" + base64.StdEncoding.EncodeToString(c.Encrypt(fillPlain))
}

func newTestManager(t *testing.T, b *fakeBroker, mutate ...func(*ManagerConfig)) Manager {
	t.Helper()
	creds, err := auth.NewCredentials(auth.Params{
		AppKey:      "app-key",
		AppSecret:   "app-secret",
		ApprovalKey: "approval-key",
		HTSID:       "hts01",
	})
	require.NoError(t, err)

	cfg := DefaultManagerConfig()
	cfg.URL = wsURL(b.server)
	cfg.AckTimeout = 2 * time.Second
	cfg.QueueSize = 4
	cfg.Client = testClientConfig("")
	cfg.Client.DialMaxAttempts = 1
	for _, fn := range mutate {
		fn(&cfg)
	}

	m := NewManager(cfg, creds, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { m.Close() })
	return m
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting on channel")
	}
	var zero T
	return zero
}

func nextEvent(t *testing.T, s *Stream) (Event, error) {
	t.Helper()
	type result struct {
		ev  Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ev, err := s.NextEvent()
		ch <- result{ev, err}
	}()
	r := recv(t, ch)
	return r.ev, r.err
}

func nextMessage(t *testing.T, s *Stream) model.Message {
	t.Helper()
	ev, err := nextEvent(t, s)
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Message)
	return ev.Message
}

func channelStats(m Manager, ch model.Channel) ChannelStats {
	for _, st := range m.Stats().Channels {
		if st.Channel == ch {
			return st
		}
	}
	return ChannelStats{}
}

func TestManager_SubscribeTradeTick(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		return append([]string{pingFrame}, acceptAll(req)...)
	})
	m := newTestManager(t, b)

	stream, ack, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.True(t, ack.Success)
	assert.Equal(t, protocol.MsgSubscribeSuccess, ack.Message)
	assert.Equal(t, model.ChannelTradeTick, stream.Channel())
	assert.Same(t, stream, m.Stream(model.ChannelTradeTick))

	req := recv(t, b.requests)
	assert.Equal(t, protocol.TrRegister, req.Header.TrType)
	assert.Equal(t, "approval-key", req.Header.ApprovalKey)
	assert.Equal(t, model.CustomerPersonal, req.Header.CustType)
	assert.Equal(t, model.TrTradeTick, req.Body.Input.TrID)
	assert.Equal(t, "005930", req.Body.Input.TrKey)
	assert.Equal(t, "/tryitout/H0STCNT0", b.path(0))

	// The heartbeat sent before the ack is echoed byte for byte.
	assert.Equal(t, pingFrame, recv(t, b.echoes))

	b.push(t, tickFrame("005930", 71000))
	tick, ok := nextMessage(t, stream).(*model.TradeTick)
	require.True(t, ok)
	assert.Equal(t, "005930", tick.Code)
	assert.Equal(t, int64(71000), tick.Price)

	st := channelStats(m, model.ChannelTradeTick)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, []string{"005930"}, st.Targets)
	assert.Equal(t, int64(1), st.Loops)
	assert.Equal(t, int64(1), st.KeepAlives)
	assert.Equal(t, int64(1), st.Messages)
	assert.Equal(t, 1, m.Stats().Running)
}

func TestManager_KeepAliveNeverQueued(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)

	stream, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	b.push(t, pingFrame)
	assert.Equal(t, pingFrame, recv(t, b.echoes))

	b.push(t, tickFrame("005930", 71100))
	tick := nextMessage(t, stream).(*model.TradeTick)
	assert.Equal(t, int64(71100), tick.Price)
	assert.Equal(t, 0, stream.Len())
}

func TestManager_PreAckFramesDeliveredFirst(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		return append([]string{tickFrame("005930", 70000)}, acceptAll(req)...)
	})
	m := newTestManager(t, b)

	stream, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	b.push(t, tickFrame("005930", 70100))

	assert.Equal(t, int64(70000), nextMessage(t, stream).(*model.TradeTick).Price)
	assert.Equal(t, int64(70100), nextMessage(t, stream).(*model.TradeTick).Price)
}

func TestManager_BadFramesDoNotStopLoop(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)

	stream, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	short := tickValues("005930", 71000)[:45]
	b.push(t, "0|H0STCNT0|001|"+strings.Join(short, "^"))
	b.push(t, "garbage without separators")
	b.push(t, tickFrame("005930", 71200))

	_, err = nextEvent(t, stream)
	require.NoError(t, err)

	ev, err := nextEvent(t, stream)
	require.NoError(t, err)
	var fpe *parser.FrameParseError
	require.ErrorAs(t, ev.Err, &fpe)
	assert.ErrorIs(t, ev.Err, protocol.ErrMalformedFrame)
	assert.Equal(t, -1, fpe.Index)

	assert.Equal(t, int64(71200), nextMessage(t, stream).(*model.TradeTick).Price)
	assert.Equal(t, int64(2), channelStats(m, model.ChannelTradeTick).ParseErrors)
}

func TestManager_FieldCountMismatch(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)

	stream, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	b.push(t, "0|H0STCNT0|001|"+strings.Join(tickValues("005930", 71000)[:45], "^"))

	_, err = stream.Next()
	var fpe *parser.FrameParseError
	require.ErrorAs(t, err, &fpe)
	assert.ErrorIs(t, err, parser.ErrFieldCount)
	assert.Equal(t, model.TrTradeTick, fpe.TrID)
}

func TestManager_SecondSubscribeSharesLoop(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	first, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, ack, err := m.Subscribe(ctx, model.ChannelTradeTick, "000660")
	require.NoError(t, err)
	assert.Nil(t, second, "no new receiver for a running channel")
	assert.True(t, ack.Success)
	assert.Equal(t, "000660", ack.TrKey)
	assert.Equal(t, 1, b.connCount())

	b.push(t, tickFrame("000660", 150000))
	assert.Equal(t, "000660", nextMessage(t, first).(*model.TradeTick).Code)

	time.Sleep(50 * time.Millisecond)
	_, more := first.TryNext()
	assert.False(t, more, "frame delivered twice")

	st := channelStats(m, model.ChannelTradeTick)
	assert.Equal(t, []string{"000660", "005930"}, st.Targets)
	assert.Equal(t, int64(1), st.Loops)
}

func TestManager_ConcurrentIdenticalSubscribe(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		time.Sleep(50 * time.Millisecond)
		return acceptAll(req)
	})
	m := newTestManager(t, b)

	var (
		wg      sync.WaitGroup
		streams atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, ack, err := m.Subscribe(context.Background(), model.ChannelOrderBook, "005930")
			assert.NoError(t, err)
			assert.True(t, ack.Success)
			if s != nil {
				streams.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), streams.Load())
	assert.Equal(t, 1, b.connCount())
	assert.Equal(t, "/tryitout/H0STASP0", b.path(0))
}

func TestManager_SubscriptionRejected(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		return []string{ackFrame(req.Body.Input.TrID, req.Body.Input.TrKey, "ALREADY IN SUBSCRIBE")}
	})
	m := newTestManager(t, b)

	stream, ack, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	assert.Nil(t, stream)
	assert.False(t, ack.Success)

	var rej *SubscriptionRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "ALREADY IN SUBSCRIBE", rej.Message)
	assert.Equal(t, "005930", rej.TrKey)
	assert.Equal(t, 0, m.Stats().Running)
	assert.Nil(t, m.Stream(model.ChannelTradeTick))
}

func TestManager_RejectedOnRunningLoop(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		if req.Body.Input.TrKey == "999999" {
			return []string{ackFrame(req.Body.Input.TrID, req.Body.Input.TrKey, "MAX SUBSCRIBE OVER")}
		}
		return acceptAll(req)
	})
	m := newTestManager(t, b)
	ctx := context.Background()

	stream, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	_, _, err = m.Subscribe(ctx, model.ChannelTradeTick, "999999")
	var rej *SubscriptionRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "MAX SUBSCRIBE OVER", rej.Message)

	b.push(t, tickFrame("005930", 71000))
	assert.Equal(t, "005930", nextMessage(t, stream).(*model.TradeTick).Code)
	assert.Equal(t, []string{"005930"}, channelStats(m, model.ChannelTradeTick).Targets)
}

func TestManager_AckTimeout(t *testing.T) {
	b := newFakeBroker(t, func(protocol.Request) []string { return nil })
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.AckTimeout = 100 * time.Millisecond
	})

	stream, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, m.Stats().Running)
}

func TestManager_HandshakeCancelled(t *testing.T) {
	b := newFakeBroker(t, func(protocol.Request) []string { return nil })
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.AckTimeout = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_DialFailure(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.URL = "ws://127.0.0.1:1"
	})

	_, _, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "dial", ce.Op)
	assert.Equal(t, model.ChannelTradeTick, ce.Channel)
}

func TestManager_ConnectionLoss(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	stream, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	b.drop(t)

	ev, err := nextEvent(t, stream)
	require.NoError(t, err)
	var ce *ConnectionError
	require.ErrorAs(t, ev.Err, &ce)
	assert.Equal(t, "receive", ce.Op)

	_, err = nextEvent(t, stream)
	assert.ErrorIs(t, err, ErrStreamClosed)

	st := channelStats(m, model.ChannelTradeTick)
	assert.Equal(t, StateStopped, st.State)
	assert.Empty(t, st.Targets)

	// A stopped channel redials on the next subscribe.
	again, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, b.connCount())
	assert.Equal(t, int64(2), channelStats(m, model.ChannelTradeTick).Loops)
}

func TestManager_PersonalFillRekey(t *testing.T) {
	keys := [][2]string{{fillIV1, fillKey1}, {fillIV2, fillKey2}}
	var n atomic.Int32
	b := newFakeBroker(t, func(req protocol.Request) []string {
		if req.Header.TrType == protocol.TrUnregister {
			return acceptAll(req)
		}
		k := keys[(n.Add(1)-1)%2]
		return []string{ackFrame(req.Body.Input.TrID, req.Body.Input.TrKey, protocol.MsgSubscribeSuccess, k[0], k[1])}
	})
	m := newTestManager(t, b)
	ctx := context.Background()

	first, ack, err := m.Subscribe(ctx, model.ChannelPersonalFill, "")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, fillKey1, ack.Key)
	assert.Equal(t, fillIV1, ack.IV)

	req := recv(t, b.requests)
	assert.Equal(t, model.TrVirtualPersonalFill, req.Body.Input.TrID)
	assert.Equal(t, "hts01", req.Body.Input.TrKey)
	assert.Equal(t, "/tryitout/H0STCNI9", b.path(0))

	b.push(t, fillFrame(t, fillKey1, fillIV1))
	fill, ok := nextMessage(t, first).(*model.PersonalFill)
	require.True(t, ok)
	assert.Equal(t, "005930", fill.Code)
	assert.Equal(t, int64(71000), fill.ExecPrice)

	// Re-subscribing replaces the loop and its key material.
	second, ack, err := m.Subscribe(ctx, model.ChannelPersonalFill, "")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, fillKey2, ack.Key)
	assert.Equal(t, 2, b.connCount())

	_, err = nextEvent(t, first)
	assert.ErrorIs(t, err, ErrStreamClosed)

	b.push(t, fillFrame(t, fillKey1, fillIV1))
	ev, err := nextEvent(t, second)
	require.NoError(t, err)
	var cryptoErr *decrypt.CryptoError
	require.ErrorAs(t, ev.Err, &cryptoErr)
	var fpe *parser.FrameParseError
	assert.False(t, errors.As(ev.Err, &fpe))

	b.push(t, fillFrame(t, fillKey2, fillIV2))
	assert.Equal(t, "005930", nextMessage(t, second).(*model.PersonalFill).Code)

	st := channelStats(m, model.ChannelPersonalFill)
	assert.Equal(t, int64(1), st.CryptoErrors)
	assert.Equal(t, int64(2), st.Loops)
}

func TestManager_PersonalFillWithoutKey(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)

	stream, _, err := m.Subscribe(context.Background(), model.ChannelPersonalFill, "hts01")
	require.NoError(t, err)

	b.push(t, fillFrame(t, fillKey1, fillIV1))
	_, err = stream.Next()
	assert.ErrorIs(t, err, parser.ErrNoCipher)
}

func TestManager_Unsubscribe(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	stream, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	recv(t, b.requests)

	ack, err := m.Unsubscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.Equal(t, protocol.MsgUnsubscribeSuccess, ack.Message)
	assert.Equal(t, protocol.TrUnregister, recv(t, b.requests).Header.TrType)

	st := channelStats(m, model.ChannelTradeTick)
	assert.Equal(t, StateRunning, st.State)
	assert.Empty(t, st.Targets)

	// The loop stays up for the channel's next subscribe.
	b.push(t, tickFrame("005930", 71000))
	assert.Equal(t, "005930", nextMessage(t, stream).(*model.TradeTick).Code)
}

func TestManager_UnsubscribePersonalFillStopsLoop(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	stream, _, err := m.Subscribe(ctx, model.ChannelPersonalFill, "")
	require.NoError(t, err)

	_, err = m.Unsubscribe(ctx, model.ChannelPersonalFill, "")
	require.NoError(t, err)

	_, err = nextEvent(t, stream)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, StateStopped, channelStats(m, model.ChannelPersonalFill).State)
}

func TestManager_UnsubscribeIdle(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)

	_, err := m.Unsubscribe(context.Background(), model.ChannelOrderBook, "005930")
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestManager_SubscribeTrID(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	_, _, err := m.SubscribeTrID(ctx, model.TrDailyPrice, "005930")
	assert.ErrorIs(t, err, protocol.ErrProtocolMismatch)

	// Real-system fill code against the virtual system.
	_, _, err = m.SubscribeTrID(ctx, model.TrRealPersonalFill, "hts01")
	assert.ErrorIs(t, err, protocol.ErrProtocolMismatch)

	stream, _, err := m.SubscribeTrID(ctx, model.TrTradeTick, "005930")
	require.NoError(t, err)
	assert.NotNil(t, stream)
}

func TestManager_Close(t *testing.T) {
	b := newFakeBroker(t, acceptAll)
	m := newTestManager(t, b)
	ctx := context.Background()

	stream, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)

	b.push(t, tickFrame("005930", 71000))
	require.Eventually(t, func() bool { return stream.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// Queued events survive Close.
	assert.Equal(t, "005930", nextMessage(t, stream).(*model.TradeTick).Code)
	_, err = nextEvent(t, stream)
	assert.ErrorIs(t, err, ErrStreamClosed)

	_, _, err = m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.Equal(t, 0, m.Stats().Running)
}

func TestManager_CloseInterruptsPendingAck(t *testing.T) {
	b := newFakeBroker(t, func(req protocol.Request) []string {
		if req.Body.Input.TrKey == "000660" {
			return nil
		}
		return acceptAll(req)
	})
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.AckTimeout = 0
	})
	ctx := context.Background()

	_, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
	require.NoError(t, err)
	recv(t, b.requests)

	errs := make(chan error, 1)
	go func() {
		_, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "000660")
		errs <- err
	}()
	assert.Equal(t, "000660", recv(t, b.requests).Body.Input.TrKey)

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	require.NoError(t, recv(t, closed))
	assert.ErrorIs(t, recv(t, errs), ErrManagerClosed)
	assert.Equal(t, 0, m.Stats().Running)
}

func TestManager_CloseInterruptsHandshake(t *testing.T) {
	b := newFakeBroker(t, func(protocol.Request) []string { return nil })
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.AckTimeout = 0
	})

	errs := make(chan error, 1)
	go func() {
		_, _, err := m.Subscribe(context.Background(), model.ChannelOrderBook, "005930")
		errs <- err
	}()
	recv(t, b.requests)

	closed := make(chan error, 1)
	go func() { closed <- m.Close() }()
	require.NoError(t, recv(t, closed))
	assert.ErrorIs(t, recv(t, errs), ErrManagerClosed)
	assert.Nil(t, m.Stream(model.ChannelOrderBook))
}

func TestManager_SharedSubscribeOutlivesCancelledCaller(t *testing.T) {
	release := make(chan struct{})
	b := newFakeBroker(t, func(req protocol.Request) []string {
		<-release
		return acceptAll(req)
	})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})
	m := newTestManager(t, b)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := m.Subscribe(firstCtx, model.ChannelTradeTick, "005930")
		firstErr <- err
	}()
	recv(t, b.requests)

	type result struct {
		stream *Stream
		ack    protocol.Ack
		err    error
	}
	second := make(chan result, 1)
	go func() {
		s, ack, err := m.Subscribe(context.Background(), model.ChannelTradeTick, "005930")
		second <- result{s, ack, err}
	}()
	// Let the second caller join the request in flight.
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, recv(t, firstErr), context.Canceled)
	close(release)

	r := recv(t, second)
	require.NoError(t, r.err)
	assert.True(t, r.ack.Success)
	require.NotNil(t, r.stream, "remaining caller owns the stream")
	assert.Equal(t, 1, b.connCount())
	assert.Equal(t, StateRunning, channelStats(m, model.ChannelTradeTick).State)
}

func TestManager_SharedSubscribeCancelledByAllCallers(t *testing.T) {
	b := newFakeBroker(t, func(protocol.Request) []string { return nil })
	m := newTestManager(t, b, func(cfg *ManagerConfig) {
		cfg.AckTimeout = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _, err := m.Subscribe(ctx, model.ChannelTradeTick, "005930")
			errs <- err
		}()
	}
	recv(t, b.requests)
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, recv(t, errs), context.Canceled)
	assert.ErrorIs(t, recv(t, errs), context.Canceled)

	assert.Equal(t, 1, b.connCount())
	assert.Equal(t, 0, m.Stats().Running)
}
