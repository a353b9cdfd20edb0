package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/kis-stream/internal/auth"
	"github.com/rickgao/kis-stream/internal/decrypt"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/parser"
	"github.com/rickgao/kis-stream/internal/protocol"
	"github.com/rickgao/kis-stream/internal/router"
)

// Manager owns the channel connections and their receive loops.
type Manager interface {
	// Subscribe registers target on ch. The returned stream is non-nil only
	// when a new receive loop was started; a nil stream with a nil error
	// means the channel's existing stream keeps carrying the new target.
	// For personal fills an empty target means the credentials' HTS id.
	//
	// Identical concurrent calls share one request, which runs until every
	// caller's ctx is done. The first caller to collect the result gets
	// the stream.
	Subscribe(ctx context.Context, ch model.Channel, target string) (*Stream, protocol.Ack, error)

	// SubscribeTrID is Subscribe keyed by transaction code. Codes that are
	// not a streaming channel of the configured environment are rejected
	// with protocol.ErrProtocolMismatch.
	SubscribeTrID(ctx context.Context, trID model.TrID, target string) (*Stream, protocol.Ack, error)

	// Unsubscribe unregisters target. The receive loop keeps running,
	// except on the personal-fill channel where it is stopped so the key
	// material is discarded.
	Unsubscribe(ctx context.Context, ch model.Channel, target string) (protocol.Ack, error)

	// Stream returns the channel's current stream, or nil.
	Stream(ch model.Channel) *Stream

	// Stats returns per-channel statistics.
	Stats() ManagerStats

	// Close stops every loop, closes every connection and closes the
	// streams. Queued events can still be drained.
	Close() error
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Running  int
	Channels []ChannelStats
}

// ChannelStats describes one channel.
type ChannelStats struct {
	Channel      model.Channel
	TrID         model.TrID
	State        State
	Targets      []string
	Loops        int64 // receive loops started
	Frames       int64
	Messages     int64
	KeepAlives   int64
	ParseErrors  int64
	CryptoErrors int64
	Queue        router.BufferStats
}

// run is one receive loop and the connection it owns.
type run struct {
	client   Client
	stream   *Stream
	cipher   *decrypt.Cipher // personal fills only; immutable for the run
	pending  [][]byte        // data frames read before the ack
	done     chan struct{}
	stopping atomic.Bool
}

// ackWaiter receives the acknowledgement for a request sent while the
// channel's loop owns the socket.
type ackWaiter struct {
	trKey string
	ch    chan *protocol.ControlFrame
}

// chanState holds the state for a single channel.
type chanState struct {
	channel model.Channel
	trID    model.TrID
	logger  *slog.Logger

	// Serializes subscribe and unsubscribe on this channel
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	run     *run
	targets map[string]struct{}
	dialing Client // handshake in progress
	closing bool

	waitMu sync.Mutex
	waiter *ackWaiter

	loops        atomic.Int64
	frames       atomic.Int64
	messages     atomic.Int64
	keepAlives   atomic.Int64
	parseErrors  atomic.Int64
	cryptoErrors atomic.Int64
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	creds  auth.Credentials
	logger *slog.Logger
	parser *parser.Parser

	group    singleflight.Group
	flightMu sync.Mutex
	flights  map[string]*flight
	channels map[model.Channel]*chanState
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type subscribeResult struct {
	stream  *Stream
	ack     protocol.Ack
	claimed *atomic.Bool
}

// flight is the context shared by identical concurrent subscribes. It is
// cancelled once every caller's context is done.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	members int
	live    int
}

// NewManager creates a new dispatch manager. No connection is opened until
// the first Subscribe.
func NewManager(cfg ManagerConfig, creds auth.Credentials, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Environment == "" {
		cfg.Environment = model.EnvVirtual
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultManagerConfig().QueueSize
	}

	m := &manager{
		cfg:      cfg,
		creds:    creds,
		logger:   logger,
		parser:   &parser.Parser{Now: cfg.Now},
		flights:  make(map[string]*flight),
		channels: make(map[model.Channel]*chanState, len(model.Channels)),
	}
	for _, ch := range model.Channels {
		trID := ch.TrID(cfg.Environment)
		m.channels[ch] = &chanState{
			channel: ch,
			trID:    trID,
			logger:  logger.With("channel", ch.String(), "tr_id", trID),
			targets: make(map[string]struct{}),
		}
	}
	return m
}

// Subscribe registers target on ch.
func (m *manager) Subscribe(ctx context.Context, ch model.Channel, target string) (*Stream, protocol.Ack, error) {
	cs, ok := m.channels[ch]
	if !ok {
		return nil, protocol.Ack{}, fmt.Errorf("%w: unknown channel %s", protocol.ErrProtocolMismatch, ch)
	}
	if ch == model.ChannelPersonalFill && target == "" {
		target = m.creds.HTSID()
	}

	// Identical concurrent calls share one request. The first caller to
	// collect the result owns a new stream.
	key := ch.String() + "/" + target
	f, release := m.join(ctx, key)
	defer release()

	results := m.group.DoChan(key, func() (any, error) {
		stream, ack, err := m.subscribe(f.ctx, cs, target)
		return subscribeResult{stream: stream, ack: ack, claimed: new(atomic.Bool)}, err
	})
	select {
	case r := <-results:
		return collect(r)
	case <-ctx.Done():
		select {
		case r := <-results:
			return collect(r)
		default:
		}
		return nil, protocol.Ack{}, ctx.Err()
	}
}

func collect(r singleflight.Result) (*Stream, protocol.Ack, error) {
	res, _ := r.Val.(subscribeResult)
	if res.stream != nil && !res.claimed.CompareAndSwap(false, true) {
		res.stream = nil
	}
	return res.stream, res.ack, r.Err
}

// join adds a caller to the flight for key. The returned func must be
// called once the caller has its result.
func (m *manager) join(ctx context.Context, key string) (*flight, func()) {
	m.flightMu.Lock()
	f, ok := m.flights[key]
	if !ok {
		fctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		m.flights[key] = f
	}
	f.members++
	f.live++
	m.flightMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		m.flightMu.Lock()
		defer m.flightMu.Unlock()
		f.live--
		if f.live == 0 {
			f.cancel(context.Cause(ctx))
		}
	})
	return f, func() {
		m.flightMu.Lock()
		defer m.flightMu.Unlock()
		if stop() {
			f.live--
		}
		f.members--
		if f.members == 0 {
			delete(m.flights, key)
			f.cancel(nil)
		}
	}
}

// SubscribeTrID subscribes by transaction code.
func (m *manager) SubscribeTrID(ctx context.Context, trID model.TrID, target string) (*Stream, protocol.Ack, error) {
	ch, ok := trID.Channel()
	if !ok || ch.TrID(m.cfg.Environment) != trID {
		return nil, protocol.Ack{}, fmt.Errorf("%w: %s is not a %s streaming code", protocol.ErrProtocolMismatch, trID, m.cfg.Environment)
	}
	return m.Subscribe(ctx, ch, target)
}

func (m *manager) subscribe(ctx context.Context, cs *chanState, target string) (*Stream, protocol.Ack, error) {
	cs.opMu.Lock()
	defer cs.opMu.Unlock()

	if m.isClosed() {
		return nil, protocol.Ack{}, ErrManagerClosed
	}

	payload, err := m.envelope(cs, protocol.TrRegister, target)
	if err != nil {
		return nil, protocol.Ack{}, err
	}

	if cs.channel == model.ChannelPersonalFill {
		// New key material invalidates whatever the old loop would decrypt.
		if cs.stop() {
			cs.logger.Info("stopped receive loop for re-subscribe")
		}
	} else if r := cs.running(); r != nil {
		ack, err := m.awaitAck(ctx, cs, r, payload, protocol.TrRegister, target)
		if err != nil {
			return nil, ack, err
		}
		if !ack.Success {
			return nil, ack, rejected(cs, target, ack)
		}
		cs.addTarget(target)
		cs.logger.Info("subscribed on running loop", "tr_key", target)
		return nil, ack, nil
	}

	return m.start(ctx, cs, payload, target)
}

// start dials a fresh connection, runs the handshake on the caller's
// goroutine and hands the socket to a new receive loop.
func (m *manager) start(ctx context.Context, cs *chanState, payload []byte, target string) (*Stream, protocol.Ack, error) {
	clientCfg := m.cfg.Client
	clientCfg.URL = m.cfg.Endpoint(cs.trID)

	client := NewClient(clientCfg, cs.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, protocol.Ack{}, &ConnectionError{Channel: cs.channel, Op: "dial", Err: err}
	}
	if !cs.setDialing(client) {
		client.Close()
		return nil, protocol.Ack{}, ErrManagerClosed
	}
	defer cs.clearDialing(client)

	ack, pending, err := m.handshake(ctx, cs, client, payload, protocol.TrRegister)
	if err != nil {
		client.Close()
		if m.isClosed() {
			return nil, ack, ErrManagerClosed
		}
		return nil, ack, err
	}
	if !ack.Success {
		client.Close()
		return nil, ack, rejected(cs, target, ack)
	}

	var c *decrypt.Cipher
	if cs.channel == model.ChannelPersonalFill {
		if ack.HasCipher() {
			c, err = decrypt.New(ack.Key, ack.IV)
			if err != nil {
				client.Close()
				return nil, ack, err
			}
		} else {
			cs.logger.Warn("ack carried no key material, encrypted frames will fail")
		}
	}

	r := &run{
		client:  client,
		stream:  newStream(cs.channel, m.cfg.QueueSize),
		cipher:  c,
		pending: pending,
		done:    make(chan struct{}),
	}
	if !cs.begin(r, target) {
		client.Close()
		return nil, ack, ErrManagerClosed
	}

	m.wg.Add(1)
	go m.receiveLoop(cs, r)

	cs.logger.Info("subscribed", "tr_key", target, "pending_frames", len(pending))
	return r.stream, ack, nil
}

// handshake sends the request and reads until the acknowledgement,
// echoing keep-alives. Data frames that arrive first are returned so the
// loop can deliver them ahead of everything else.
func (m *manager) handshake(ctx context.Context, cs *chanState, client Client, payload []byte, trType protocol.TrType) (protocol.Ack, [][]byte, error) {
	if m.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, m.cfg.AckTimeout, ErrTimeout)
		defer cancel()
	}
	// Receive has no deadline; closing the socket is how a blocked read
	// observes cancellation.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if err := client.Send(payload); err != nil {
		return protocol.Ack{}, nil, &ConnectionError{Channel: cs.channel, Op: "send", Err: err}
	}

	var pending [][]byte
	for {
		raw, err := client.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.Ack{}, nil, fmt.Errorf("await %s ack: %w", cs.trID, context.Cause(ctx))
			}
			return protocol.Ack{}, nil, &ConnectionError{Channel: cs.channel, Op: "receive", Err: err}
		}

		frame, err := protocol.Classify(raw)
		if err != nil {
			pending = append(pending, raw)
			continue
		}

		switch f := frame.(type) {
		case *protocol.ControlFrame:
			switch {
			case f.IsKeepAlive():
				cs.keepAlives.Add(1)
				if err := client.Send(raw); err != nil {
					return protocol.Ack{}, nil, &ConnectionError{Channel: cs.channel, Op: "send", Err: err}
				}
			case f.IsAck():
				if !stop() {
					return protocol.Ack{}, nil, fmt.Errorf("await %s ack: %w", cs.trID, context.Cause(ctx))
				}
				ack := protocol.AckFor(f, trType)
				cs.logger.Debug("ack received", "ack", ack.String())
				return ack, pending, nil
			default:
				cs.logger.Debug("ignoring control frame during handshake", "frame_tr_id", f.TrID)
			}
		case *protocol.DataFrame:
			pending = append(pending, raw)
		}
	}
}

// awaitAck sends a request on a running loop's socket and waits for the
// loop to hand over the acknowledgement.
func (m *manager) awaitAck(ctx context.Context, cs *chanState, r *run, payload []byte, trType protocol.TrType, target string) (protocol.Ack, error) {
	w := &ackWaiter{trKey: target, ch: make(chan *protocol.ControlFrame, 1)}
	cs.setWaiter(w)
	defer cs.clearWaiter(w)

	if err := r.client.Send(payload); err != nil {
		return protocol.Ack{}, &ConnectionError{Channel: cs.channel, Op: "send", Err: err}
	}

	var timeout <-chan time.Time
	if m.cfg.AckTimeout > 0 {
		timer := time.NewTimer(m.cfg.AckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case f := <-w.ch:
		ack := protocol.AckFor(f, trType)
		cs.logger.Debug("ack received", "ack", ack.String())
		return ack, nil
	case <-r.done:
		if m.isClosed() {
			return protocol.Ack{}, ErrManagerClosed
		}
		return protocol.Ack{}, &ConnectionError{Channel: cs.channel, Op: "receive", Err: ErrLoopStopped}
	case <-ctx.Done():
		return protocol.Ack{}, context.Cause(ctx)
	case <-timeout:
		return protocol.Ack{}, fmt.Errorf("await %s ack: %w", cs.trID, ErrTimeout)
	}
}

// Unsubscribe unregisters target on a running channel.
func (m *manager) Unsubscribe(ctx context.Context, ch model.Channel, target string) (protocol.Ack, error) {
	cs, ok := m.channels[ch]
	if !ok {
		return protocol.Ack{}, fmt.Errorf("%w: unknown channel %s", protocol.ErrProtocolMismatch, ch)
	}
	if ch == model.ChannelPersonalFill && target == "" {
		target = m.creds.HTSID()
	}

	cs.opMu.Lock()
	defer cs.opMu.Unlock()

	r := cs.running()
	if r == nil {
		return protocol.Ack{}, fmt.Errorf("%s: %w", ch, ErrNotSubscribed)
	}

	payload, err := m.envelope(cs, protocol.TrUnregister, target)
	if err != nil {
		return protocol.Ack{}, err
	}

	ack, err := m.awaitAck(ctx, cs, r, payload, protocol.TrUnregister, target)
	if err != nil {
		return ack, err
	}
	if !ack.Success {
		return ack, rejected(cs, target, ack)
	}

	cs.removeTarget(target)
	cs.logger.Info("unsubscribed", "tr_key", target)

	if ch == model.ChannelPersonalFill {
		cs.stop()
	}
	return ack, nil
}

// Stream returns the channel's current stream.
func (m *manager) Stream(ch model.Channel) *Stream {
	cs, ok := m.channels[ch]
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.run == nil {
		return nil
	}
	return cs.run.stream
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	var stats ManagerStats
	for _, ch := range model.Channels {
		cs := m.channels[ch]

		cs.mu.Lock()
		st := ChannelStats{
			Channel: cs.channel,
			TrID:    cs.trID,
			State:   cs.state,
			Targets: make([]string, 0, len(cs.targets)),
		}
		for t := range cs.targets {
			st.Targets = append(st.Targets, t)
		}
		if cs.run != nil {
			st.Queue = cs.run.stream.Stats()
		}
		cs.mu.Unlock()

		sort.Strings(st.Targets)
		st.Loops = cs.loops.Load()
		st.Frames = cs.frames.Load()
		st.Messages = cs.messages.Load()
		st.KeepAlives = cs.keepAlives.Load()
		st.ParseErrors = cs.parseErrors.Load()
		st.CryptoErrors = cs.cryptoErrors.Load()

		if st.State == StateRunning {
			stats.Running++
		}
		stats.Channels = append(stats.Channels, st)
	}
	return stats
}

// Close gracefully shuts down.
func (m *manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("stopping connection manager")

	// Closing the sockets first wakes any request still waiting for an
	// ack, so it releases opMu.
	for _, ch := range model.Channels {
		m.channels[ch].abort()
	}
	for _, ch := range model.Channels {
		cs := m.channels[ch]
		cs.opMu.Lock()
		cs.stop()
		cs.opMu.Unlock()
	}
	m.wg.Wait()

	m.logger.Info("connection manager stopped")
	return nil
}

func (m *manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *manager) envelope(cs *chanState, trType protocol.TrType, target string) ([]byte, error) {
	id := protocol.Identity{
		AppKey:      m.creds.AppKey(),
		AppSecret:   m.creds.AppSecret(),
		ApprovalKey: m.creds.ApprovalKey(),
		CustType:    m.creds.CustomerType(),
	}
	req, err := protocol.NewRequest(id, trType, cs.trID, target)
	if err != nil {
		return nil, err
	}
	return req.Marshal()
}

// receiveLoop reads frames until the connection fails or the loop is
// stopped.
func (m *manager) receiveLoop(cs *chanState, r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer r.stream.close()
	defer cs.finish(r)

	cs.logger.Debug("receive loop started")

	for _, raw := range r.pending {
		m.handleFrame(cs, r, raw, time.Now())
	}
	r.pending = nil

	for {
		raw, err := r.client.Receive()
		receivedAt := time.Now()

		if err != nil {
			if r.stopping.Load() {
				cs.logger.Debug("receive loop stopped")
				return
			}
			cs.logger.Warn("connection lost, receive loop ending", "error", err)
			r.stream.push(Event{
				Err:        &ConnectionError{Channel: cs.channel, Op: "receive", Err: err},
				ReceivedAt: receivedAt,
			})
			return
		}

		m.handleFrame(cs, r, raw, receivedAt)
	}
}

// handleFrame classifies one frame. Keep-alives are echoed, acks are handed
// to a waiting request, and data frames are decoded onto the stream.
func (m *manager) handleFrame(cs *chanState, r *run, raw []byte, receivedAt time.Time) {
	cs.frames.Add(1)

	frame, err := protocol.Classify(raw)
	if err != nil {
		cs.parseErrors.Add(1)
		cs.logger.Warn("unreadable frame", "error", err)
		r.stream.push(Event{
			Err:        &parser.FrameParseError{TrID: cs.trID, Index: -1, Value: string(raw), Err: err},
			ReceivedAt: receivedAt,
		})
		return
	}

	switch f := frame.(type) {
	case *protocol.ControlFrame:
		switch {
		case f.IsKeepAlive():
			cs.keepAlives.Add(1)
			if err := r.client.Send(raw); err != nil {
				cs.logger.Warn("keep-alive echo failed", "error", err)
			}
		case f.IsAck():
			if !cs.deliverAck(f) {
				cs.logger.Debug("unsolicited ack", "tr_key", f.TrKey, "msg", f.Message)
			}
		default:
			cs.logger.Debug("ignoring control frame", "frame_tr_id", f.TrID)
		}

	case *protocol.DataFrame:
		msgs, err := m.parser.Decode(f, cs.channel, r.cipher)
		if err != nil {
			var ce *decrypt.CryptoError
			if errors.As(err, &ce) {
				cs.cryptoErrors.Add(1)
			} else {
				cs.parseErrors.Add(1)
			}
			cs.logger.Warn("frame dropped", "error", err)
			r.stream.push(Event{Err: err, ReceivedAt: receivedAt})
			return
		}
		cs.messages.Add(int64(len(msgs)))
		for _, msg := range msgs {
			r.stream.push(Event{Message: msg, ReceivedAt: receivedAt})
		}
	}
}

func rejected(cs *chanState, target string, ack protocol.Ack) error {
	cs.logger.Warn("subscription rejected", "tr_key", target, "msg", ack.Message)
	return &SubscriptionRejectedError{TrID: cs.trID, TrKey: target, Message: ack.Message}
}

// -----------------------------------------------------------------------------
// chanState transitions
// -----------------------------------------------------------------------------

// running returns the live run, or nil when the channel is idle or stopped.
func (cs *chanState) running() *run {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != StateRunning {
		return nil
	}
	return cs.run
}

// begin installs r as the channel's loop. It reports false once the
// channel is closing.
func (cs *chanState) begin(r *run, target string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closing {
		return false
	}
	cs.run = r
	cs.state = StateRunning
	cs.targets = map[string]struct{}{target: {}}
	cs.loops.Add(1)
	return true
}

func (cs *chanState) setDialing(c Client) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closing {
		return false
	}
	cs.dialing = c
	return true
}

func (cs *chanState) clearDialing(c Client) {
	cs.mu.Lock()
	if cs.dialing == c {
		cs.dialing = nil
	}
	cs.mu.Unlock()
}

// abort marks the channel closing and closes its sockets without waiting
// for the loop.
func (cs *chanState) abort() {
	cs.mu.Lock()
	cs.closing = true
	r := cs.run
	dialing := cs.dialing
	cs.mu.Unlock()

	if r != nil {
		r.stopping.Store(true)
		r.client.Close()
	}
	if dialing != nil {
		dialing.Close()
	}
}

// finish runs on the loop goroutine as it exits.
func (cs *chanState) finish(r *run) {
	r.client.Close()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.run == r {
		cs.state = StateStopped
		cs.targets = make(map[string]struct{})
	}
}

// stop cancels the current loop and waits for it to exit. Reports whether
// a loop was running.
func (cs *chanState) stop() bool {
	cs.mu.Lock()
	r := cs.run
	wasRunning := cs.state == StateRunning
	cs.mu.Unlock()

	if r == nil {
		return false
	}
	r.stopping.Store(true)
	r.client.Close()
	<-r.done
	return wasRunning
}

func (cs *chanState) addTarget(target string) {
	cs.mu.Lock()
	cs.targets[target] = struct{}{}
	cs.mu.Unlock()
}

func (cs *chanState) removeTarget(target string) {
	cs.mu.Lock()
	delete(cs.targets, target)
	cs.mu.Unlock()
}

func (cs *chanState) setWaiter(w *ackWaiter) {
	cs.waitMu.Lock()
	cs.waiter = w
	cs.waitMu.Unlock()
}

func (cs *chanState) clearWaiter(w *ackWaiter) {
	cs.waitMu.Lock()
	if cs.waiter == w {
		cs.waiter = nil
	}
	cs.waitMu.Unlock()
}

// deliverAck hands f to the waiting request. Acks that name a different
// key belong to someone else and are left alone.
func (cs *chanState) deliverAck(f *protocol.ControlFrame) bool {
	cs.waitMu.Lock()
	defer cs.waitMu.Unlock()

	w := cs.waiter
	if w == nil {
		return false
	}
	if f.TrKey != "" && w.trKey != "" && f.TrKey != w.trKey {
		return false
	}
	cs.waiter = nil
	w.ch <- f
	return true
}
