package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/quantfold/driftcore/internal/solrpc"
)

const (
	websocketHandshakeTimeout = 10 * time.Second
	websocketWriteTimeout     = 10 * time.Second
	websocketReadLimitBytes   = 64 * 1024 * 1024
	maxReconnectBackoff       = 60 * time.Second
	doneDeliveryGrace         = time.Second
)

// ChannelEvent is one delivery from the stream: an account observation, or
// Done on clean shutdown.
type ChannelEvent struct {
	Account *solrpc.Account
	Done    bool
}

// SubscriberConfig selects what the stream delivers.
type SubscriberConfig struct {
	// URL is the node's pubsub websocket endpoint.
	URL string
	// XToken, when set, is sent as the x-token header on dial.
	XToken string
	// ProgramID subscribes to every account the program owns.
	ProgramID solana.PublicKey
	// Accounts subscribes to explicit keys (users, oracles).
	Accounts []solana.PublicKey
	// Commitment for update delivery.
	Commitment rpc.CommitmentType
	// SubscribeSlots also delivers slot ticks via OnSlot.
	SubscribeSlots bool
}

// Subscriber holds one long-lived stream open, reconnecting with capped
// jittered backoff. Updates for one key arrive in slot order; when the
// consumer lags, older undelivered updates for a key are conflated away in
// favor of the newest.
type Subscriber struct {
	cfg    SubscriberConfig
	logger *slog.Logger

	out    chan ChannelEvent
	notify chan struct{}

	mu      sync.Mutex
	pending map[solana.PublicKey]*solrpc.Account
	order   []solana.PublicKey

	// subMu covers the tracked key set and the per-connection session
	// state (live conn, request ids, sub-id mappings).
	subMu   sync.Mutex
	tracked map[solana.PublicKey]bool
	conn    *websocket.Conn
	nextID  uint64
	subs    map[uint64]subscriptionKind
	acks    map[uint64]subscriptionKind

	// OnSlot, when set, observes slot ticks from the slot subscription.
	OnSlot func(slot uint64)
}

func NewSubscriber(cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	tracked := make(map[solana.PublicKey]bool, len(cfg.Accounts))
	for _, key := range cfg.Accounts {
		if !key.IsZero() {
			tracked[key] = true
		}
	}
	return &Subscriber{
		cfg:     cfg,
		logger:  logger,
		out:     make(chan ChannelEvent),
		notify:  make(chan struct{}, 1),
		pending: make(map[solana.PublicKey]*solrpc.Account),
		tracked: tracked,
	}
}

// AddAccounts expands the tracked key set, typically with oracle keys that
// only become known once market records are decoded. Program subscriptions
// deliver accounts the program owns, so externally owned keys need their own
// account subscription. New keys are subscribed on the live connection right
// away and again on every reconnect; the tracked set survives a failed write.
func (s *Subscriber) AddAccounts(keys ...solana.PublicKey) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, key := range keys {
		if key.IsZero() || s.tracked[key] {
			continue
		}
		s.tracked[key] = true
		if s.conn == nil {
			continue
		}
		err := s.sendSubscribeLocked("accountSubscribe",
			[]any{key.String(), s.accountOpts()},
			subscriptionKind{account: key})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", key, err)
		}
	}
	return nil
}

// TrackedAccounts snapshots the keys carrying explicit account subscriptions.
func (s *Subscriber) TrackedAccounts() []solana.PublicKey {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]solana.PublicKey, 0, len(s.tracked))
	for key := range s.tracked {
		out = append(out, key)
	}
	return out
}

// Events is the delivery channel. It is closed after the Done event.
func (s *Subscriber) Events() <-chan ChannelEvent {
	return s.out
}

// Run drives the connect/read/reconnect loop until ctx is cancelled, then
// emits Done and closes the event channel.
func (s *Subscriber) Run(ctx context.Context) {
	go s.dispatch(ctx)

	boff := &backoff.Backoff{
		Min:    time.Second,
		Max:    maxReconnectBackoff,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			break
		}

		err := s.consume(ctx, boff.Reset)
		if err != nil && !errors.Is(err, context.Canceled) {
			delay := boff.Duration()
			s.logger.Warn("account stream disconnected", "err", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}
}

// consume dials, subscribes, and reads until the connection breaks or ctx
// is cancelled. connected is called once the subscriptions are live.
func (s *Subscriber) consume(ctx context.Context, connected func()) error {
	header := http.Header{}
	if s.cfg.XToken != "" {
		header.Set("x-token", s.cfg.XToken)
	}

	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  websocketHandshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	stop := closeConnOnContextDone(ctx, conn)
	defer stop()
	defer conn.Close()

	count, err := s.openSession(conn)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer s.closeSession()
	s.logger.Info("account stream connected",
		"url", s.cfg.URL, "subscriptions", count)
	connected()

	for {
		var frame pubsubFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := s.handleFrame(&frame); err != nil {
			s.logger.Warn("dropping unreadable stream frame", "err", err)
		}
	}
}

// openSession binds conn as the live connection and issues the program,
// account, and slot subscriptions. Acks resolve in the read loop so that
// subscriptions added later through AddAccounts share the same path.
func (s *Subscriber) openSession(conn *websocket.Conn) (int, error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.conn = conn
	s.nextID = 1
	s.subs = make(map[uint64]subscriptionKind)
	s.acks = make(map[uint64]subscriptionKind)

	opts := s.accountOpts()
	count := 0
	if !s.cfg.ProgramID.IsZero() {
		err := s.sendSubscribeLocked("programSubscribe",
			[]any{s.cfg.ProgramID.String(), opts},
			subscriptionKind{program: true})
		if err != nil {
			return 0, err
		}
		count++
	}
	for key := range s.tracked {
		err := s.sendSubscribeLocked("accountSubscribe",
			[]any{key.String(), opts},
			subscriptionKind{account: key})
		if err != nil {
			return 0, err
		}
		count++
	}
	if s.cfg.SubscribeSlots {
		if err := s.sendSubscribeLocked("slotSubscribe", []any{}, subscriptionKind{slot: true}); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

func (s *Subscriber) closeSession() {
	s.subMu.Lock()
	s.conn = nil
	s.subMu.Unlock()
}

func (s *Subscriber) accountOpts() map[string]any {
	commitment := s.cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return map[string]any{
		"encoding":   "base64",
		"commitment": string(commitment),
	}
}

func (s *Subscriber) sendSubscribeLocked(method string, params []any, kind subscriptionKind) error {
	message := map[string]any{
		"jsonrpc": "2.0",
		"id":      s.nextID,
		"method":  method,
		"params":  params,
	}
	if err := writeWebsocketJSON(s.conn, message); err != nil {
		return err
	}
	s.acks[s.nextID] = kind
	s.nextID++
	return nil
}

// resolveAck maps a subscription request's answer onto its subscription id.
func (s *Subscriber) resolveAck(frame *pubsubFrame) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	kind, ok := s.acks[frame.ID]
	if !ok {
		return nil
	}
	var subID uint64
	if err := json.Unmarshal(frame.Result, &subID); err != nil {
		return fmt.Errorf("decode subscription ack %d: %w", frame.ID, err)
	}
	delete(s.acks, frame.ID)
	s.subs[subID] = kind
	return nil
}

type subscriptionKind struct {
	program bool
	slot    bool
	account solana.PublicKey
}

type pubsubFrame struct {
	ID     uint64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Params struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type accountNotification struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value json.RawMessage `json:"value"`
}

type programNotificationValue struct {
	Pubkey  string          `json:"pubkey"`
	Account json.RawMessage `json:"account"`
}

type wireAccount struct {
	Lamports   uint64    `json:"lamports"`
	Owner      string    `json:"owner"`
	Data       [2]string `json:"data"`
	Executable bool      `json:"executable"`
	RentEpoch  uint64    `json:"rentEpoch"`
}

func (s *Subscriber) handleFrame(frame *pubsubFrame) error {
	if frame.ID != 0 {
		return s.resolveAck(frame)
	}
	if frame.Method == "" {
		return nil
	}
	s.subMu.Lock()
	kind, ok := s.subs[frame.Params.Subscription]
	s.subMu.Unlock()
	if !ok {
		return nil
	}

	switch {
	case kind.slot:
		var slotInfo struct {
			Slot uint64 `json:"slot"`
		}
		if err := json.Unmarshal(frame.Params.Result, &slotInfo); err != nil {
			return fmt.Errorf("decode slot notification: %w", err)
		}
		if s.OnSlot != nil {
			s.OnSlot(slotInfo.Slot)
		}
		return nil

	case kind.program:
		var notification accountNotification
		if err := json.Unmarshal(frame.Params.Result, &notification); err != nil {
			return fmt.Errorf("decode program notification: %w", err)
		}
		var value programNotificationValue
		if err := json.Unmarshal(notification.Value, &value); err != nil {
			return fmt.Errorf("decode program notification value: %w", err)
		}
		key, err := solana.PublicKeyFromBase58(value.Pubkey)
		if err != nil {
			return fmt.Errorf("decode account key %q: %w", value.Pubkey, err)
		}
		account, err := decodeWireAccount(key, value.Account, notification.Context.Slot)
		if err != nil {
			return err
		}
		s.enqueue(account)
		return nil

	default:
		var notification accountNotification
		if err := json.Unmarshal(frame.Params.Result, &notification); err != nil {
			return fmt.Errorf("decode account notification: %w", err)
		}
		account, err := decodeWireAccount(kind.account, notification.Value, notification.Context.Slot)
		if err != nil {
			return err
		}
		s.enqueue(account)
		return nil
	}
}

func decodeWireAccount(key solana.PublicKey, raw json.RawMessage, slot uint64) (*solrpc.Account, error) {
	var wire wireAccount
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode account body for %s: %w", key, err)
	}
	owner, err := solana.PublicKeyFromBase58(wire.Owner)
	if err != nil {
		return nil, fmt.Errorf("decode owner %q: %w", wire.Owner, err)
	}
	data, err := base64.StdEncoding.DecodeString(wire.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode account data for %s: %w", key, err)
	}
	return &solrpc.Account{
		Key:        key,
		Owner:      owner,
		Lamports:   wire.Lamports,
		Executable: wire.Executable,
		RentEpoch:  wire.RentEpoch,
		Data:       data,
		Slot:       slot,
	}, nil
}

// enqueue stages an update for delivery, replacing any older undelivered
// update for the same key.
func (s *Subscriber) enqueue(account *solrpc.Account) {
	s.mu.Lock()
	if prior, ok := s.pending[account.Key]; ok {
		if account.Slot >= prior.Slot {
			s.pending[account.Key] = account
		}
	} else {
		s.pending[account.Key] = account
		s.order = append(s.order, account.Key)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) dequeue() *solrpc.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	key := s.order[0]
	s.order = s.order[1:]
	account := s.pending[key]
	delete(s.pending, key)
	return account
}

// dispatch drains staged updates to the consumer, then emits Done on cancel.
func (s *Subscriber) dispatch(ctx context.Context) {
	defer func() {
		// the consumer may already be gone on shutdown; give the Done
		// event a bounded window rather than parking this goroutine
		timer := time.NewTimer(doneDeliveryGrace)
		defer timer.Stop()
		select {
		case s.out <- ChannelEvent{Done: true}:
		case <-timer.C:
		}
		close(s.out)
	}()

	for {
		account := s.dequeue()
		if account == nil {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case s.out <- ChannelEvent{Account: account}:
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}
