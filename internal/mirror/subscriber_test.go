package mirror

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/quantfold/driftcore/internal/driftidl"
	"github.com/quantfold/driftcore/internal/solrpc"
)

func TestSubscriberConflatesPerKey(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())

	keyA := solana.NewWallet().PublicKey()
	keyB := solana.NewWallet().PublicKey()

	// no consumer yet: three updates for A land while the queue is idle
	sub.enqueue(&solrpc.Account{Key: keyA, Slot: 10})
	sub.enqueue(&solrpc.Account{Key: keyB, Slot: 11})
	sub.enqueue(&solrpc.Account{Key: keyA, Slot: 12})
	sub.enqueue(&solrpc.Account{Key: keyA, Slot: 13})

	first := sub.dequeue()
	if first == nil || first.Key != keyA || first.Slot != 13 {
		t.Fatalf("first = %+v, want newest update for A", first)
	}
	second := sub.dequeue()
	if second == nil || second.Key != keyB || second.Slot != 11 {
		t.Fatalf("second = %+v, want B", second)
	}
	if rest := sub.dequeue(); rest != nil {
		t.Fatalf("queue not drained: %+v", rest)
	}
}

func TestSubscriberConflationKeepsNewestOnly(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	key := solana.NewWallet().PublicKey()

	sub.enqueue(&solrpc.Account{Key: key, Slot: 20})
	// an out-of-order older frame must not clobber the staged newer one
	sub.enqueue(&solrpc.Account{Key: key, Slot: 19})

	got := sub.dequeue()
	if got == nil || got.Slot != 20 {
		t.Fatalf("got = %+v, want slot 20", got)
	}
}

func TestSubscriberEmitsDoneOnCancel(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	go sub.dispatch(ctx)
	cancel()

	select {
	case event := <-sub.Events():
		if !event.Done {
			t.Fatalf("event = %+v, want Done", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no Done event after cancel")
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("events channel not closed after Done")
	}
}

func TestSubscriberDeliversStagedUpdates(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sub.dispatch(ctx)

	key := solana.NewWallet().PublicKey()
	sub.enqueue(&solrpc.Account{Key: key, Slot: 7})

	select {
	case event := <-sub.Events():
		if event.Done || event.Account.Key != key || event.Account.Slot != 7 {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("staged update never delivered")
	}
}

func TestHandleFrameProgramNotification(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())

	key := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	payload := []byte{9, 9, 9}

	result, err := json.Marshal(map[string]any{
		"context": map[string]any{"slot": 4242},
		"value": map[string]any{
			"pubkey": key.String(),
			"account": map[string]any{
				"lamports":   1000,
				"owner":      owner.String(),
				"data":       []string{base64.StdEncoding.EncodeToString(payload), "base64"},
				"executable": false,
				"rentEpoch":  0,
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	frame := &pubsubFrame{Method: "programNotification"}
	frame.Params.Subscription = 1
	frame.Params.Result = result

	sub.subs = map[uint64]subscriptionKind{1: {program: true}}
	if err := sub.handleFrame(frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}

	got := sub.dequeue()
	if got == nil {
		t.Fatal("nothing staged")
	}
	if got.Key != key || got.Owner != owner || got.Slot != 4242 || got.Lamports != 1000 {
		t.Errorf("account = %+v", got)
	}
	if len(got.Data) != 3 || got.Data[0] != 9 {
		t.Errorf("data = %v", got.Data)
	}
}

func TestHandleFrameSlotNotification(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	var observed uint64
	sub.OnSlot = func(slot uint64) { observed = slot }

	result, _ := json.Marshal(map[string]any{"slot": 777, "parent": 776, "root": 700})
	frame := &pubsubFrame{Method: "slotNotification"}
	frame.Params.Subscription = 2
	frame.Params.Result = result

	sub.subs = map[uint64]subscriptionKind{2: {slot: true}}
	if err := sub.handleFrame(frame); err != nil {
		t.Fatalf("handle frame: %v", err)
	}
	if observed != 777 {
		t.Errorf("slot = %d, want 777", observed)
	}
}

func TestHandleFrameResolvesAck(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	key := solana.NewWallet().PublicKey()
	sub.subs = map[uint64]subscriptionKind{}
	sub.acks = map[uint64]subscriptionKind{3: {account: key}}

	frame := &pubsubFrame{ID: 3, Result: json.RawMessage(`99`)}
	if err := sub.handleFrame(frame); err != nil {
		t.Fatalf("handle ack: %v", err)
	}
	if kind, ok := sub.subs[99]; !ok || kind.account != key {
		t.Fatalf("subs[99] = %+v ok=%v, want account %s", kind, ok, key)
	}
	if len(sub.acks) != 0 {
		t.Errorf("ack not consumed: %v", sub.acks)
	}

	// an ack for a request this session never issued is ignored
	unknown := &pubsubFrame{ID: 42, Result: json.RawMessage(`100`)}
	if err := sub.handleFrame(unknown); err != nil {
		t.Fatalf("unknown ack: %v", err)
	}
	if _, ok := sub.subs[100]; ok {
		t.Error("unknown ack installed a subscription")
	}
}

func TestAddAccountsExpandsTrackedSet(t *testing.T) {
	user := solana.NewWallet().PublicKey()
	sub := NewSubscriber(SubscriberConfig{Accounts: []solana.PublicKey{user}}, testLogger())

	oracleA := solana.NewWallet().PublicKey()
	oracleB := solana.NewWallet().PublicKey()
	if err := sub.AddAccounts(oracleA, oracleB, oracleA, solana.PublicKey{}); err != nil {
		t.Fatalf("add accounts: %v", err)
	}

	tracked := make(map[solana.PublicKey]bool)
	for _, key := range sub.TrackedAccounts() {
		tracked[key] = true
	}
	if len(tracked) != 3 || !tracked[user] || !tracked[oracleA] || !tracked[oracleB] {
		t.Fatalf("tracked = %v", sub.TrackedAccounts())
	}
}

func TestMarketRecordSubscribesItsOracle(t *testing.T) {
	oracle := solana.NewWallet().PublicKey()
	svc := NewService(Config{}, nil, testLogger())

	market := &driftidl.PerpMarket{
		Pubkey:      solana.NewWallet().PublicKey(),
		Amm:         driftidl.Amm{Oracle: oracle, OracleSource: driftidl.OracleSource_QuoteAsset},
		MarketIndex: 1,
	}
	if !svc.cache.Apply(perpMarketAccount(t, market, 5)) {
		t.Fatal("market apply rejected")
	}

	for _, key := range svc.subscriber.TrackedAccounts() {
		if key == oracle {
			return
		}
	}
	t.Fatal("decoded market's oracle key not queued for subscription")
}

func TestDispatchDoesNotHangWithoutConsumer(t *testing.T) {
	sub := NewSubscriber(SubscriberConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nobody reads Events during the grace window; dispatch must give up
	// and close the channel instead of parking forever
	go sub.dispatch(ctx)
	time.Sleep(doneDeliveryGrace + 200*time.Millisecond)

	select {
	case event, ok := <-sub.Events():
		if ok && !event.Done {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch still parked on Done delivery")
	}
}
