package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/pkg/logger"
)

type fakeList struct {
	pushed  [][]byte
	key     string
	trimmed [2]int64
	pushErr error
}

func (f *fakeList) LPush(_ context.Context, key string, values ...interface{}) *goredis.IntCmd {
	f.key = key
	for _, value := range values {
		f.pushed = append(f.pushed, value.([]byte))
	}
	cmd := goredis.NewIntResult(int64(len(f.pushed)), f.pushErr)
	return cmd
}

func (f *fakeList) LTrim(_ context.Context, _ string, start, stop int64) *goredis.StatusCmd {
	f.trimmed = [2]int64{start, stop}
	return goredis.NewStatusResult("OK", nil)
}

type fakeChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	closed   bool
	err      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	f.key = key
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() Event {
	return Event{
		Type:             TypeTransferSucceeded,
		RequestID:        "req-1",
		Token:            "USDC",
		Amount:           "2",
		DestinationChain: "sepolia",
		Method:           "bridge",
		SourceChain:      "polygonAmoy",
		TxHash:           "0xabc",
		MessageID:        "0xdef",
	}
}

func TestStampFillsMissingFields(t *testing.T) {
	stamped := Stamp(Event{})
	if stamped.ID == "" || stamped.OccurredAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", stamped)
	}
	fixed := time.Unix(42, 0)
	kept := Stamp(Event{ID: "e1", OccurredAt: fixed})
	if kept.ID != "e1" || !kept.OccurredAt.Equal(fixed) {
		t.Fatalf("stamp must keep existing fields, got %+v", kept)
	}
}

func TestRedisPublisherPushesJSON(t *testing.T) {
	list := &fakeList{}
	pub, err := NewRedisPublisher(list, RedisConfig{MaxLen: 50})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if list.key != "transferd:events" || len(list.pushed) != 1 {
		t.Fatalf("unexpected push %q %d", list.key, len(list.pushed))
	}
	var decoded Event
	if err := json.Unmarshal(list.pushed[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RequestID != "req-1" || decoded.MessageID != "0xdef" || decoded.ID == "" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if list.trimmed != [2]int64{0, 49} {
		t.Fatalf("unexpected trim range %v", list.trimmed)
	}

	list.pushErr = errors.New("READONLY")
	if err := pub.Publish(context.Background(), sampleEvent()); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
	if _, err := NewRedisPublisher(nil, RedisConfig{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRabbitMQPublisherSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	pub := newRabbitMQPublisherWithChannel(ch, "", "transferd.events")
	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.key != "transferd.events" || len(ch.msgs) != 1 {
		t.Fatalf("unexpected routing %q %d", ch.key, len(ch.msgs))
	}
	msg := ch.msgs[0]
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	if msg.Type != string(TypeTransferSucceeded) || msg.MessageId == "" {
		t.Fatalf("missing event metadata %+v", msg)
	}
	if !bytes.Contains(msg.Body, []byte(`"request_id":"req-1"`)) {
		t.Fatalf("unexpected body %s", msg.Body)
	}

	ch.err = errors.New("channel closed")
	if err := pub.Publish(context.Background(), sampleEvent()); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
	if err := pub.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v %v", err, ch.closed)
	}
	if _, err := NewRabbitMQPublisher(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	first := NewMemoryPublisher()
	second := NewMemoryPublisher()
	multi := Multi{first, nil, second}

	if err := multi.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	a, b := first.Events(), second.Events()
	if len(a) != 1 || len(b) != 1 || a[0].ID != b[0].ID {
		t.Fatalf("fan-out must share one stamped event: %+v %+v", a, b)
	}

	second.Close()
	if err := multi.Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error from closed publisher")
	}
	if len(first.Events()) != 2 {
		t.Fatal("healthy publisher must still receive events")
	}
}

func TestLogPublisherWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLogPublisher(logger.New(&buf, "debug"))
	event := sampleEvent()
	event.Type = TypeTransferFailed
	event.ErrorCode = "NO_ELIGIBLE_SOURCE"
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "NO_ELIGIBLE_SOURCE") || !strings.Contains(out, "WARN") {
		t.Fatalf("unexpected log output %s", out)
	}
}
