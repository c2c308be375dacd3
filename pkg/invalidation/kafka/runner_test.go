package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/tileloader/internal/invalidation"
)

type fakeApplier struct {
	mu     sync.Mutex
	events []invalidation.Event
	err    error
}

func (f *fakeApplier) Apply(_ context.Context, ev invalidation.Event) (invalidation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return invalidation.Result{}, f.err
	}
	f.events = append(f.events, ev)
	return invalidation.Result{Keys: len(ev.TileList), Stale: 1}, nil
}

func (f *fakeApplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func message(t *testing.T, v any, ts time.Time) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "tile-invalidation", Offset: 1, Timestamp: ts, Value: b}
}

func newTestRunner(a Applier) (*Runner, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	cfg := InvalidationConfig{Enabled: true, Driver: DriverKafka}
	return New(cfg, a, Options{Register: reg}), reg
}

func TestHandleMessage_AppliesAndDedupesVersions(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newTestRunner(fa)
	ctx := context.Background()
	ts := time.Now().UTC()

	ev := invalidation.Event{Version: 2, Source: "osm", TS: ts, TileList: []string{"3/1/1", "3/2/1"}}
	if err := r.handleMessage(ctx, message(t, ev, ts)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := r.handleMessage(ctx, message(t, ev, ts)); err != nil {
		t.Fatalf("duplicate handleMessage: %v", err)
	}
	older := ev
	older.Version = 1
	if err := r.handleMessage(ctx, message(t, older, ts)); err != nil {
		t.Fatalf("older handleMessage: %v", err)
	}
	other := ev
	other.Source = "topo"
	if err := r.handleMessage(ctx, message(t, other, ts)); err != nil {
		t.Fatalf("other source handleMessage: %v", err)
	}

	if got := fa.count(); got != 2 {
		t.Fatalf("applied=%d want 2", got)
	}
	if got := testutil.ToFloat64(r.ms.apply.WithLabelValues("skip_version")); got != 2 {
		t.Fatalf("skip_version=%v want 2", got)
	}
	if got := testutil.ToFloat64(r.ms.apply.WithLabelValues("delete")); got != 4 {
		t.Fatalf("delete=%v want 4", got)
	}
}

func TestHandleMessage_TimestampFromMessage(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newTestRunner(fa)
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	ev := map[string]any{"version": 1, "tiles": []string{"0/0/0"}}
	if err := r.handleMessage(context.Background(), message(t, ev, ts)); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if fa.count() != 1 || !fa.events[0].TS.Equal(ts) {
		t.Fatalf("events=%+v want ts from message", fa.events)
	}
}

func TestHandleMessage_SkipsBadPayloads(t *testing.T) {
	fa := &fakeApplier{}
	r, _ := newTestRunner(fa)
	ctx := context.Background()

	bad := &sarama.ConsumerMessage{Value: []byte("{not json")}
	if err := r.handleMessage(ctx, bad); err != nil {
		t.Fatalf("decode failure should be skipped, got %v", err)
	}
	invalid := invalidation.Event{Version: 1, TS: time.Now()}
	if err := r.handleMessage(ctx, message(t, invalid, time.Now())); err != nil {
		t.Fatalf("invalid event should be skipped, got %v", err)
	}
	if fa.count() != 0 {
		t.Fatalf("bad payloads reached the applier")
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("decode_error")); got != 1 {
		t.Fatalf("decode_error=%v want 1", got)
	}
	if got := testutil.ToFloat64(r.ms.msgs.WithLabelValues("invalid")); got != 1 {
		t.Fatalf("invalid=%v want 1", got)
	}
}

func TestHandleMessage_FailedApplyIsRetried(t *testing.T) {
	fa := &fakeApplier{err: errors.New("store down")}
	r, _ := newTestRunner(fa)
	ctx := context.Background()
	ev := invalidation.Event{Version: 7, TS: time.Now(), TileList: []string{"1/0/1"}}
	msg := message(t, ev, time.Now())

	if err := r.handleMessage(ctx, msg); err == nil {
		t.Fatalf("expected apply error")
	}
	fa.mu.Lock()
	fa.err = nil
	fa.mu.Unlock()
	if err := r.handleMessage(ctx, msg); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if fa.count() != 1 {
		t.Fatalf("applied=%d want 1 after retry", fa.count())
	}
}

func TestStart_DisabledIsNoop(t *testing.T) {
	r := New(InvalidationConfig{Driver: DriverNone}, nil, Options{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
	if ready, _ := r.Readiness(); ready {
		t.Fatalf("disabled runner reports ready")
	}
}

func TestSaramaConfig(t *testing.T) {
	r := New(InvalidationConfig{
		Enabled: true, Driver: DriverKafka,
		SessionTimeout: 30 * time.Second, Heartbeat: 3 * time.Second, RebalanceTimeout: 30 * time.Second,
		SASL: SASLConfig{Enable: true, Username: "u", Password: "p"},
	}, &fakeApplier{}, Options{})
	cfg, err := r.saramaConfig()
	if err != nil {
		t.Fatalf("saramaConfig: %v", err)
	}
	if !cfg.Net.SASL.Enable || cfg.Net.SASL.Mechanism != sarama.SASLTypePlaintext {
		t.Fatalf("sasl not configured: %+v", cfg.Net.SASL)
	}
	if cfg.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Fatalf("initial offset=%d want newest", cfg.Consumer.Offsets.Initial)
	}

	r.cfg.SASL.Mechanism = "SCRAM-SHA-512"
	if _, err := r.saramaConfig(); err == nil {
		t.Fatalf("expected unsupported mechanism error")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("INVALIDATION_ENABLED", "true")
	t.Setenv("INVALIDATION_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("KAFKA_TOPIC", "")
	cfg := FromEnv()
	if !cfg.Enabled || cfg.Driver != DriverKafka {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "b:9092" {
		t.Fatalf("brokers=%v", cfg.Brokers)
	}
	if cfg.Topic != "tile-invalidation" || cfg.GroupID != "tileloader" {
		t.Fatalf("topic=%q group=%q", cfg.Topic, cfg.GroupID)
	}
}
