package transfer

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"testing"

	xerrors "crosschain-transfer/internal/errors"
	"crosschain-transfer/internal/events"
	"crosschain-transfer/internal/journal"
	"crosschain-transfer/internal/observability/alerting"
	"crosschain-transfer/internal/observability/metrics"
)

type fakeExecutor struct {
	outcome Outcome
	err     error
	calls   int
}

func (f *fakeExecutor) Execute(_ context.Context, _ Request) (Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

type failingJournal struct {
	*journal.MemoryStore
}

func (failingJournal) Create(context.Context, *journal.Entry) error {
	return errors.New("disk full")
}

func serviceRequest() Request {
	return Request{
		Token:            " usdc ",
		ChainDestination: "sepolia",
		Recipient:        "0x000000000000000000000000000000000000dEaD",
		Amount:           "2",
	}
}

func newTestService(t *testing.T, exec Executor, opts ...ServiceOption) (*Service, *journal.MemoryStore, *events.MemoryPublisher) {
	t.Helper()
	store := journal.NewMemoryStore()
	pub := events.NewMemoryPublisher()
	seq := 0
	opts = append([]ServiceOption{WithJournal(store), WithPublisher(pub)}, opts...)
	svc, err := NewService(exec, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.newID = func() string {
		seq++
		return "req-" + strconv.Itoa(seq)
	}
	return svc, store, pub
}

func TestServiceRecordsBridgeOutcome(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{
		Method:           MethodBridge,
		SourceChain:      "polygonAmoy",
		DestinationChain: "sepolia",
		TxHash:           "0xabc",
		MessageID:        "0xdef",
		Fee:              big.NewInt(12345),
	}}
	svc, store, pub := newTestService(t, exec)
	before := metrics.OutcomeCount("bridge")

	receipt, err := svc.Submit(context.Background(), serviceRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.RequestID != "req-1" || receipt.Outcome.MessageID != "0xdef" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	entry, err := store.Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != journal.StatusSucceeded || entry.Token != "USDC" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Result.Fee != "12345" || entry.Result.SourceChain != "polygonAmoy" || entry.Result.Method != "bridge" {
		t.Fatalf("unexpected result %+v", entry.Result)
	}

	published := pub.Events()
	if len(published) != 1 || published[0].Type != events.TypeTransferSucceeded || published[0].MessageID != "0xdef" || published[0].Token != "USDC" {
		t.Fatalf("unexpected events %+v", published)
	}
	if metrics.OutcomeCount("bridge") != before+1 {
		t.Fatal("bridge outcome must be counted")
	}
}

func TestServiceRecordsChainFailureAndAlerts(t *testing.T) {
	cause := chainError("baseSepolia", StepApprove, errors.New("nonce too low"))
	exec := &fakeExecutor{err: cause}
	alerts := &recordingDispatcher{}
	svc, store, pub := newTestService(t, exec, WithAlerts(alerts))

	receipt, err := svc.Submit(context.Background(), serviceRequest())
	if !errors.Is(err, cause) {
		t.Fatalf("expected chain error, got %v", err)
	}
	if receipt.RequestID == "" {
		t.Fatal("failed submissions still carry a request id")
	}

	entry, _ := store.Get(context.Background(), receipt.RequestID)
	if entry.Status != journal.StatusFailed || entry.ErrorCode != string(CodeChainCallFailed) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.FailedChain != "baseSepolia" || entry.ErrorMessage != "Error on baseSepolia: nonce too low" {
		t.Fatalf("unexpected failure detail %+v", entry)
	}
	if len(alerts.events) != 1 || alerts.events[0].ChainID != "baseSepolia" || alerts.events[0].Step != StepApprove {
		t.Fatalf("unexpected alerts %+v", alerts.events)
	}
	if got := pub.Events(); len(got) != 1 || got[0].Type != events.TypeTransferFailed {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestServiceDoesNotAlertOnNoEligibleSource(t *testing.T) {
	alerts := &recordingDispatcher{}
	svc, store, _ := newTestService(t, &fakeExecutor{err: noEligibleSource()}, WithAlerts(alerts))

	receipt, err := svc.Submit(context.Background(), serviceRequest())
	if xerrors.CodeOf(err) != CodeNoEligibleSource {
		t.Fatalf("expected no eligible source, got %v", err)
	}
	if len(alerts.events) != 0 {
		t.Fatal("no eligible source is not an operational alert")
	}
	entry, _ := store.Get(context.Background(), receipt.RequestID)
	if entry.ErrorMessage != NoEligibleSourceMessage {
		t.Fatalf("unexpected message %q", entry.ErrorMessage)
	}
}

func TestServiceJournalFailureSkipsExecution(t *testing.T) {
	exec := &fakeExecutor{}
	svc, err := NewService(exec, WithJournal(failingJournal{journal.NewMemoryStore()}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Submit(context.Background(), serviceRequest())
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if exec.calls != 0 {
		t.Fatal("executor must not run without a journal entry")
	}
}

func TestServiceListAndGet(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeExecutor{outcome: Outcome{Method: MethodDirect, SourceChain: "sepolia", TxHash: "0x1"}})
	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(context.Background(), serviceRequest()); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	entries, err := svc.List(context.Background(), journal.WithLimit(2))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if _, err := svc.Get(context.Background(), " req-2 "); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewServiceRequiresExecutor(t *testing.T) {
	if _, err := NewService(nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
