package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"affordability-pipeline/internal/alert"
	"affordability-pipeline/internal/checkpoint"
	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"
	"affordability-pipeline/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// rec builds a record from alternating name/value pairs. Values may be
// int, string, decimal string via dec(), or nil for null.
func rec(kind model.DatasetKind, kv ...any) model.Record {
	fields := make([]model.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		var v model.Value
		switch x := kv[i+1].(type) {
		case nil:
			v = model.Null()
		case int:
			v = model.Int(int64(x))
		case decimal.Decimal:
			v = model.Number(x)
		case string:
			v = model.String(x)
		default:
			panic(fmt.Sprintf("unsupported fixture value %T", x))
		}
		fields = append(fields, model.Field{Name: kv[i].(string), Value: v})
	}
	return model.NewRecord(kind, fields...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func financial(uid string, income, rent, bills, savings, debt int) model.Record {
	return rec(model.KindFinancial,
		"user_id", uid,
		"income", income,
		"rent", rent,
		"recurring_bills", bills,
		"savings", savings,
		"debt", debt,
	)
}

func product(pid, uid string, price int) model.Record {
	return rec(model.KindProduct, "product_id", pid, "user_id", uid, "category", "Electronics", "price", price)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testThresholds() model.Thresholds {
	th := model.DefaultThresholds()
	th.MinRecordsRequired = 0
	return th
}

// fakeSource returns errs in order, then records.
type fakeSource struct {
	id      string
	kind    model.DatasetKind
	records []model.Record
	errs    []error
	onFetch func()
	calls   atomic.Int32
}

func (s *fakeSource) ID() string              { return s.id }
func (s *fakeSource) Kind() model.DatasetKind { return s.kind }

func (s *fakeSource) Fetch(context.Context) (model.Batch, error) {
	n := int(s.calls.Add(1))
	if s.onFetch != nil {
		s.onFetch()
	}
	if n <= len(s.errs) {
		return model.Batch{}, s.errs[n-1]
	}
	return model.NewBatch(s.kind, s.id, fixedTime, s.records), nil
}

type countingTransformer struct {
	inner Transformer
	calls atomic.Int32
}

func (c *countingTransformer) Transform(records []model.Record) ([]model.Record, error) {
	c.calls.Add(1)
	return c.inner.Transform(records)
}

type countingEngine struct {
	inner FeatureEngine
	calls atomic.Int32
}

func (c *countingEngine) DeriveAll(fin, prod []model.Record) ([]model.FeatureRecord, error) {
	c.calls.Add(1)
	return c.inner.DeriveAll(fin, prod)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) rules() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, a := range n.alerts {
		ids = append(ids, string(a.Severity)+":"+a.RuleID)
	}
	return ids
}

type harness struct {
	runner      *Runner
	db          *store.DB
	checkpoints *checkpoint.Store
	transformer *countingTransformer
	engine      *countingEngine
	notifier    *recordingNotifier
}

func newHarness(t *testing.T, fin, prod *fakeSource) *harness {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := schema.Default()
	th := testThresholds()
	cps := checkpoint.New(db, &checkpoint.FileBlobStore{Root: filepath.Join(dir, "blobs")}, quietLogger())
	h := &harness{
		db:          db,
		checkpoints: cps,
		transformer: &countingTransformer{inner: &RecordTransformer{Registry: reg, Workers: 4}},
		engine:      &countingEngine{inner: Engine{Thresholds: th, Workers: 4}},
		notifier:    &recordingNotifier{},
	}
	h.runner = &Runner{
		Registry:    reg,
		Thresholds:  th,
		Financial:   fin,
		Transformer: h.transformer,
		Features:    h.engine,
		Checkpoints: cps,
		Runs:        db,
		Notifier:    h.notifier,
		Retry:       RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiplier: 2},
		Workers:     4,
		Logger:      quietLogger(),
		Now:         func() time.Time { return fixedTime },
	}
	if prod != nil {
		h.runner.Product = prod
	}
	return h
}
