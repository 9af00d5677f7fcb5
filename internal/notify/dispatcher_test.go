package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/metrics"
)

type recordingSink struct {
	mu      sync.Mutex
	saved   []domain.Notification
	block   chan struct{}
	failFor string
}

func (s *recordingSink) CreateNotification(_ context.Context, n domain.Notification) error {
	if s.block != nil {
		<-s.block
	}
	if n.Kind == s.failFor {
		return errors.New("inbox unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, n)
	return nil
}

func (s *recordingSink) snapshot() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.saved...)
}

func TestDispatcherPersistsAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	m := metrics.New()
	d := NewDispatcher(sink, 8, zerolog.Nop(), m)

	transfer := domain.StockTransfer{ID: "trf-1", FromBranchID: "br-pusat", ToBranchID: "br-selatan"}
	require.True(t, d.Enqueue(TransferDispatched(transfer)))
	require.True(t, d.Enqueue(DiscrepancyResolved(transfer, domain.TransferDiscrepancy{Kind: domain.DiscrepancyShortage, SKU: "SKU-TOMAT-01", Resolution: domain.ResolutionScrap})...))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	saved := sink.snapshot()
	require.Len(t, saved, 3)
	assert.Equal(t, "br-selatan", saved[0].BranchID)
	assert.NotEmpty(t, saved[0].ID)
	assert.False(t, saved[0].CreatedAt.IsZero())
	assert.Equal(t, "br-pusat", saved[1].BranchID)
	assert.Equal(t, "br-selatan", saved[2].BranchID)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.NotificationsQueued.WithLabelValues("persisted")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{block: make(chan struct{})}
	m := metrics.New()
	d := NewDispatcher(sink, 1, zerolog.Nop(), m)

	po := domain.PurchaseOrder{ID: "po-1", BranchID: "br-pusat"}
	n := PORequested(po)
	// the worker holds one, the queue holds one, the rest are dropped
	accepted := 0
	for range 4 {
		if d.Enqueue(n) {
			accepted++
		}
	}
	assert.GreaterOrEqual(t, accepted, 1)
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.NotificationsQueued.WithLabelValues("dropped")), float64(2))

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.snapshot(), accepted)
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDispatcher(&recordingSink{}, 4, zerolog.Nop(), nil)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.False(t, d.Enqueue(PORequested(domain.PurchaseOrder{ID: "po-2"})))
}

func TestDispatcherKeepsRunningAfterSinkError(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{failFor: domain.NotifyPORequested}
	d := NewDispatcher(sink, 4, zerolog.Nop(), nil)
	po := domain.PurchaseOrder{ID: "po-3", BranchID: "br-pusat", SupplierID: "sup-tani-makmur"}
	d.Enqueue(PORequested(po), PORouted(po))
	require.NoError(t, d.Close(context.Background()))

	saved := sink.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, domain.NotifyPORouted, saved[0].Kind)
}

func TestDispatcherRunsPersistedHookAfterWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{failFor: domain.NotifyPORequested}
	d := NewDispatcher(sink, 4, zerolog.Nop(), nil)

	var (
		mu   sync.Mutex
		seen []int
	)
	d.OnPersisted(func(_ context.Context, n domain.Notification) {
		mu.Lock()
		defer mu.Unlock()
		// the row is already in the inbox when the hook runs
		seen = append(seen, len(sink.snapshot()))
		assert.Equal(t, domain.NotifyPORouted, n.Kind)
	})

	po := domain.PurchaseOrder{ID: "po-4", BranchID: "br-pusat", SupplierID: "sup-tani-makmur"}
	d.Enqueue(PORequested(po), PORouted(po))
	require.NoError(t, d.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1}, seen, "failed writes skip the hook")
}

func TestDiscrepanciesOpenedSkipsCleanReceipt(t *testing.T) {
	clean := domain.StockTransfer{ID: "trf-2", FromBranchID: "br-pusat", ToBranchID: "br-selatan"}
	assert.Empty(t, DiscrepanciesOpened(clean))

	clean.Discrepancies = []domain.TransferDiscrepancy{{Status: domain.DiscrepancyOpen}, {Status: domain.DiscrepancyResolved}}
	opened := DiscrepanciesOpened(clean)
	require.Len(t, opened, 2)
	assert.Contains(t, opened[0].Body, "1 selisih")
}
