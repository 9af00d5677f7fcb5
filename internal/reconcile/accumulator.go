package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/store"
)

// Counters is the running aggregate of one purchase-order line.
type Counters struct {
	Ordered  decimal.Decimal
	Received decimal.Decimal
	Spoiled  decimal.Decimal
	Damaged  decimal.Decimal
	Usable   decimal.Decimal
}

// Receipt is one delivery of a line. Usable is derived, never supplied.
type Receipt struct {
	Received decimal.Decimal
	Spoiled  decimal.Decimal
	Damaged  decimal.Decimal
}

func (r Receipt) Usable() decimal.Decimal {
	return r.Received.Sub(r.Spoiled).Sub(r.Damaged)
}

func (r Receipt) Validate() error {
	if err := CheckQty("received", r.Received); err != nil {
		return err
	}
	if err := CheckQty("spoiled", r.Spoiled); err != nil {
		return err
	}
	if err := CheckQty("damaged", r.Damaged); err != nil {
		return err
	}
	if r.Spoiled.Add(r.Damaged).GreaterThan(r.Received) {
		return fmt.Errorf("%w: spoiled plus damaged exceeds received", store.ErrInvalidTransaction)
	}
	return nil
}

func CountersOf(item domain.PurchaseOrderItem) Counters {
	return Counters{
		Ordered:  item.Ordered,
		Received: item.Received,
		Spoiled:  item.Spoiled,
		Damaged:  item.Damaged,
		Usable:   item.Usable,
	}
}

// Store copies the counters and their derived status onto the line.
func (c Counters) Store(item *domain.PurchaseOrderItem) {
	item.Ordered = c.Ordered
	item.Received = c.Received
	item.Spoiled = c.Spoiled
	item.Damaged = c.Damaged
	item.Usable = c.Usable
	item.Status = c.Status()
}

func (c Counters) Remaining() decimal.Decimal {
	remaining := c.Ordered.Sub(c.Received)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Status is a pure function of the counters.
func (c Counters) Status() string {
	switch {
	case !c.Received.IsPositive():
		return domain.LineStatusNotReceived
	case c.Received.LessThan(c.Ordered):
		return domain.LineStatusPartial
	default:
		return domain.LineStatusComplete
	}
}

// Check verifies received = usable + spoiled + damaged and received <= ordered.
func (c Counters) Check() error {
	for name, v := range map[string]decimal.Decimal{
		"ordered": c.Ordered, "received": c.Received, "spoiled": c.Spoiled, "damaged": c.Damaged, "usable": c.Usable,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s counter is negative", store.ErrConflict, name)
		}
	}
	if !c.Received.Equal(c.Usable.Add(c.Spoiled).Add(c.Damaged)) {
		return fmt.Errorf("%w: received %s does not match usable+spoiled+damaged", store.ErrConflict, c.Received)
	}
	if c.Received.GreaterThan(c.Ordered) {
		return fmt.Errorf("%w: received %s exceeds ordered %s", store.ErrOverReceipt, c.Received, c.Ordered)
	}
	return nil
}

// Apply adds a receipt to the counters. The receiver is left untouched when
// the receipt is rejected.
func (c Counters) Apply(r Receipt) (Counters, error) {
	if err := r.Validate(); err != nil {
		return c, err
	}
	if r.Received.GreaterThan(c.Remaining()) {
		return c, fmt.Errorf("%w: received %s exceeds remaining %s", store.ErrOverReceipt, r.Received, c.Remaining())
	}
	next := Counters{
		Ordered:  c.Ordered,
		Received: c.Received.Add(r.Received),
		Spoiled:  c.Spoiled.Add(r.Spoiled),
		Damaged:  c.Damaged.Add(r.Damaged),
		Usable:   c.Usable.Add(r.Usable()),
	}
	if err := next.Check(); err != nil {
		return c, err
	}
	return next, nil
}

// Rebuild replays receipts from zero.
func Rebuild(ordered decimal.Decimal, receipts []Receipt) (Counters, error) {
	c := Counters{Ordered: ordered}
	for i, r := range receipts {
		next, err := c.Apply(r)
		if err != nil {
			return c, fmt.Errorf("receipt %d: %w", i+1, err)
		}
		c = next
	}
	return c, nil
}

func (c Counters) Plus(o Counters) Counters {
	return Counters{
		Ordered:  c.Ordered.Add(o.Ordered),
		Received: c.Received.Add(o.Received),
		Spoiled:  c.Spoiled.Add(o.Spoiled),
		Damaged:  c.Damaged.Add(o.Damaged),
		Usable:   c.Usable.Add(o.Usable),
	}
}

func (c Counters) Rates() domain.Rates {
	return domain.Rates{
		SpoilagePct: Percent(c.Spoiled, c.Received),
		DamagePct:   Percent(c.Damaged, c.Received),
		UsablePct:   Percent(c.Usable, c.Received),
		FillPct:     Percent(c.Received, c.Ordered),
	}
}

// Totals sums every line of a purchase order.
func Totals(items []domain.PurchaseOrderItem) Counters {
	var total Counters
	for _, item := range items {
		total = total.Plus(CountersOf(item))
	}
	return total
}

// OrderStatus derives the purchase-order status from its lines. Terminal and
// pre-order statuses are returned unchanged.
func OrderStatus(current string, items []domain.PurchaseOrderItem) string {
	switch current {
	case domain.POStatusClosed, domain.POStatusCancelled, domain.POStatusRequested:
		return current
	}
	if len(items) == 0 {
		return current
	}
	complete, touched := 0, 0
	for _, item := range items {
		switch CountersOf(item).Status() {
		case domain.LineStatusComplete:
			complete++
			touched++
		case domain.LineStatusPartial:
			touched++
		}
	}
	switch {
	case complete == len(items):
		return domain.POStatusReceived
	case touched > 0:
		return domain.POStatusPartial
	default:
		return domain.POStatusOrdered
	}
}

// Receivable reports whether purchase entries may still be recorded.
func Receivable(status string) bool {
	return status == domain.POStatusOrdered || status == domain.POStatusPartial
}
