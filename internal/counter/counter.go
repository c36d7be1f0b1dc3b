// Package counter issues sequential numbers from named counters stored in Postgres.
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/retailpos/retailpos/internal/platform/db"
)

// Well-known counter names.
const (
	PurchaseInvoice = "purchaseInvoice"
	SalesInvoice    = "salesInvoice"
)

// ErrEmptyName indicates a missing counter name.
var ErrEmptyName = errors.New("counter: name required")

const nextSQL = `INSERT INTO counters (name, value) VALUES ($1, 1)
ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
RETURNING value`

// Next atomically increments the named counter and returns the new value.
// The first call for a name returns 1. Run it on a transaction so the number
// is released together with the caller's rollback.
func Next(ctx context.Context, q db.Querier, name string) (int64, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	var value int64
	if err := q.QueryRow(ctx, nextSQL, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("counter: next %s: %w", name, err)
	}
	return value, nil
}
