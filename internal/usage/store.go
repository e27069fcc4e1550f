package usage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the usage engine: the append-only
// event log and the per-period aggregate rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrNotFound is returned when a requested aggregate row does not exist.
var ErrNotFound = errors.New("not found")

// BatchInsert durably records a batch of events and applies each one to its
// billing-period aggregate, all in one transaction. The aggregate update is
// an atomic insert-or-increment at the storage layer, so concurrent flushes
// from multiple engine instances cannot lose updates. Either the whole
// batch lands or none of it does; a failed batch is safe to retry verbatim.
func (s *Store) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning usage batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err := applyAggregates(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage batch: %w", err)
	}
	return nil
}

// insertEvents writes the batch as a single multi-row INSERT.
func insertEvents(ctx context.Context, tx pgx.Tx, events []Event) error {
	const cols = 6 // columns per row (excluding server-generated id)
	args := make([]any, 0, len(events)*cols)
	rows := make([]string, 0, len(events))

	for i, ev := range events {
		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		metadata := ev.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args,
			ev.TenantID,
			ev.ProductID,
			ev.EventType,
			ev.Quantity,
			metadata,
			ev.OccurredAt,
		)
	}

	query := `INSERT INTO usage_events
		(tenant_id, product_id, event_type, quantity, metadata, occurred_at)
		VALUES ` + strings.Join(rows, ", ")

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting usage events: %w", err)
	}
	return nil
}

// aggregateDelta is one pending increment to an aggregate row.
type aggregateDelta struct {
	tenantID  string
	productID string
	metric    string
	period    Period
	quantity  int64
}

// groupEvents folds a batch into per-row metric deltas so each (tenant,
// product, period, metric) combination costs one upsert regardless of
// batch size. Events whose type has no aggregate column are skipped with a
// warning; they stay in the event log for audits. The result is sorted so
// concurrent flushes from separate instances touch rows in the same order
// and cannot deadlock each other.
func groupEvents(events []Event) []aggregateDelta {
	type groupKey struct {
		tenantID  string
		productID string
		metric    string
		start     time.Time
	}
	groups := make(map[groupKey]*aggregateDelta)

	for _, ev := range events {
		if !IsTrackedMetric(ev.EventType) {
			slog.Warn("event type has no aggregate column, skipping aggregation",
				"event_type", ev.EventType,
				"tenant_id", ev.TenantID,
				"product_id", ev.ProductID,
			)
			continue
		}
		p := PeriodFor(ev.OccurredAt)
		k := groupKey{ev.TenantID, ev.ProductID, ev.EventType, p.Start}
		if d, ok := groups[k]; ok {
			d.quantity += ev.Quantity
			continue
		}
		groups[k] = &aggregateDelta{
			tenantID:  ev.TenantID,
			productID: ev.ProductID,
			metric:    ev.EventType,
			period:    p,
			quantity:  ev.Quantity,
		}
	}

	deltas := make([]aggregateDelta, 0, len(groups))
	for _, d := range groups {
		deltas = append(deltas, *d)
	}
	sort.Slice(deltas, func(i, j int) bool {
		a, b := deltas[i], deltas[j]
		if a.tenantID != b.tenantID {
			return a.tenantID < b.tenantID
		}
		if a.productID != b.productID {
			return a.productID < b.productID
		}
		if !a.period.Start.Equal(b.period.Start) {
			return a.period.Start.Before(b.period.Start)
		}
		return a.metric < b.metric
	})
	return deltas
}

// applyAggregates executes the batch's aggregate upserts.
func applyAggregates(ctx context.Context, tx pgx.Tx, events []Event) error {
	for _, d := range groupEvents(events) {
		// d.metric passed the whitelist in groupEvents, so interpolating
		// it is safe.
		query := fmt.Sprintf(`INSERT INTO usage_aggregates
			(tenant_id, product_id, period_start, period_end, %[1]s, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (tenant_id, product_id, period_start)
			DO UPDATE SET %[1]s = usage_aggregates.%[1]s + EXCLUDED.%[1]s, updated_at = now()`,
			d.metric,
		)
		if _, err := tx.Exec(ctx, query, d.tenantID, d.productID, d.period.Start, d.period.End, d.quantity); err != nil {
			return fmt.Errorf("upserting aggregate %s/%s/%s: %w", d.tenantID, d.productID, d.metric, err)
		}
	}
	return nil
}

// aggregateColumns is the SELECT list shared by the aggregate readers.
var aggregateColumns = "tenant_id, product_id, period_start, period_end, " +
	strings.Join(trackedMetrics, ", ") + ", updated_at"

// scanAggregate reads one aggregate row into the model.
func scanAggregate(row pgx.Row) (*Aggregate, error) {
	agg := &Aggregate{Totals: make(map[string]int64, len(trackedMetrics))}
	totals := make([]int64, len(trackedMetrics))

	dest := []any{&agg.TenantID, &agg.ProductID, &agg.PeriodStart, &agg.PeriodEnd}
	for i := range totals {
		dest = append(dest, &totals[i])
	}
	dest = append(dest, &agg.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	for i, m := range trackedMetrics {
		agg.Totals[m] = totals[i]
	}
	return agg, nil
}

// Aggregate returns the aggregate row for one tenant/product/period, or
// ErrNotFound when no usage has been recorded yet.
func (s *Store) Aggregate(ctx context.Context, tenantID, productID string, periodStart time.Time) (*Aggregate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+aggregateColumns+`
		 FROM usage_aggregates
		 WHERE tenant_id = $1 AND product_id = $2 AND period_start = $3`,
		tenantID, productID, periodStart,
	)
	agg, err := scanAggregate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting usage aggregate: %w", err)
	}
	return agg, nil
}

// ListAggregates returns all aggregate rows for a tenant in the period
// starting at periodStart, ordered by product.
func (s *Store) ListAggregates(ctx context.Context, tenantID string, periodStart time.Time) ([]*Aggregate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+aggregateColumns+`
		 FROM usage_aggregates
		 WHERE tenant_id = $1 AND period_start = $2
		 ORDER BY product_id`,
		tenantID, periodStart,
	)
	if err != nil {
		return nil, fmt.Errorf("listing usage aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning usage aggregate: %w", err)
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage aggregates: %w", err)
	}
	return aggs, nil
}

// MetricTotal returns the aggregate total of one metric for the period
// starting at periodStart. A missing row or untracked metric reads as zero.
// This is the durable fallback behind the counter-store fast path.
func (s *Store) MetricTotal(ctx context.Context, tenantID, productID, metric string, periodStart time.Time) (int64, error) {
	if !IsTrackedMetric(metric) {
		return 0, nil
	}
	var total int64
	// metric is whitelisted above.
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COALESCE(%s, 0) FROM usage_aggregates
		 WHERE tenant_id = $1 AND product_id = $2 AND period_start = $3`, metric),
		tenantID, productID, periodStart,
	).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying metric total: %w", err)
	}
	return total, nil
}

// EventCounts returns raw event totals grouped by product and event type
// for a tenant within the half-open window [from, to). The exclusive upper
// bound lets adjacent windows share a boundary without counting an event
// twice.
func (s *Store) EventCounts(ctx context.Context, tenantID string, from, to time.Time) ([]EventCount, error) {
	where, args := buildEventWhere(EventQuery{TenantID: tenantID, From: from, To: to})

	rows, err := s.pool.Query(ctx,
		`SELECT product_id, event_type, COUNT(*), COALESCE(SUM(quantity), 0)
		 FROM usage_events`+where+`
		 GROUP BY product_id, event_type
		 ORDER BY product_id, event_type`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying event counts: %w", err)
	}
	defer rows.Close()

	var counts []EventCount
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.ProductID, &c.EventType, &c.Count, &c.Quantity); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListEvents returns a page of raw events matching the query, newest
// first, with cursor-based pagination. The next cursor is empty when
// there are no more results.
func (s *Store) ListEvents(ctx context.Context, q EventQuery) ([]*Event, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildEventWhere(q)

	// The cursor encodes "occurred_at|id".
	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		n := len(args)
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" (occurred_at, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT id, tenant_id, product_id, event_type, quantity, metadata, occurred_at
	FROM usage_events` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1) // fetch one extra to detect a next page

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing usage events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.ProductID, &ev.EventType,
			&ev.Quantity, &ev.Metadata, &ev.OccurredAt,
		); err != nil {
			return nil, "", fmt.Errorf("scanning usage event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating usage events: %w", err)
	}

	var nextCursor string
	if len(events) > limit {
		last := events[limit-1]
		nextCursor = encodeCursor(last.OccurredAt, last.ID)
		events = events[:limit]
	}

	return events, nextCursor, nil
}

// buildEventWhere constructs a WHERE clause and positional arguments from
// an EventQuery. The returned string starts with " WHERE" or is empty.
func buildEventWhere(q EventQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.TenantID != "" {
		args = append(args, q.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if q.ProductID != "" {
		args = append(args, q.ProductID)
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if q.EventType != "" {
		args = append(args, q.EventType)
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("occurred_at < $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// encodeCursor encodes a timestamp and id into an opaque cursor string.
func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor string into a timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
