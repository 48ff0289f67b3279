package storage

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/ride"
)

// Postgres is the durable Ride Store: CompareAndSet is implemented as a
// single conditional UPDATE ... WHERE status = $expected, which is
// Postgres's native equivalent of the findOneAndUpdate(status=requested)
// primitive the design calls for.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema applies schema.sql once, recording its hash so redeploys
// with an unchanged schema are a no-op.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ApplySchema(ctx, pool)
}

func (p *Postgres) Create(ctx context.Context, n ride.NewRide) (*ride.Ride, error) {
	now := time.Now()
	code, err := p.uniqueCode(ctx)
	if err != nil {
		return nil, ride.Fatal("code generation exhausted", err)
	}

	r := &ride.Ride{
		ID:            uuid.NewString(),
		Code:          code,
		PassengerID:   n.PassengerID,
		Pickup:        n.Pickup,
		Dropoff:       n.Dropoff,
		FareAmount:    n.FareAmount,
		Currency:      n.Currency,
		DistanceKM:    n.DistanceKM,
		DurationMin:   n.DurationMin,
		PaymentMethod: n.PaymentMethod,
		Status:        ride.StatusRequested,
		IsDispatching: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO rides (
	id, code, passenger_id, captain_id,
	pickup_lon, pickup_lat, pickup_name, dropoff_lon, dropoff_lat, dropoff_name,
	fare_amount, currency, distance_km, duration_min, payment_method,
	status, is_dispatching, created_at, updated_at
) VALUES ($1,$2,$3,NULL,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`, r.ID, r.Code, r.PassengerID,
		r.Pickup.Lon, r.Pickup.Lat, nullableString(r.Pickup.PlaceName),
		r.Dropoff.Lon, r.Dropoff.Lat, nullableString(r.Dropoff.PlaceName),
		r.FareAmount, r.Currency, r.DistanceKM, r.DurationMin, r.PaymentMethod,
		r.Status, r.IsDispatching, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, ride.Transient("insert ride failed", err)
	}
	return r, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*ride.Ride, error) {
	row := p.pool.QueryRow(ctx, selectRideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ride.NotFound("ride not found")
		}
		return nil, ride.Transient("get ride failed", err)
	}
	return r, nil
}

func (p *Postgres) FindActiveForPassenger(ctx context.Context, passengerID string) (*ride.Ride, error) {
	row := p.pool.QueryRow(ctx, selectRideColumns+`
FROM rides
WHERE passenger_id = $1 AND status NOT IN ('completed','cancelled','notApprove')
ORDER BY created_at DESC
LIMIT 1
`, passengerID)
	r, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, ride.Transient("find active ride for passenger failed", err)
	}
	return r, nil
}

func (p *Postgres) FindActiveForCaptain(ctx context.Context, captainID string) (*ride.Ride, error) {
	row := p.pool.QueryRow(ctx, selectRideColumns+`
FROM rides
WHERE captain_id = $1 AND status NOT IN ('completed','cancelled','notApprove')
ORDER BY created_at DESC
LIMIT 1
`, captainID)
	r, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, ride.Transient("find active ride for captain failed", err)
	}
	return r, nil
}

// FindRecentCompletedForPassenger backs the Event Router's second
// rehydration case: a passenger's most recently completed, unrated ride
// that ended at or after since.
func (p *Postgres) FindRecentCompletedForPassenger(ctx context.Context, passengerID string, since time.Time) (*ride.Ride, error) {
	row := p.pool.QueryRow(ctx, selectRideColumns+`
FROM rides
WHERE passenger_id = $1 AND status = 'completed' AND rating IS NULL AND ended_at >= $2
ORDER BY ended_at DESC
LIMIT 1
`, passengerID, since)
	r, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, ride.Transient("find recent completed ride for passenger failed", err)
	}
	return r, nil
}

func (p *Postgres) CompareAndSet(ctx context.Context, id string, expected ride.Status, patch ride.Patch) (*ride.Ride, error) {
	set, args := buildPatchSet(patch)
	args = append(args, id, string(expected))

	row := p.pool.QueryRow(ctx, `
UPDATE rides SET `+set+`, updated_at = NOW()
WHERE id = $`+itoa(len(args)-1)+` AND status = $`+itoa(len(args))+`
RETURNING `+returningRideColumns, args...)

	r, err := scanRide(row)
	if err == nil {
		return r, nil
	}
	if err != pgx.ErrNoRows {
		return nil, ride.Transient("compare-and-set failed", err)
	}

	// No row matched: distinguish "wrong status" (Conflict) from "no such
	// ride" (NotFound) with a follow-up read.
	existing, getErr := p.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, ride.Conflict("ride status is " + string(existing.Status) + ", expected " + string(expected))
}

func (p *Postgres) ListRequestedWithoutDispatcher(ctx context.Context, excludeIDs []string) ([]*ride.Ride, error) {
	rows, err := p.pool.Query(ctx, selectRideColumns+`
FROM rides
WHERE status = 'requested' AND NOT (id = ANY($1))
ORDER BY created_at ASC
`, excludeIDs)
	if err != nil {
		return nil, ride.Transient("list requested rides failed", err)
	}
	defer rows.Close()

	var out []*ride.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, ride.Transient("scan requested ride failed", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const rideColumns = `
	id, code, passenger_id, captain_id,
	pickup_lon, pickup_lat, pickup_name, dropoff_lon, dropoff_lat, dropoff_name,
	fare_amount, currency, distance_km, duration_min, payment_method,
	status, is_dispatching, created_at, updated_at,
	accepted_at, arrived_at, started_at, ended_at, cancellation_reason,
	cancellation_fee, rating`

const selectRideColumns = `SELECT` + rideColumns

const returningRideColumns = rideColumns

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*ride.Ride, error) {
	var r ride.Ride
	var captainID, pickupName, dropoffName, cancellationReason *string
	var rating *int
	err := row.Scan(
		&r.ID, &r.Code, &r.PassengerID, &captainID,
		&r.Pickup.Lon, &r.Pickup.Lat, &pickupName, &r.Dropoff.Lon, &r.Dropoff.Lat, &dropoffName,
		&r.FareAmount, &r.Currency, &r.DistanceKM, &r.DurationMin, &r.PaymentMethod,
		&r.Status, &r.IsDispatching, &r.CreatedAt, &r.UpdatedAt,
		&r.AcceptedAt, &r.ArrivedAt, &r.StartedAt, &r.EndedAt, &cancellationReason,
		&r.CancellationFee, &rating,
	)
	if err != nil {
		return nil, err
	}
	if captainID != nil {
		r.CaptainID = *captainID
	}
	if pickupName != nil {
		r.Pickup.PlaceName = *pickupName
	}
	if dropoffName != nil {
		r.Dropoff.PlaceName = *dropoffName
	}
	if cancellationReason != nil {
		r.CancellationReason = *cancellationReason
	}
	r.Rating = rating
	return &r, nil
}

// buildPatchSet turns a ride.Patch into a "col = $n, col2 = $n2" fragment
// and its positional args, in a fixed field order.
func buildPatchSet(patch ride.Patch) (string, []any) {
	set := "status = $1"
	args := []any{string(patch.Status)}

	addArg := func(col string, val any) {
		args = append(args, val)
		set += ", " + col + " = $" + itoa(len(args))
	}

	if patch.ClearCaptain {
		addArg("captain_id", nil)
	} else if patch.CaptainID != nil {
		addArg("captain_id", *patch.CaptainID)
	}
	if patch.IsDispatching != nil {
		addArg("is_dispatching", *patch.IsDispatching)
	}
	if patch.AcceptedAt != nil {
		addArg("accepted_at", *patch.AcceptedAt)
	}
	if patch.ArrivedAt != nil {
		addArg("arrived_at", *patch.ArrivedAt)
	}
	if patch.StartedAt != nil {
		addArg("started_at", *patch.StartedAt)
	}
	if patch.EndedAt != nil {
		addArg("ended_at", *patch.EndedAt)
	}
	if patch.ClearCancellationReason {
		addArg("cancellation_reason", nil)
	} else if patch.CancellationReason != nil {
		addArg("cancellation_reason", *patch.CancellationReason)
	}
	if patch.CancellationFee != nil {
		addArg("cancellation_fee", *patch.CancellationFee)
	}
	return set, args
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func (p *Postgres) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		code, err := randomCode(6)
		if err != nil {
			return "", err
		}
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE code = $1)`, code).Scan(&exists); err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ride.Fatal("could not find unused ride code", nil)
}

func randomCode(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}

func DefaultPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}
