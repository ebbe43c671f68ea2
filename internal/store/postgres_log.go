package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/fleet-dispatch/internal/models"
)

// DispatchLog records dispatch decisions for audit and reporting.
// Writes are best-effort from the caller's point of view.
type DispatchLog interface {
	RecordAssignment(ctx context.Context, b *models.Booking, v *models.Vehicle, distanceKm float64) error
	RecordSuggestion(ctx context.Context, s models.RebalanceSuggestion) error
}

type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(dsn string) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresLog{db: db}, nil
}

func (p *PostgresLog) RecordAssignment(ctx context.Context, b *models.Booking, v *models.Vehicle, distanceKm float64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO assignments(booking_id, vehicle_id, pickup_lat, pickup_lon, distance_km, assigned_at) VALUES($1,$2,$3,$4,$5,$6)`,
		b.ID, v.ID, b.Pickup.Lat, b.Pickup.Lon, distanceKm, b.AssignedAt)
	return err
}

func (p *PostgresLog) RecordSuggestion(ctx context.Context, s models.RebalanceSuggestion) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rebalance_suggestions(vehicle_id, from_lat, from_lon, to_lat, to_lon, distance_km, priority, reason, applied, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.VehicleID, s.From.Lat, s.From.Lon, s.To.Lat, s.To.Lon, s.DistanceKm, s.Priority, s.Reason, s.Applied, time.Now())
	return err
}

func (p *PostgresLog) Close() error { return p.db.Close() }
