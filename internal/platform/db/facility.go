package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	FacilityIDKey contextKey = "facility_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

// FacilityHeader selects the facility schema when no token claim is present.
const FacilityHeader = "X-Facility-ID"

var facilityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a facility's data.
func SchemaName(facilityID string) string {
	return fmt.Sprintf("facility_%s", facilityID)
}

// ValidFacilityID reports whether id is safe to embed in a schema name.
func ValidFacilityID(id string) bool {
	return facilityIDPattern.MatchString(id)
}

// FacilityMiddleware pins a pooled connection to the request with its
// search_path set to the caller's facility schema. Repositories pick the
// connection up through ConnFromContext.
func FacilityMiddleware(pool *pgxpool.Pool, defaultFacility string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			facilityID := extractFacilityID(c, defaultFacility)
			if !ValidFacilityID(facilityID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid facility identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(facilityID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "facility resolution failed")
			}

			ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("facility_id", facilityID)

			return next(c)
		}
	}
}

func extractFacilityID(c echo.Context, defaultFacility string) string {
	if fid, ok := c.Get("jwt_facility_id").(string); ok && fid != "" {
		return fid
	}
	if fid := c.Request().Header.Get(FacilityHeader); fid != "" {
		return fid
	}
	if fid := c.QueryParam("facility_id"); fid != "" {
		return fid
	}
	return defaultFacility
}

// WithFacilityConn runs fn with a facility-scoped connection in its context.
// Background jobs use it where no request middleware has run.
func WithFacilityConn(ctx context.Context, pool *pgxpool.Pool, facilityID string, fn func(ctx context.Context) error) error {
	if !ValidFacilityID(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(facilityID))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, FacilityIDKey, facilityID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}

// ConnFromContext retrieves the facility-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// FacilityFromContext retrieves the facility ID from context.
func FacilityFromContext(ctx context.Context) string {
	fid, _ := ctx.Value(FacilityIDKey).(string)
	return fid
}

// CreateFacilitySchema creates the schema for a facility and, when migrator
// is non-nil, applies all migrations to it.
func CreateFacilitySchema(ctx context.Context, pool *pgxpool.Pool, facilityID string, migrator *Migrator) error {
	if !ValidFacilityID(facilityID) {
		return fmt.Errorf("invalid facility identifier: %s", facilityID)
	}

	schema := SchemaName(facilityID)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// FacilityScope runs fn with a connection scoped to facilityID.
type FacilityScope func(ctx context.Context, facilityID string, fn func(ctx context.Context) error) error

// PoolScope returns a FacilityScope backed by WithFacilityConn on pool.
func PoolScope(pool *pgxpool.Pool) FacilityScope {
	return func(ctx context.Context, facilityID string, fn func(ctx context.Context) error) error {
		return WithFacilityConn(ctx, pool, facilityID, fn)
	}
}
