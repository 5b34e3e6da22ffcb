package risk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/riskcore/riskcore/internal/common/database"
	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
	"github.com/riskcore/riskcore/internal/common/middleware"
)

// AccessStore persists the append-only access history for devices.
type AccessStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewAccessStore creates a new access history store
func NewAccessStore(db *database.PostgresDB, logger *zap.Logger) *AccessStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessStore{
		db:     db,
		logger: logger.With(zap.String("component", "access_store")),
	}
}

// Record inserts a single access event. The (device_id, accessed_at) key is
// immutable, so an exact duplicate is rejected rather than overwritten.
func (s *AccessStore) Record(ctx context.Context, access *DeviceAccess) error {
	locationJSON, err := marshalNullable(access.Location)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal location data", 500)
	}
	factorsJSON, err := marshalNullable(access.RiskFactors)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal risk factors", 500)
	}
	hardwareJSON, err := marshalNullable(access.Hardware)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal hardware info", 500)
	}
	browserJSON, err := marshalNullable(access.Browser)
	if err != nil {
		return commonerrors.Wrap(err, commonerrors.ErrInternal, "marshal browser info", 500)
	}

	query := `
		INSERT INTO device_access (
			device_id, accessed_at, ip_address, location_data, asn,
			risk_factors, hardware_info, browser_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.db.Pool.Exec(ctx, query,
		access.DeviceID, access.AccessedAt, access.IPAddress,
		locationJSON, nullableString(access.ASN),
		factorsJSON, hardwareJSON, browserJSON,
	)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return commonerrors.DuplicateAccess(access.DeviceID)
		}
		s.logger.Error("Failed to record device access",
			zap.String("device_id", access.DeviceID),
			zap.Error(err))
		return commonerrors.DatabaseError("insert device_access", err)
	}

	return nil
}

// List retrieves the most recent access events for a device, newest first.
func (s *AccessStore) List(ctx context.Context, deviceID string, limit int) ([]DeviceAccess, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT device_id, accessed_at, ip_address, location_data, asn,
		       risk_factors, hardware_info, browser_info
		FROM device_access
		WHERE device_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2
	`

	rows, err := s.db.Pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, commonerrors.DatabaseError("query device_access", err)
	}
	defer rows.Close()

	accesses := []DeviceAccess{}
	for rows.Next() {
		access, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		accesses = append(accesses, *access)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.DatabaseError("iterate device_access", err)
	}

	return accesses, nil
}

// ListByUser retrieves recent access events across all of a user's devices,
// newest first, limited to the lookback window used for pattern analysis.
func (s *AccessStore) ListByUser(ctx context.Context, userID string, since time.Time, limit int) ([]DeviceAccess, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT a.device_id, a.accessed_at, a.ip_address, a.location_data, a.asn,
		       a.risk_factors, a.hardware_info, a.browser_info
		FROM device_access a
		JOIN devices d ON d.id = a.device_id
		WHERE d.user_id = $1 AND a.accessed_at >= $2
		ORDER BY a.accessed_at DESC
		LIMIT $3
	`

	rows, err := s.db.Pool.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, commonerrors.DatabaseError("query user device_access", err)
	}
	defer rows.Close()

	accesses := []DeviceAccess{}
	for rows.Next() {
		access, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		accesses = append(accesses, *access)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.DatabaseError("iterate user device_access", err)
	}

	return accesses, nil
}

// LatestWithLocationByUser returns the newest located access across all of
// a user's devices, or nil when no located history exists. Travel
// feasibility is evaluated against this point.
func (s *AccessStore) LatestWithLocationByUser(ctx context.Context, userID string) (*DeviceAccess, error) {
	query := `
		SELECT a.device_id, a.accessed_at, a.ip_address, a.location_data, a.asn,
		       a.risk_factors, a.hardware_info, a.browser_info
		FROM device_access a
		JOIN devices d ON d.id = a.device_id
		WHERE d.user_id = $1 AND a.location_data IS NOT NULL
		ORDER BY a.accessed_at DESC
		LIMIT 1
	`

	row := s.db.Pool.QueryRow(ctx, query, userID)
	access, err := scanAccess(row)
	if err != nil {
		if commonerrors.IsErrorCode(err, commonerrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return access, nil
}

// PurgeOlderThan deletes access events older than the cutoff and returns
// the number of rows removed.
func (s *AccessStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM device_access WHERE accessed_at < $1`, cutoff)
	if err != nil {
		return 0, commonerrors.DatabaseError("purge device_access", err)
	}

	purged := tag.RowsAffected()
	if purged > 0 {
		middleware.AccessPurgedTotal.Add(float64(purged))
		s.logger.Info("Purged expired access history",
			zap.Int64("rows", purged),
			zap.Time("cutoff", cutoff))
	}

	return purged, nil
}

// scanAccess reads one access row. It works for both Query rows and a
// single QueryRow result.
func scanAccess(row pgx.Row) (*DeviceAccess, error) {
	access := &DeviceAccess{}
	var locationJSON, factorsJSON, hardwareJSON, browserJSON []byte
	var asn *string

	err := row.Scan(
		&access.DeviceID, &access.AccessedAt, &access.IPAddress,
		&locationJSON, &asn, &factorsJSON, &hardwareJSON, &browserJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, commonerrors.NotFound("access record")
	}
	if err != nil {
		return nil, commonerrors.DatabaseError("scan device_access", err)
	}

	if asn != nil {
		access.ASN = *asn
	}
	if len(locationJSON) > 0 {
		if err := json.Unmarshal(locationJSON, &access.Location); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal location data", 500)
		}
	}
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &access.RiskFactors); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal risk factors", 500)
		}
	}
	if len(hardwareJSON) > 0 {
		if err := json.Unmarshal(hardwareJSON, &access.Hardware); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal hardware info", 500)
		}
	}
	if len(browserJSON) > 0 {
		if err := json.Unmarshal(browserJSON, &access.Browser); err != nil {
			return nil, commonerrors.Wrap(err, commonerrors.ErrInternal, "unmarshal browser info", 500)
		}
	}

	return access, nil
}

// marshalNullable serializes v to JSON, returning nil for nil values so the
// column stays NULL instead of holding the string "null".
func marshalNullable(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *GeoPoint:
		if val == nil {
			return nil, nil
		}
	case *HardwareInfo:
		if val == nil {
			return nil, nil
		}
	case *BrowserEnvironment:
		if val == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
