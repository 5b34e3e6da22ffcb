package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/riskcore/riskcore/internal/common/database"
	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
)

// DeviceStore handles device registration and trust persistence.
type DeviceStore struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// NewDeviceStore creates a new device store
func NewDeviceStore(db *database.PostgresDB, logger *zap.Logger) *DeviceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceStore{
		db:     db,
		logger: logger.With(zap.String("component", "device_store")),
	}
}

// InitSchema creates the device tables and indexes if they do not exist.
func (s *DeviceStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id VARCHAR(255) NOT NULL,
			device_fingerprint VARCHAR(512) NOT NULL,
			is_trusted BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, device_fingerprint)
		)`,

		`CREATE TABLE IF NOT EXISTS device_access (
			device_id UUID NOT NULL,
			accessed_at TIMESTAMPTZ NOT NULL,
			ip_address VARCHAR(45) NOT NULL,
			location_data JSONB,
			asn VARCHAR(32),
			risk_factors JSONB,
			hardware_info JSONB,
			browser_info JSONB,
			PRIMARY KEY (device_id, accessed_at),
			FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_device_access_accessed_at ON device_access(accessed_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.Pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// Register creates a device for the user and fingerprint, or returns the
// existing one. The returned bool reports whether a new row was inserted.
// The upsert makes concurrent registrations of the same fingerprint
// converge on a single row.
func (s *DeviceStore) Register(ctx context.Context, userID, fingerprint string) (*Device, bool, error) {
	query := `
		INSERT INTO devices (id, user_id, device_fingerprint, is_trusted, created_at, updated_at)
		VALUES ($1, $2, $3, false, now(), now())
		ON CONFLICT (user_id, device_fingerprint)
		DO UPDATE SET updated_at = now()
		RETURNING id, user_id, device_fingerprint, is_trusted, created_at, updated_at, (xmax = 0) AS inserted
	`

	device := &Device{}
	var inserted bool
	err := s.db.Pool.QueryRow(ctx, query, uuid.New(), userID, fingerprint).Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &device.IsTrusted,
		&device.CreatedAt, &device.UpdatedAt, &inserted,
	)
	if err != nil {
		s.logger.Error("Failed to register device",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, false, commonerrors.DatabaseError("upsert device", err)
	}

	if inserted {
		s.logger.Info("Device registered",
			zap.String("device_id", device.ID),
			zap.String("user_id", userID))
	}

	return device, inserted, nil
}

// Get retrieves a device by ID.
func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*Device, error) {
	query := `
		SELECT id, user_id, device_fingerprint, is_trusted, created_at, updated_at
		FROM devices
		WHERE id = $1
	`

	device := &Device{}
	err := s.db.Pool.QueryRow(ctx, query, deviceID).Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &device.IsTrusted,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, commonerrors.DeviceNotFound(deviceID)
	}
	if err != nil {
		return nil, commonerrors.DatabaseError("query device", err)
	}

	return device, nil
}

// ListByUser retrieves all devices registered to a user, newest first.
func (s *DeviceStore) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	query := `
		SELECT id, user_id, device_fingerprint, is_trusted, created_at, updated_at
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, commonerrors.DatabaseError("query devices", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var device Device
		if err := rows.Scan(
			&device.ID, &device.UserID, &device.Fingerprint, &device.IsTrusted,
			&device.CreatedAt, &device.UpdatedAt,
		); err != nil {
			return nil, commonerrors.DatabaseError("scan device", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.DatabaseError("iterate devices", err)
	}

	return devices, nil
}

// SetTrusted updates a device's trust flag and returns the updated device.
func (s *DeviceStore) SetTrusted(ctx context.Context, deviceID string, trusted bool) (*Device, error) {
	query := `
		UPDATE devices
		SET is_trusted = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, user_id, device_fingerprint, is_trusted, created_at, updated_at
	`

	device := &Device{}
	err := s.db.Pool.QueryRow(ctx, query, deviceID, trusted).Scan(
		&device.ID, &device.UserID, &device.Fingerprint, &device.IsTrusted,
		&device.CreatedAt, &device.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, commonerrors.DeviceNotFound(deviceID)
	}
	if err != nil {
		return nil, commonerrors.DatabaseError("update device trust", err)
	}

	s.logger.Info("Device trust updated",
		zap.String("device_id", device.ID),
		zap.Bool("is_trusted", trusted))

	return device, nil
}

// Delete removes a device. Access history rows cascade with it.
func (s *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	if err != nil {
		return commonerrors.DatabaseError("delete device", err)
	}
	if tag.RowsAffected() == 0 {
		return commonerrors.DeviceNotFound(deviceID)
	}

	s.logger.Info("Device deleted", zap.String("device_id", deviceID))
	return nil
}

// Touch bumps the device's updated_at, marking recent activity.
func (s *DeviceStore) Touch(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE devices SET updated_at = $2 WHERE id = $1`, deviceID, at)
	if err != nil {
		return commonerrors.DatabaseError("touch device", err)
	}
	return nil
}
