package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/syncerr"
)

// ConnectionRepository handles database operations for platform connections
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create creates a new platform connection
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.PlatformConnection) error {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if conn.Status == "" {
		conn.Status = models.ConnectionDisconnected
	}
	if conn.PlatformData == nil {
		conn.PlatformData = models.JSONB{}
	}
	return r.db.WithContext(ctx).Create(conn).Error
}

// GetByID loads a connection and enforces ownership.
func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID, userID string) (*models.PlatformConnection, error) {
	var conn models.PlatformConnection
	err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, syncerr.New(syncerr.KindNotFound, "connection %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if conn.UserID != userID {
		return nil, syncerr.New(syncerr.KindAuthorization, "connection %s does not belong to user", id)
	}
	return &conn, nil
}

// ListByUser returns all of a user's connections
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]models.PlatformConnection, error) {
	var conns []models.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&conns).Error
	return conns, err
}

// ListEnabledByUser returns the user's enabled connections, oldest first.
func (r *ConnectionRepository) ListEnabledByUser(ctx context.Context, userID string) ([]models.PlatformConnection, error) {
	var conns []models.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_enabled = ?", userID, true).
		Order("created_at asc").
		Find(&conns).Error
	return conns, err
}

// FindByShopDomain locates connections whose platform data carries the given
// shop domain. Multiple matches come back oldest first; the caller picks the
// first and logs.
func (r *ConnectionRepository) FindByShopDomain(ctx context.Context, platformType models.PlatformType, shopDomain string) ([]models.PlatformConnection, error) {
	return r.findByDataKey(ctx, platformType, models.DataKeyShop, shopDomain)
}

// FindByMerchantID locates connections by platform merchant id.
func (r *ConnectionRepository) FindByMerchantID(ctx context.Context, platformType models.PlatformType, merchantID string) ([]models.PlatformConnection, error) {
	return r.findByDataKey(ctx, platformType, models.DataKeyMerchantID, merchantID)
}

// findByDataKey scans the platform's connections for a PlatformData value.
// The candidate set per platform is small, so filtering in Go keeps the query
// portable across postgres and sqlite.
func (r *ConnectionRepository) findByDataKey(ctx context.Context, platformType models.PlatformType, key, value string) ([]models.PlatformConnection, error) {
	var candidates []models.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("platform_type = ?", platformType).
		Order("created_at asc").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var matches []models.PlatformConnection
	for _, c := range candidates {
		if v, ok := c.PlatformData[key].(string); ok && v == value {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

// Update saves the full connection row
func (r *ConnectionRepository) Update(ctx context.Context, conn *models.PlatformConnection) error {
	conn.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(conn).Error
}

// UpdateStatus transitions the connection's status, enforcing the state
// machine. The caller's view of the current status guards against races via
// a conditional update.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.ConnectionStatus) error {
	if !models.CanTransition(from, to) {
		return syncerr.New(syncerr.KindInternal, "illegal status transition %s -> %s", from, to)
	}

	res := r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return syncerr.New(syncerr.KindInternal, "connection %s status changed concurrently (expected %s)", id, from)
	}
	return nil
}

// SetError flips the connection to ERROR and records the message.
func (r *ConnectionRepository) SetError(ctx context.Context, id uuid.UUID, message string) error {
	return r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ConnectionError,
			"last_error": message,
			"updated_at": time.Now(),
		}).Error
}

// PatchData merges keys into the connection's PlatformData.
func (r *ConnectionRepository) PatchData(ctx context.Context, id uuid.UUID, patch map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conn models.PlatformConnection
		if err := tx.First(&conn, "id = ?", id).Error; err != nil {
			return err
		}
		if conn.PlatformData == nil {
			conn.PlatformData = models.JSONB{}
		}
		for k, v := range patch {
			conn.PlatformData[k] = v
		}
		return tx.Model(&models.PlatformConnection{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"platform_data": conn.PlatformData,
				"updated_at":    time.Now(),
			}).Error
	})
}

// StampSyncAttempt records the start of an outbound sync.
func (r *ConnectionRepository) StampSyncAttempt(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_attempt_at": now,
			"updated_at":           now,
		}).Error
}

// StampSyncSuccess records a successful outbound sync.
func (r *ConnectionRepository) StampSyncSuccess(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sync_success_at": now,
			"last_error":           "",
			"updated_at":           now,
		}).Error
}

// ClearCredentials removes stored credential material from the row: the local
// vault's encrypted blob and the GCP secret reference.
func (r *ConnectionRepository) ClearCredentials(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"encrypted_credentials": nil,
			"secret_reference":      "",
			"updated_at":            time.Now(),
		}).Error
}

// SetEnabled toggles the connection on or off.
func (r *ConnectionRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.db.WithContext(ctx).Model(&models.PlatformConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_enabled": enabled,
			"updated_at": time.Now(),
		}).Error
}

// Delete removes the connection row.
func (r *ConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PlatformConnection{}, "id = ?", id).Error
}

// ListSyncingOlderThan returns enabled SYNCING connections whose last
// reconciliation stamp is missing or older than the cutoff. Used by the
// scheduled reconciliation sweep.
func (r *ConnectionRepository) ListSyncingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PlatformConnection, error) {
	var candidates []models.PlatformConnection
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_enabled = ?", models.ConnectionSyncing, true).
		Order("created_at asc").
		Limit(limit * 4). // filtered further in Go on the JSON stamp
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var due []models.PlatformConnection
	for _, c := range candidates {
		stamp, ok := c.PlatformData[models.DataKeyLastReconciliationAt].(string)
		if ok {
			if t, err := time.Parse(time.RFC3339, stamp); err == nil && t.After(cutoff) {
				continue
			}
		}
		due = append(due, c)
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}
