package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// ConnectionService owns the connection lifecycle: authorization, the
// scan/review/confirm flow, enable/disable, and disconnect.
type ConnectionService struct {
	connRepo      *repository.ConnectionRepository
	productRepo   *repository.ProductRepository
	mappingRepo   *repository.MappingRepository
	inventoryRepo *repository.InventoryRepository
	activity      *ActivityService
	vault         secrets.Vault
	registry      *platform.Registry
	queues        *queue.Manager
	log           *zap.Logger
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	connRepo *repository.ConnectionRepository,
	productRepo *repository.ProductRepository,
	mappingRepo *repository.MappingRepository,
	inventoryRepo *repository.InventoryRepository,
	activity *ActivityService,
	vault secrets.Vault,
	registry *platform.Registry,
	queues *queue.Manager,
	log *zap.Logger,
) *ConnectionService {
	return &ConnectionService{
		connRepo:      connRepo,
		productRepo:   productRepo,
		mappingRepo:   mappingRepo,
		inventoryRepo: inventoryRepo,
		activity:      activity,
		vault:         vault,
		registry:      registry,
		queues:        queues,
		log:           log.Named("connection"),
	}
}

// CreateConnectionRequest carries the authorization material for a new
// connection.
type CreateConnectionRequest struct {
	PlatformType models.PlatformType `json:"platformType" binding:"required"`
	DisplayName  string              `json:"displayName" binding:"required"`

	AccessToken   string `json:"accessToken" binding:"required"`
	ShopDomain    string `json:"shopDomain,omitempty"`
	MerchantID    string `json:"merchantId,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// Create authorizes and persists a new connection. Credentials are verified
// against the platform before anything is stored.
func (s *ConnectionService) Create(ctx context.Context, userID string, req *CreateConnectionRequest) (*models.PlatformConnection, error) {
	if !s.registry.Supported(req.PlatformType) {
		return nil, syncerr.New(syncerr.KindConfig, "unsupported platform %q", req.PlatformType)
	}

	conn := &models.PlatformConnection{
		ID:           uuid.New(),
		UserID:       userID,
		PlatformType: req.PlatformType,
		DisplayName:  req.DisplayName,
		Status:       models.ConnectionConnecting,
		IsEnabled:    true,
		PlatformData: models.JSONB{},
	}
	if req.ShopDomain != "" {
		conn.PlatformData[models.DataKeyShop] = req.ShopDomain
	}
	if req.MerchantID != "" {
		conn.PlatformData[models.DataKeyMerchantID] = req.MerchantID
	}

	creds := &secrets.Credentials{
		AccessToken:   req.AccessToken,
		ShopDomain:    req.ShopDomain,
		MerchantID:    req.MerchantID,
		WebhookSecret: req.WebhookSecret,
	}

	adapter, err := s.registry.New(conn, creds)
	if err != nil {
		return nil, err
	}
	if err := adapter.TestConnection(ctx); err != nil {
		return nil, err
	}

	if err := s.vault.Store(ctx, conn, creds); err != nil {
		return nil, err
	}
	if err := s.connRepo.Create(ctx, conn); err != nil {
		return nil, err
	}

	s.log.Info("connection authorized",
		zap.String("connection_id", conn.ID.String()),
		zap.String("platform", string(conn.PlatformType)))
	return conn, nil
}

// List returns the user's connections.
func (s *ConnectionService) List(ctx context.Context, userID string) ([]models.PlatformConnection, error) {
	return s.connRepo.ListByUser(ctx, userID)
}

// Get loads one connection, enforcing ownership.
func (s *ConnectionService) Get(ctx context.Context, userID string, id uuid.UUID) (*models.PlatformConnection, error) {
	return s.connRepo.GetByID(ctx, id, userID)
}

// SetEnabled toggles outbound pushes and webhook processing for a connection.
func (s *ConnectionService) SetEnabled(ctx context.Context, userID string, id uuid.UUID, enabled bool) error {
	if _, err := s.connRepo.GetByID(ctx, id, userID); err != nil {
		return err
	}
	return s.connRepo.SetEnabled(ctx, id, enabled)
}

// Disconnect tears a connection down: status to DISCONNECTED, disabled,
// mappings and per-connection inventory removed, credentials deleted. The
// canonical catalog is untouched.
func (s *ConnectionService) Disconnect(ctx context.Context, userID string, id uuid.UUID) error {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return err
	}

	if conn.Status != models.ConnectionDisconnected {
		if err := s.connRepo.UpdateStatus(ctx, id, conn.Status, models.ConnectionDisconnected); err != nil {
			return err
		}
	}
	if err := s.connRepo.SetEnabled(ctx, id, false); err != nil {
		return err
	}
	if err := s.mappingRepo.DeleteByConnection(ctx, id); err != nil {
		return err
	}
	if err := s.inventoryRepo.DeleteByConnection(ctx, id); err != nil {
		return err
	}
	if err := s.vault.Delete(ctx, conn); err != nil {
		s.log.Warn("failed to delete stored credentials",
			zap.String("connection_id", id.String()),
			zap.Error(err))
	}
	// The vault mutates the in-memory row; the stored columns go too.
	if err := s.connRepo.ClearCredentials(ctx, id); err != nil {
		return err
	}

	s.log.Info("connection disconnected", zap.String("connection_id", id.String()))
	return nil
}

// StartScan validates the connection is scannable and enqueues an initial
// scan. Repeated calls while a scan is queued return the same job.
func (s *ConnectionService) StartScan(ctx context.Context, userID string, id uuid.UUID) (*models.SyncQueueJob, error) {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if conn.Status.IsBusy() {
		return nil, syncerr.New(syncerr.KindInternal, "connection %s is busy (%s)", id, conn.Status)
	}
	if !models.CanTransition(conn.Status, models.ConnectionScanning) {
		return nil, syncerr.New(syncerr.KindInternal, "connection %s cannot be scanned from %s", id, conn.Status)
	}

	payload, err := encodePayload(ScanJobPayload{ConnectionID: id, UserID: userID})
	if err != nil {
		return nil, err
	}
	dedupKey := fmt.Sprintf("scan-%s", id)
	return s.queues.Enqueue(ctx, models.QueueInitialScan, "initial-scan", userID, payload, &dedupKey)
}

// ActivateSync enqueues a reconciliation run for a SYNCING connection.
func (s *ConnectionService) ActivateSync(ctx context.Context, userID string, id uuid.UUID) (*models.SyncQueueJob, error) {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(conn.Status, models.ConnectionReconciling) {
		return nil, syncerr.New(syncerr.KindInternal, "connection %s cannot reconcile from %s", id, conn.Status)
	}

	payload, err := encodePayload(ScanJobPayload{ConnectionID: id, UserID: userID})
	if err != nil {
		return nil, err
	}
	dedupKey := fmt.Sprintf("reconcile-%s", id)
	return s.queues.Enqueue(ctx, models.QueueReconciliation, "reconciliation", userID, payload, &dedupKey)
}

// ScanSummary returns the counts computed by the last scan.
func (s *ConnectionService) ScanSummary(ctx context.Context, userID string, id uuid.UUID) (*models.ScanSummary, error) {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	raw, ok := conn.PlatformData[models.DataKeyScanSummary]
	if !ok {
		return nil, syncerr.New(syncerr.KindNotFound, "connection %s has no scan summary", id)
	}
	var summary models.ScanSummary
	if err := remarshal(raw, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// MappingSuggestions returns the suggestions from the last scan or
// reconciliation.
func (s *ConnectionService) MappingSuggestions(ctx context.Context, userID string, id uuid.UUID) ([]models.MappingSuggestion, error) {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	raw, ok := conn.PlatformData[models.DataKeyMappingSuggestions]
	if !ok {
		return []models.MappingSuggestion{}, nil
	}
	var suggestions []models.MappingSuggestion
	if err := remarshal(raw, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

// ConfirmMappings persists the user's accepted suggestions as mapping rows
// and flips the connection into SYNCING.
func (s *ConnectionService) ConfirmMappings(ctx context.Context, userID string, id uuid.UUID, accepted []models.MappingSuggestion) error {
	conn, err := s.connRepo.GetByID(ctx, id, userID)
	if err != nil {
		return err
	}
	if conn.Status != models.ConnectionNeedsReview {
		return syncerr.New(syncerr.KindInternal, "connection %s is not awaiting review (%s)", id, conn.Status)
	}

	for _, choice := range accepted {
		variantID, err := uuid.Parse(choice.ProductVariantID)
		if err != nil {
			return syncerr.New(syncerr.KindInternal, "invalid variant id %q in confirmation", choice.ProductVariantID)
		}
		variant, err := s.productRepo.GetVariant(ctx, variantID, userID)
		if err != nil {
			return err
		}

		platformVariantID := choice.PlatformVariantID
		row := &models.PlatformProductMapping{
			PlatformConnectionID: id,
			ProductVariantID:     variant.ID,
			PlatformProductID:    choice.PlatformProductID,
			PlatformVariantID:    &platformVariantID,
			PlatformSKU:          variant.SKU,
			SyncStatus:           models.MappingSyncPending,
		}
		if err := s.mappingRepo.Upsert(ctx, row); err != nil {
			return err
		}
	}

	if err := s.connRepo.UpdateStatus(ctx, id, models.ConnectionNeedsReview, models.ConnectionSyncing); err != nil {
		return err
	}
	if err := s.connRepo.PatchData(ctx, id, map[string]interface{}{
		models.DataKeyMappingSuggestions: []models.MappingSuggestion{},
	}); err != nil {
		return err
	}

	s.activity.Record(ctx, userID, &id, "MAPPINGS_CONFIRMED", models.ActivitySuccess,
		"Mappings confirmed; sync active", models.JSONB{"confirmed": len(accepted)})
	return nil
}
