package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-sync-service/internal/mapping"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// Push job types on the push-operations queue.
const (
	JobProductCreate   = "product-create"
	JobProductUpdate   = "product-update"
	JobProductDelete   = "product-delete"
	JobInventoryUpdate = "inventory-update"
)

// PushJobPayload is the payload of push-operations jobs. OriginConnectionID
// suppresses echoes on webhook-driven fan-out: the connection the change came
// from is never pushed back to.
type PushJobPayload struct {
	ProductID *uuid.UUID `json:"productId,omitempty"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	// VariantIDs snapshots the product's variants for delete jobs, since the
	// canonical rows may be gone by execution time.
	VariantIDs         []uuid.UUID `json:"variantIds,omitempty"`
	UserID             string      `json:"userId"`
	OriginConnectionID *uuid.UUID  `json:"originConnectionId,omitempty"`
}

// PushService fans canonical changes out to every linked, enabled connection
// and owns the mapping row lifecycle. Every Execute* is at-least-once under
// queue retry; idempotency comes from upserts on unique keys, absolute-set
// inventory, and delete treating missing-on-platform as success.
type PushService struct {
	connRepo      *repository.ConnectionRepository
	productRepo   *repository.ProductRepository
	inventoryRepo *repository.InventoryRepository
	mappingRepo   *repository.MappingRepository
	activity      *ActivityService
	vault         secrets.Vault
	registry      *platform.Registry
	queues        *queue.Manager
	log           *zap.Logger
}

// NewPushService creates a new push service
func NewPushService(
	connRepo *repository.ConnectionRepository,
	productRepo *repository.ProductRepository,
	inventoryRepo *repository.InventoryRepository,
	mappingRepo *repository.MappingRepository,
	activity *ActivityService,
	vault secrets.Vault,
	registry *platform.Registry,
	queues *queue.Manager,
	log *zap.Logger,
) *PushService {
	return &PushService{
		connRepo:      connRepo,
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		mappingRepo:   mappingRepo,
		activity:      activity,
		vault:         vault,
		registry:      registry,
		queues:        queues,
		log:           log.Named("push"),
	}
}

// QueueProductCreate enqueues a create push for a product.
func (s *PushService) QueueProductCreate(ctx context.Context, productID uuid.UUID, userID string, origin *uuid.UUID) (*models.SyncQueueJob, error) {
	return s.enqueue(ctx, JobProductCreate, fmt.Sprintf("create-%s", productID), PushJobPayload{
		ProductID:          &productID,
		UserID:             userID,
		OriginConnectionID: origin,
	})
}

// QueueProductUpdate enqueues an update push for a product.
func (s *PushService) QueueProductUpdate(ctx context.Context, productID uuid.UUID, userID string, origin *uuid.UUID) (*models.SyncQueueJob, error) {
	return s.enqueue(ctx, JobProductUpdate, fmt.Sprintf("update-%s", productID), PushJobPayload{
		ProductID:          &productID,
		UserID:             userID,
		OriginConnectionID: origin,
	})
}

// QueueProductDelete enqueues a delete push, snapshotting the product's
// variant ids so mappings stay reachable after canonical deletion.
func (s *PushService) QueueProductDelete(ctx context.Context, productID uuid.UUID, userID string, variantIDs []uuid.UUID, origin *uuid.UUID) (*models.SyncQueueJob, error) {
	return s.enqueue(ctx, JobProductDelete, fmt.Sprintf("delete-%s", productID), PushJobPayload{
		ProductID:          &productID,
		VariantIDs:         variantIDs,
		UserID:             userID,
		OriginConnectionID: origin,
	})
}

// QueueProductDeleteByID snapshots the product's current variants and
// enqueues the delete. Callers that already hold the variant ids use
// QueueProductDelete directly.
func (s *PushService) QueueProductDeleteByID(ctx context.Context, productID uuid.UUID, userID string, origin *uuid.UUID) (*models.SyncQueueJob, error) {
	product, err := s.productRepo.GetProduct(ctx, productID, userID)
	if err != nil {
		return nil, err
	}
	return s.QueueProductDelete(ctx, productID, userID, variantIDsOf(product.Variants), origin)
}

// QueueInventoryUpdate enqueues an inventory push for a variant.
func (s *PushService) QueueInventoryUpdate(ctx context.Context, variantID uuid.UUID, userID string, origin *uuid.UUID) (*models.SyncQueueJob, error) {
	return s.enqueue(ctx, JobInventoryUpdate, fmt.Sprintf("inventory-%s", variantID), PushJobPayload{
		VariantID:          &variantID,
		UserID:             userID,
		OriginConnectionID: origin,
	})
}

func (s *PushService) enqueue(ctx context.Context, jobType, dedupKey string, payload PushJobPayload) (*models.SyncQueueJob, error) {
	encoded, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return s.queues.Enqueue(ctx, models.QueuePushOperations, jobType, payload.UserID, encoded, &dedupKey)
}

// HandlePush is the push-operations queue handler.
func (s *PushService) HandlePush(ctx context.Context, job *queue.Job) error {
	var payload PushJobPayload
	if err := decodePayload(job.Payload(), &payload); err != nil {
		return err
	}

	switch job.Model.JobType {
	case JobProductCreate:
		if payload.ProductID == nil {
			return syncerr.New(syncerr.KindInternal, "product create job without product id")
		}
		return s.ExecuteProductCreate(ctx, *payload.ProductID, payload.UserID, payload.OriginConnectionID)
	case JobProductUpdate:
		if payload.ProductID == nil {
			return syncerr.New(syncerr.KindInternal, "product update job without product id")
		}
		return s.ExecuteProductUpdate(ctx, *payload.ProductID, payload.UserID, payload.OriginConnectionID)
	case JobProductDelete:
		if payload.ProductID == nil {
			return syncerr.New(syncerr.KindInternal, "product delete job without product id")
		}
		return s.ExecuteProductDelete(ctx, *payload.ProductID, payload.UserID, payload.VariantIDs, payload.OriginConnectionID)
	case JobInventoryUpdate:
		if payload.VariantID == nil {
			return syncerr.New(syncerr.KindInternal, "inventory update job without variant id")
		}
		return s.ExecuteInventoryUpdate(ctx, *payload.VariantID, payload.UserID, payload.OriginConnectionID)
	default:
		return syncerr.New(syncerr.KindInternal, "unknown push job type %q", job.Model.JobType)
	}
}

// ExecuteProductCreate creates the product on every eligible connection that
// does not already carry a mapping for it, then records the returned variant
// id pairs as mapping rows.
func (s *PushService) ExecuteProductCreate(ctx context.Context, productID uuid.UUID, userID string, origin *uuid.UUID) error {
	product, err := s.productRepo.GetProduct(ctx, productID, userID)
	if err != nil {
		return err
	}
	if len(product.Variants) == 0 {
		s.log.Warn("product has no variants, nothing to push",
			zap.String("product_id", productID.String()))
		s.activity.Record(ctx, userID, nil, OpProductPushCreatedSkipped, models.ActivityWarning,
			"Product has no variants; create push skipped",
			models.JSONB{"productId": productID.String()})
		return nil
	}

	variantIDs := variantIDsOf(product.Variants)
	images, err := s.productRepo.ListImagesByVariants(ctx, variantIDs)
	if err != nil {
		return err
	}

	conns, err := s.connRepo.ListEnabledByUser(ctx, userID)
	if err != nil {
		return err
	}

	var retryErr error
	for i := range conns {
		conn := &conns[i]
		if skip, reason := s.skipConnection(conn, origin); skip {
			s.log.Debug("skipping connection for create push",
				zap.String("connection_id", conn.ID.String()),
				zap.String("reason", reason))
			continue
		}

		// At-least-once: a retry after partial success must not re-create on
		// connections that already hold mappings.
		existing, err := s.mappingRepo.ListByVariants(ctx, conn.ID, variantIDs)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		if err := s.createOnConnection(ctx, conn, product, images); err != nil {
			if syncerr.Retryable(err) && retryErr == nil {
				retryErr = err
			}
		}
	}
	return retryErr
}

func (s *PushService) createOnConnection(ctx context.Context, conn *models.PlatformConnection, product *models.Product, images map[string][]models.ProductImage) error {
	adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
	if err != nil {
		s.recordPushFailure(ctx, conn, product.UserID, OpProductPushCreatedFailed, product.ID.String(), err)
		return err
	}

	locations, err := adapter.ListLocations(ctx)
	if err != nil {
		s.recordPushFailure(ctx, conn, product.UserID, OpProductPushCreatedFailed, product.ID.String(), err)
		return err
	}
	targetLocations := make([]string, 0, len(locations))
	for _, l := range locations {
		targetLocations = append(targetLocations, l.ID)
	}

	levels, err := s.inventoryRepo.ListByVariants(ctx, variantIDsOf(product.Variants), &conn.ID)
	if err != nil {
		return err
	}

	input, dropped := mapping.ToPlatformInput(mapping.BuildInput{
		Product:         product,
		Variants:        product.Variants,
		Images:          images,
		Levels:          levels,
		TargetLocations: targetLocations,
		Create:          true,
	})
	for _, d := range dropped {
		s.log.Warn("variant excluded from create push",
			zap.String("connection_id", conn.ID.String()),
			zap.String("variant_id", d.VariantID),
			zap.String("reason", d.Reason))
	}
	if len(input.Variants) == 0 {
		s.activity.Record(ctx, product.UserID, &conn.ID, OpProductPushCreatedSkipped, models.ActivityWarning,
			"All variants lack SKUs; create push skipped",
			models.JSONB{"productId": product.ID.String()})
		return nil
	}

	_ = s.connRepo.StampSyncAttempt(ctx, conn.ID)

	result, err := adapter.CreateProduct(ctx, input)
	if err != nil {
		s.recordPushFailure(ctx, conn, product.UserID, OpProductPushCreatedFailed, product.ID.String(), err)
		return err
	}

	skuByVariant := make(map[string]*string)
	for _, v := range product.Variants {
		skuByVariant[v.ID.String()] = v.SKU
	}
	for _, in := range input.Variants {
		platformVariantID, ok := result.VariantIDs[in.CanonicalVariantID]
		if !ok {
			s.log.Warn("platform did not return a variant id",
				zap.String("connection_id", conn.ID.String()),
				zap.String("variant_id", in.CanonicalVariantID))
			continue
		}
		variantID, err := uuid.Parse(in.CanonicalVariantID)
		if err != nil {
			continue
		}
		row := &models.PlatformProductMapping{
			PlatformConnectionID: conn.ID,
			ProductVariantID:     variantID,
			PlatformProductID:    result.PlatformProductID,
			PlatformVariantID:    &platformVariantID,
			PlatformSKU:          skuByVariant[in.CanonicalVariantID],
			SyncStatus:           models.MappingSyncSuccess,
		}
		if err := s.mappingRepo.Upsert(ctx, row); err != nil {
			return err
		}
		_ = s.mappingRepo.MarkSynced(ctx, row.ID)
	}

	_ = s.connRepo.StampSyncSuccess(ctx, conn.ID)
	s.activity.Record(ctx, product.UserID, &conn.ID, OpProductPushCreatedSuccess, models.ActivitySuccess,
		"Product created on platform", models.JSONB{
			"productId":         product.ID.String(),
			"platformProductId": result.PlatformProductID,
		})
	return nil
}

// ExecuteProductUpdate updates the product on every eligible connection that
// already maps it. Unmapped connections are skipped, never implicitly created:
// create and update carry different business meaning.
func (s *PushService) ExecuteProductUpdate(ctx context.Context, productID uuid.UUID, userID string, origin *uuid.UUID) error {
	product, err := s.productRepo.GetProduct(ctx, productID, userID)
	if err != nil {
		return err
	}
	variantIDs := variantIDsOf(product.Variants)
	images, err := s.productRepo.ListImagesByVariants(ctx, variantIDs)
	if err != nil {
		return err
	}

	conns, err := s.connRepo.ListEnabledByUser(ctx, userID)
	if err != nil {
		return err
	}

	var retryErr error
	for i := range conns {
		conn := &conns[i]
		if skip, reason := s.skipConnection(conn, origin); skip {
			s.log.Debug("skipping connection for update push",
				zap.String("connection_id", conn.ID.String()),
				zap.String("reason", reason))
			continue
		}

		mappings, err := s.mappingRepo.ListByVariants(ctx, conn.ID, variantIDs)
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			s.log.Warn("no mapping for product on connection, update skipped",
				zap.String("connection_id", conn.ID.String()),
				zap.String("product_id", productID.String()))
			s.activity.Record(ctx, userID, &conn.ID, OpProductPushUpdatedSkipped, models.ActivityWarning,
				"Product is not mapped on this connection; update skipped",
				models.JSONB{"productId": productID.String()})
			continue
		}

		if err := s.updateOnConnection(ctx, conn, product, images, mappings); err != nil {
			if syncerr.Retryable(err) && retryErr == nil {
				retryErr = err
			}
		}
	}
	return retryErr
}

func (s *PushService) updateOnConnection(ctx context.Context, conn *models.PlatformConnection, product *models.Product, images map[string][]models.ProductImage, mappings []models.PlatformProductMapping) error {
	adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
	if err != nil {
		s.recordPushFailure(ctx, conn, product.UserID, OpProductPushUpdatedFailed, product.ID.String(), err)
		return err
	}

	existingIDs := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.PlatformVariantID != nil {
			existingIDs[m.ProductVariantID.String()] = *m.PlatformVariantID
		}
	}

	levels, err := s.inventoryRepo.ListByVariants(ctx, variantIDsOf(product.Variants), &conn.ID)
	if err != nil {
		return err
	}

	input, dropped := mapping.ToPlatformInput(mapping.BuildInput{
		Product:            product,
		Variants:           product.Variants,
		Images:             images,
		Levels:             levels,
		ExistingVariantIDs: existingIDs,
		Create:             false,
	})
	for _, d := range dropped {
		s.log.Warn("variant excluded from update push",
			zap.String("connection_id", conn.ID.String()),
			zap.String("variant_id", d.VariantID),
			zap.String("reason", d.Reason))
	}

	_ = s.connRepo.StampSyncAttempt(ctx, conn.ID)

	if err := adapter.UpdateProduct(ctx, mappings[0].PlatformProductID, input); err != nil {
		for _, m := range mappings {
			_ = s.mappingRepo.MarkError(ctx, m.ID, err.Error())
		}
		s.recordPushFailure(ctx, conn, product.UserID, OpProductPushUpdatedFailed, product.ID.String(), err)
		return err
	}

	for _, m := range mappings {
		_ = s.mappingRepo.MarkSynced(ctx, m.ID)
	}
	_ = s.connRepo.StampSyncSuccess(ctx, conn.ID)
	s.activity.Record(ctx, product.UserID, &conn.ID, OpProductPushUpdatedSuccess, models.ActivitySuccess,
		"Product updated on platform", models.JSONB{
			"productId":         product.ID.String(),
			"platformProductId": mappings[0].PlatformProductID,
		})
	return nil
}

// ExecuteProductDelete removes the platform products mapped to the given
// variants, one delete per distinct platform product per connection, and
// drops the mapping rows that succeeded. A single mapping failure never
// poisons the connection status.
func (s *PushService) ExecuteProductDelete(ctx context.Context, productID uuid.UUID, userID string, variantIDs []uuid.UUID, origin *uuid.UUID) error {
	conns, err := s.connRepo.ListEnabledByUser(ctx, userID)
	if err != nil {
		return err
	}

	var retryErr error
	for i := range conns {
		conn := &conns[i]
		if skip, reason := s.skipConnection(conn, origin); skip {
			s.log.Debug("skipping connection for delete push",
				zap.String("connection_id", conn.ID.String()),
				zap.String("reason", reason))
			continue
		}

		mappings, err := s.mappingRepo.ListByVariants(ctx, conn.ID, variantIDs)
		if err != nil {
			return err
		}
		if len(mappings) == 0 {
			continue
		}

		adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
		if err != nil {
			s.recordPushFailure(ctx, conn, userID, OpProductPushDeletedFailed, productID.String(), err)
			if syncerr.Retryable(err) && retryErr == nil {
				retryErr = err
			}
			continue
		}

		byPlatformProduct := make(map[string][]models.PlatformProductMapping)
		for _, m := range mappings {
			byPlatformProduct[m.PlatformProductID] = append(byPlatformProduct[m.PlatformProductID], m)
		}

		for platformProductID, group := range byPlatformProduct {
			if err := adapter.DeleteProduct(ctx, platformProductID); err != nil {
				s.log.Warn("platform delete failed",
					zap.String("connection_id", conn.ID.String()),
					zap.String("platform_product_id", platformProductID),
					zap.Error(err))
				for _, m := range group {
					_ = s.mappingRepo.MarkError(ctx, m.ID, err.Error())
				}
				s.activity.Record(ctx, userID, &conn.ID, OpProductPushDeletedFailed, models.ActivityError,
					"Product delete failed on platform", models.JSONB{
						"productId":         productID.String(),
						"platformProductId": platformProductID,
						"error":             err.Error(),
					})
				if syncerr.Retryable(err) && retryErr == nil {
					retryErr = err
				}
				continue
			}
			for _, m := range group {
				if err := s.mappingRepo.Delete(ctx, m.ID); err != nil {
					return err
				}
			}
			s.activity.Record(ctx, userID, &conn.ID, OpProductPushDeletedSuccess, models.ActivitySuccess,
				"Product deleted on platform", models.JSONB{
					"productId":         productID.String(),
					"platformProductId": platformProductID,
				})
		}
	}
	return retryErr
}

// ExecuteInventoryUpdate pushes the variant's canonical levels to every
// eligible connection holding a mapping with a platform variant id, one
// absolute-set call per connection.
func (s *PushService) ExecuteInventoryUpdate(ctx context.Context, variantID uuid.UUID, userID string, origin *uuid.UUID) error {
	if _, err := s.productRepo.GetVariant(ctx, variantID, userID); err != nil {
		return err
	}

	levels, err := s.inventoryRepo.ListByVariant(ctx, variantID)
	if err != nil {
		return err
	}

	conns, err := s.connRepo.ListEnabledByUser(ctx, userID)
	if err != nil {
		return err
	}

	var retryErr error
	for i := range conns {
		conn := &conns[i]
		if skip, reason := s.skipConnection(conn, origin); skip {
			s.log.Debug("skipping connection for inventory push",
				zap.String("connection_id", conn.ID.String()),
				zap.String("reason", reason))
			continue
		}

		m, err := s.mappingRepo.GetByVariant(ctx, conn.ID, variantID)
		if err != nil || m.PlatformVariantID == nil {
			s.log.Warn("no mapping for variant on connection, inventory push skipped",
				zap.String("connection_id", conn.ID.String()),
				zap.String("variant_id", variantID.String()))
			s.activity.Record(ctx, userID, &conn.ID, OpInventoryPushSkipped, models.ActivityWarning,
				"Variant is not mapped on this connection; inventory push skipped",
				models.JSONB{"variantId": variantID.String()})
			continue
		}

		var updates []platform.InventoryUpdate
		for _, lvl := range levels {
			if lvl.PlatformConnectionID != conn.ID {
				continue
			}
			updates = append(updates, platform.InventoryUpdate{
				PlatformVariantID: *m.PlatformVariantID,
				LocationID:        lvl.PlatformLocationID,
				Quantity:          lvl.Quantity,
			})
		}
		if len(updates) == 0 {
			continue
		}

		adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
		if err != nil {
			s.recordPushFailure(ctx, conn, userID, OpInventoryPushFailed, variantID.String(), err)
			if syncerr.Retryable(err) && retryErr == nil {
				retryErr = err
			}
			continue
		}

		if err := adapter.SetInventory(ctx, updates); err != nil {
			_ = s.mappingRepo.MarkError(ctx, m.ID, err.Error())
			s.recordPushFailure(ctx, conn, userID, OpInventoryPushFailed, variantID.String(), err)
			if syncerr.Retryable(err) && retryErr == nil {
				retryErr = err
			}
			continue
		}

		_ = s.mappingRepo.MarkSynced(ctx, m.ID)
		_ = s.connRepo.StampSyncSuccess(ctx, conn.ID)
		s.activity.Record(ctx, userID, &conn.ID, OpInventoryPushSuccess, models.ActivitySuccess,
			"Inventory pushed to platform", models.JSONB{
				"variantId": variantID.String(),
				"levels":    len(updates),
			})
	}
	return retryErr
}

// skipConnection applies the per-connection eligibility gates shared by every
// Execute*: origin suppression, the enabled flag, and busy pipeline states.
func (s *PushService) skipConnection(conn *models.PlatformConnection, origin *uuid.UUID) (bool, string) {
	if origin != nil && conn.ID == *origin {
		return true, "origin connection"
	}
	if !conn.IsEnabled {
		return true, "connection disabled"
	}
	if conn.Status == models.ConnectionConnecting {
		return true, "connection not yet scanned"
	}
	if conn.Status.IsBusy() {
		return true, "connection busy"
	}
	return false, ""
}

// recordPushFailure classifies a platform failure: auth and transient errors
// flip the connection to ERROR, everything gets an activity entry.
func (s *PushService) recordPushFailure(ctx context.Context, conn *models.PlatformConnection, userID, operation, entityID string, err error) {
	kind := syncerr.KindOf(err)
	if kind == syncerr.KindPlatformAuth || kind == syncerr.KindPlatformTransient {
		if dbErr := s.connRepo.SetError(ctx, conn.ID, err.Error()); dbErr != nil {
			s.log.Error("failed to record connection error", zap.Error(dbErr))
		}
	}
	s.activity.Record(ctx, userID, &conn.ID, operation, models.ActivityError,
		err.Error(), models.JSONB{"entityId": entityID, "kind": string(kind)})
}

func variantIDsOf(variants []models.ProductVariant) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(variants))
	for _, v := range variants {
		ids = append(ids, v.ID)
	}
	return ids
}
