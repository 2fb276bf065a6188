package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"catalog-sync-service/internal/mapping"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// JobWebhookEvent is the job type on the webhook-processing queue.
const JobWebhookEvent = "webhook-event"

// WebhookJobPayload points a processing job at its persisted event row.
type WebhookJobPayload struct {
	WebhookEventID uuid.UUID `json:"webhookEventId"`
	ConnectionID   uuid.UUID `json:"connectionId"`
	UserID         string    `json:"userId"`
}

// webhookEventPayload is the normalized message stored on the event row.
type webhookEventPayload struct {
	EventType         string     `json:"eventType"`
	EventID           string     `json:"eventId"`
	PlatformProductID string     `json:"platformProductId,omitempty"`
	PlatformVariantID string     `json:"platformVariantId,omitempty"`
	InventoryItemID   string     `json:"inventoryItemId,omitempty"`
	LocationID        string     `json:"locationId,omitempty"`
	Quantity          *int       `json:"quantity,omitempty"`
	OccurredAt        *time.Time `json:"occurredAt,omitempty"`
}

// locatorEntry caches a webhook locator resolution.
type locatorEntry struct {
	ConnectionID uuid.UUID
	UserID       string
}

// WebhookService is both halves of the inbound path: the synchronous ingest
// (verify, locate, persist, ACK) and the asynchronous processor that applies
// events to the canonical store and fans changes out with origin suppression.
type WebhookService struct {
	connRepo      *repository.ConnectionRepository
	productRepo   *repository.ProductRepository
	inventoryRepo *repository.InventoryRepository
	mappingRepo   *repository.MappingRepository
	webhookRepo   *repository.WebhookRepository
	activity      *ActivityService
	vault         secrets.Vault
	registry      *platform.Registry
	queues        *queue.Manager
	push          *PushService
	idempotency   IdempotencyStore
	codecs        map[models.PlatformType]platform.WebhookCodec
	// locator caches platform-locator -> connection resolutions; entries are
	// short-lived so disable/delete is observed quickly.
	locator *cache.Cache
	log     *zap.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	connRepo *repository.ConnectionRepository,
	productRepo *repository.ProductRepository,
	inventoryRepo *repository.InventoryRepository,
	mappingRepo *repository.MappingRepository,
	webhookRepo *repository.WebhookRepository,
	activity *ActivityService,
	vault secrets.Vault,
	registry *platform.Registry,
	queues *queue.Manager,
	push *PushService,
	idempotency IdempotencyStore,
	codecs map[models.PlatformType]platform.WebhookCodec,
	log *zap.Logger,
) *WebhookService {
	return &WebhookService{
		connRepo:      connRepo,
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		mappingRepo:   mappingRepo,
		webhookRepo:   webhookRepo,
		activity:      activity,
		vault:         vault,
		registry:      registry,
		queues:        queues,
		push:          push,
		idempotency:   idempotency,
		codecs:        codecs,
		locator:       cache.New(2*time.Minute, 5*time.Minute),
		log:           log.Named("webhook"),
	}
}

// Ingest handles one raw webhook delivery and returns the HTTP status to
// answer with: 200 accepted (or deliberately dropped), 400 malformed or
// unroutable, 401 signature rejected. Processing is asynchronous; the response
// never reflects downstream success.
func (s *WebhookService) Ingest(ctx context.Context, platformType models.PlatformType, body []byte, headers http.Header) (int, error) {
	codec, ok := s.codecs[platformType]
	if !ok {
		return http.StatusBadRequest, syncerr.New(syncerr.KindNotFound, "unknown platform %q", platformType)
	}

	if err := codec.VerifyWebhook(body, headers); err != nil {
		return http.StatusUnauthorized, err
	}

	msg, err := codec.ParseWebhook(body, headers)
	if err != nil {
		return http.StatusBadRequest, err
	}

	conn, err := s.locateConnection(ctx, platformType, msg)
	if err != nil {
		return http.StatusBadRequest, err
	}
	if !conn.IsEnabled {
		s.log.Debug("webhook for disabled connection dropped",
			zap.String("connection_id", conn.ID.String()))
		return http.StatusOK, nil
	}

	idempotencyKey := fmt.Sprintf("%s-%s", platformType, msg.EventID)
	if fresh, err := s.idempotency.MarkIfNew(ctx, idempotencyKey); err == nil && !fresh {
		return http.StatusOK, nil
	}

	if err := s.persistAndEnqueue(ctx, conn, platformType, idempotencyKey, msg); err != nil {
		// The key was marked before the event was durably stored; release it
		// so the platform's retry of this delivery is not dropped.
		if ferr := s.idempotency.Forget(ctx, idempotencyKey); ferr != nil {
			s.log.Warn("failed to release idempotency key",
				zap.String("key", idempotencyKey), zap.Error(ferr))
		}
		return http.StatusInternalServerError, err
	}
	return http.StatusOK, nil
}

// persistAndEnqueue stores the event row and schedules its processing job. The
// unique index on the idempotency key is the durable duplicate gate.
func (s *WebhookService) persistAndEnqueue(ctx context.Context, conn *models.PlatformConnection, platformType models.PlatformType, idempotencyKey string, msg *platform.WebhookMessage) error {
	payload, err := encodePayload(webhookEventPayload{
		EventType:         string(msg.EventType),
		EventID:           msg.EventID,
		PlatformProductID: msg.PlatformProductID,
		PlatformVariantID: msg.PlatformVariantID,
		InventoryItemID:   msg.InventoryItemID,
		LocationID:        msg.LocationID,
		Quantity:          msg.Quantity,
		OccurredAt:        occurredAtOf(msg),
	})
	if err != nil {
		return err
	}

	event := &models.WebhookEvent{
		PlatformConnectionID: conn.ID,
		PlatformType:         platformType,
		EventType:            string(msg.EventType),
		IdempotencyKey:       idempotencyKey,
		Payload:              payload,
	}
	created, err := s.webhookRepo.Insert(ctx, event)
	if err != nil {
		return err
	}
	if !created {
		// Seen before; ACK and drop.
		return nil
	}

	jobPayload, err := encodePayload(WebhookJobPayload{
		WebhookEventID: event.ID,
		ConnectionID:   conn.ID,
		UserID:         conn.UserID,
	})
	if err != nil {
		return err
	}
	_, err = s.queues.Enqueue(ctx, models.QueueWebhooks, JobWebhookEvent, conn.UserID, jobPayload, nil)
	return err
}

// locateConnection resolves the owning connection from the platform locator:
// shop domain for Shopify, merchant id for Square and Clover. Multiple matches
// take the oldest with a warning.
func (s *WebhookService) locateConnection(ctx context.Context, platformType models.PlatformType, msg *platform.WebhookMessage) (*models.PlatformConnection, error) {
	locatorValue := msg.ShopDomain
	if locatorValue == "" {
		locatorValue = msg.MerchantID
	}
	if locatorValue == "" {
		return nil, syncerr.New(syncerr.KindNotFound, "webhook carries no connection locator")
	}

	cacheKey := string(platformType) + "|" + locatorValue
	if cached, ok := s.locator.Get(cacheKey); ok {
		entry := cached.(locatorEntry)
		if conn, err := s.connRepo.GetByID(ctx, entry.ConnectionID, entry.UserID); err == nil {
			return conn, nil
		}
		s.locator.Delete(cacheKey)
	}

	var matches []models.PlatformConnection
	var err error
	if msg.ShopDomain != "" {
		matches, err = s.connRepo.FindByShopDomain(ctx, platformType, msg.ShopDomain)
	} else {
		matches, err = s.connRepo.FindByMerchantID(ctx, platformType, msg.MerchantID)
	}
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, syncerr.New(syncerr.KindNotFound, "no connection for locator %q", locatorValue)
	}
	if len(matches) > 1 {
		s.log.Warn("multiple connections match webhook locator, picking oldest",
			zap.String("platform", string(platformType)),
			zap.String("locator", locatorValue),
			zap.Int("matches", len(matches)))
	}

	conn := matches[0]
	s.locator.Set(cacheKey, locatorEntry{ConnectionID: conn.ID, UserID: conn.UserID}, cache.DefaultExpiration)
	return &conn, nil
}

// HandleEvent is the webhook-processing queue handler.
func (s *WebhookService) HandleEvent(ctx context.Context, job *queue.Job) error {
	var jobPayload WebhookJobPayload
	if err := decodePayload(job.Payload(), &jobPayload); err != nil {
		return err
	}

	event, err := s.webhookRepo.Get(ctx, jobPayload.WebhookEventID)
	if err != nil {
		return err
	}
	if event.Status == models.WebhookProcessed || event.Status == models.WebhookSkipped {
		return nil
	}

	conn, err := s.connRepo.GetByID(ctx, jobPayload.ConnectionID, jobPayload.UserID)
	if err != nil {
		return err
	}

	var payload webhookEventPayload
	if err := decodePayload(event.Payload, &payload); err != nil {
		return err
	}

	status, err := s.applyEvent(ctx, conn, &payload)
	if err != nil {
		_ = s.webhookRepo.MarkProcessed(ctx, event.ID, models.WebhookFailed, err.Error())
		s.activity.Record(ctx, conn.UserID, &conn.ID, OpWebhookProcessingFailed, models.ActivityError,
			err.Error(), models.JSONB{"eventType": payload.EventType})
		return err
	}
	return s.webhookRepo.MarkProcessed(ctx, event.ID, status, "")
}

func (s *WebhookService) applyEvent(ctx context.Context, conn *models.PlatformConnection, payload *webhookEventPayload) (models.WebhookEventStatus, error) {
	switch platform.EventType(payload.EventType) {
	case platform.EventProductCreated, platform.EventProductUpdated:
		return s.applyProductUpsert(ctx, conn, payload)
	case platform.EventProductDeleted:
		return s.applyProductDelete(ctx, conn, payload)
	case platform.EventInventoryChanged:
		return s.applyInventoryChange(ctx, conn, payload)
	default:
		s.log.Debug("ignoring webhook event type", zap.String("event_type", payload.EventType))
		return models.WebhookSkipped, nil
	}
}

// applyProductUpsert re-fetches the product from the platform (the webhook
// body is advisory, the API is authoritative), maps it to canonical form, and
// persists. Identical data is a no-op and triggers no fan-out.
func (s *WebhookService) applyProductUpsert(ctx context.Context, conn *models.PlatformConnection, payload *webhookEventPayload) (models.WebhookEventStatus, error) {
	if payload.PlatformProductID == "" {
		// Some platforms (Square catalog version bumps) do not address a
		// product; reconciliation picks those up.
		return models.WebhookSkipped, nil
	}

	adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
	if err != nil {
		return "", err
	}
	products, err := adapter.FetchByIDs(ctx, []string{payload.PlatformProductID})
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		// Gone between delivery and fetch.
		return models.WebhookSkipped, nil
	}

	batch := mapping.ToCanonical(conn.PlatformType, products)

	// Resolve canonical ids: mapped platform variants keep their canonical
	// row, everything else gets the deterministic scan id.
	created := false
	changed := false

	productIDs := make(map[string]uuid.UUID, len(batch.Products))
	var productRows []models.Product
	for _, d := range batch.Products {
		id := deterministicID(conn.UserID, conn.PlatformType, "product:"+payload.PlatformProductID)
		productIDs[d.TempID] = id

		existing, err := s.productRepo.GetProduct(ctx, id, conn.UserID)
		if err != nil {
			if syncerr.KindOf(err) != syncerr.KindNotFound {
				return "", err
			}
			created = true
		} else if existing.Title == d.Title && stringPtrEqual(existing.Description, d.Description) {
			// Product fields unchanged; variants decide below.
		} else {
			changed = true
		}
		productRows = append(productRows, models.Product{
			ID:          id,
			UserID:      conn.UserID,
			Title:       d.Title,
			Description: d.Description,
		})
	}

	var variantRows []models.ProductVariant
	var mappedRows []models.PlatformProductMapping
	for _, d := range batch.Variants {
		parentID, ok := productIDs[d.TempProductID]
		if !ok {
			continue
		}

		id := deterministicID(conn.UserID, conn.PlatformType, "variant:"+d.PlatformVariantID)
		if m, err := s.mappingRepo.GetByPlatformVariant(ctx, conn.ID, d.PlatformVariantID); err == nil {
			id = m.ProductVariantID
		}

		options := models.JSONB{}
		for k, v := range d.Options {
			options[k] = v
		}
		row := models.ProductVariant{
			ID:               id,
			ProductID:        parentID,
			UserID:           conn.UserID,
			SKU:              d.SKU,
			Barcode:          d.Barcode,
			Title:            d.Title,
			Description:      d.Description,
			Price:            d.Price,
			CompareAtPrice:   d.CompareAtPrice,
			Cost:             d.Cost,
			Weight:           d.Weight,
			WeightUnit:       d.WeightUnit,
			Options:          options,
			IsTaxable:        d.Taxable,
			RequiresShipping: d.RequiresShipping,
		}

		existing, err := s.productRepo.GetVariant(ctx, id, conn.UserID)
		switch {
		case err != nil && syncerr.KindOf(err) == syncerr.KindNotFound:
			created = true
		case err != nil:
			return "", err
		case !variantEqual(existing, &row):
			changed = true
		}
		variantRows = append(variantRows, row)

		platformVariantID := d.PlatformVariantID
		mappedRows = append(mappedRows, models.PlatformProductMapping{
			PlatformConnectionID: conn.ID,
			ProductVariantID:     id,
			PlatformProductID:    d.PlatformProductID,
			PlatformVariantID:    &platformVariantID,
			PlatformSKU:          d.SKU,
			SyncStatus:           models.MappingSyncSuccess,
		})
	}

	if !created && !changed {
		return models.WebhookProcessed, nil
	}

	if err := s.productRepo.BatchUpsertProducts(ctx, productRows); err != nil {
		return "", err
	}
	if err := s.productRepo.BatchUpsertVariants(ctx, variantRows); err != nil {
		return "", err
	}
	for i := range mappedRows {
		if err := s.mappingRepo.Upsert(ctx, &mappedRows[i]); err != nil {
			return "", err
		}
	}

	s.activity.Record(ctx, conn.UserID, &conn.ID, OpWebhookProductApplied, models.ActivityInfo,
		"Platform product change applied to catalog", models.JSONB{
			"platformProductId": payload.PlatformProductID,
			"created":           created,
		})

	// Fan out to the user's other connections; the origin never gets an echo.
	for _, p := range productRows {
		if created {
			_, err = s.push.QueueProductCreate(ctx, p.ID, conn.UserID, &conn.ID)
		} else {
			_, err = s.push.QueueProductUpdate(ctx, p.ID, conn.UserID, &conn.ID)
		}
		if err != nil {
			return "", err
		}
	}
	return models.WebhookProcessed, nil
}

// applyProductDelete removes the origin connection's mappings and archives the
// canonical product. Other platforms keep their listings; a platform-side
// delete is not treated as user intent to delete everywhere.
func (s *WebhookService) applyProductDelete(ctx context.Context, conn *models.PlatformConnection, payload *webhookEventPayload) (models.WebhookEventStatus, error) {
	if payload.PlatformProductID == "" {
		return models.WebhookSkipped, nil
	}

	mappings, err := s.mappingRepo.ListByPlatformProduct(ctx, conn.ID, payload.PlatformProductID)
	if err != nil {
		return "", err
	}
	if len(mappings) == 0 {
		return models.WebhookSkipped, nil
	}

	variantIDs := make([]uuid.UUID, 0, len(mappings))
	for _, m := range mappings {
		variantIDs = append(variantIDs, m.ProductVariantID)
	}
	variants, err := s.productRepo.FindVariantsByIDs(ctx, variantIDs)
	if err != nil {
		return "", err
	}

	archived := make(map[uuid.UUID]bool)
	for _, v := range variants {
		if archived[v.ProductID] {
			continue
		}
		if err := s.productRepo.SetArchived(ctx, v.ProductID, conn.UserID, true); err != nil {
			return "", err
		}
		archived[v.ProductID] = true
	}

	for _, m := range mappings {
		if err := s.mappingRepo.Delete(ctx, m.ID); err != nil {
			return "", err
		}
	}

	s.activity.Record(ctx, conn.UserID, &conn.ID, OpWebhookProductApplied, models.ActivityInfo,
		"Platform product deleted; canonical product archived", models.JSONB{
			"platformProductId": payload.PlatformProductID,
		})
	return models.WebhookProcessed, nil
}

// applyInventoryChange resolves the canonical variant, absolute-sets the
// origin connection's level, mirrors the quantity to the user's other mapped
// connections, and fans out an inventory push with the origin suppressed.
func (s *WebhookService) applyInventoryChange(ctx context.Context, conn *models.PlatformConnection, payload *webhookEventPayload) (models.WebhookEventStatus, error) {
	if payload.Quantity == nil {
		return models.WebhookSkipped, nil
	}

	platformVariantID := payload.PlatformVariantID
	if platformVariantID == "" && payload.InventoryItemID != "" {
		adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
		if err != nil {
			return "", err
		}
		resolver, ok := adapter.(platform.InventoryItemResolver)
		if !ok {
			return models.WebhookSkipped, nil
		}
		platformVariantID, err = resolver.ResolveInventoryItem(ctx, payload.InventoryItemID)
		if err != nil {
			return "", err
		}
	}
	if platformVariantID == "" {
		return models.WebhookSkipped, nil
	}

	m, err := s.mappingRepo.GetByPlatformVariant(ctx, conn.ID, platformVariantID)
	if err != nil {
		s.log.Warn("inventory webhook for unmapped platform variant",
			zap.String("connection_id", conn.ID.String()),
			zap.String("platform_variant_id", platformVariantID))
		return models.WebhookSkipped, nil
	}

	quantity := *payload.Quantity
	locationID := payload.LocationID

	if current, err := s.inventoryRepo.Get(ctx, m.ProductVariantID, conn.ID, locationID); err == nil && current.Quantity == quantity {
		// Identical data must be a no-op, and no echo is fanned out.
		return models.WebhookProcessed, nil
	}

	origin := models.InventoryLevel{
		ProductVariantID:     m.ProductVariantID,
		PlatformConnectionID: conn.ID,
		PlatformLocationID:   locationID,
		Quantity:             quantity,
		LastPlatformUpdateAt: payload.OccurredAt,
	}
	if err := s.inventoryRepo.BatchUpsert(ctx, []models.InventoryLevel{origin}); err != nil {
		return "", err
	}

	// Mirror the new quantity onto the other connections' level rows so the
	// fan-out push sends the fresh value, not their last scan reading. The
	// mirrors carry stored timestamps, so they never share a batch with the
	// possibly-new origin row.
	siblings, err := s.mappingRepo.ListByVariantAcrossConnections(ctx, m.ProductVariantID)
	if err != nil {
		return "", err
	}
	var mirrors []models.InventoryLevel
	for _, sib := range siblings {
		if sib.PlatformConnectionID == conn.ID {
			continue
		}
		others, err := s.inventoryRepo.ListByVariants(ctx, []uuid.UUID{m.ProductVariantID}, &sib.PlatformConnectionID)
		if err != nil {
			return "", err
		}
		for _, lvl := range others {
			lvl.Quantity = quantity
			mirrors = append(mirrors, lvl)
		}
	}
	if len(mirrors) > 0 {
		if err := s.inventoryRepo.BatchUpsert(ctx, mirrors); err != nil {
			return "", err
		}
	}

	s.activity.Record(ctx, conn.UserID, &conn.ID, OpWebhookInventoryApplied, models.ActivityInfo,
		"Platform inventory change applied", models.JSONB{
			"variantId": m.ProductVariantID.String(),
			"quantity":  quantity,
		})

	if _, err := s.push.QueueInventoryUpdate(ctx, m.ProductVariantID, conn.UserID, &conn.ID); err != nil {
		return "", err
	}
	return models.WebhookProcessed, nil
}

func occurredAtOf(msg *platform.WebhookMessage) *time.Time {
	if msg.OccurredAt.IsZero() {
		return nil
	}
	t := msg.OccurredAt
	return &t
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// variantEqual is the persistence no-op gate for product webhooks.
func variantEqual(a, b *models.ProductVariant) bool {
	if a.Title != b.Title || !stringPtrEqual(a.SKU, b.SKU) || !stringPtrEqual(a.Barcode, b.Barcode) {
		return false
	}
	if !a.Price.Equal(b.Price) {
		return false
	}
	if (a.CompareAtPrice == nil) != (b.CompareAtPrice == nil) {
		return false
	}
	if a.CompareAtPrice != nil && !a.CompareAtPrice.Equal(*b.CompareAtPrice) {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range b.Options {
		if a.Options[k] != v {
			return false
		}
	}
	return true
}
