package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog-sync-service/internal/mapping"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
)

// scanNamespace seeds the deterministic uuid v5 scheme for scan-created
// entities. Re-scanning the same platform object always yields the same id,
// which is what makes the persistence stages safely re-runnable.
var scanNamespace = uuid.MustParse("8f3c6f1a-52be-4c2d-9c8e-1d4a7b9e0f36")

// deterministicID derives the canonical id for a scan-created entity from the
// tuple that identifies it on the platform.
func deterministicID(userID string, platformType models.PlatformType, platformID string) uuid.UUID {
	return uuid.NewSHA1(scanNamespace, []byte(userID+"|"+string(platformType)+"|"+platformID))
}

// ScanJobPayload is the payload of initial-scan and reconciliation jobs.
type ScanJobPayload struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	UserID       string    `json:"userId"`
}

// ScanService drives the initial scan and reconciliation pipelines: fetch the
// platform catalog, translate it to canonical drafts, persist idempotently,
// and leave the connection in NEEDS_REVIEW with a summary and suggestions.
type ScanService struct {
	connRepo      *repository.ConnectionRepository
	productRepo   *repository.ProductRepository
	inventoryRepo *repository.InventoryRepository
	activity      *ActivityService
	vault         secrets.Vault
	registry      *platform.Registry
	log           *zap.Logger
}

// NewScanService creates a new scan service
func NewScanService(
	connRepo *repository.ConnectionRepository,
	productRepo *repository.ProductRepository,
	inventoryRepo *repository.InventoryRepository,
	activity *ActivityService,
	vault secrets.Vault,
	registry *platform.Registry,
	log *zap.Logger,
) *ScanService {
	return &ScanService{
		connRepo:      connRepo,
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		activity:      activity,
		vault:         vault,
		registry:      registry,
		log:           log.Named("scan"),
	}
}

// HandleInitialScan is the initial-scan queue handler.
func (s *ScanService) HandleInitialScan(ctx context.Context, job *queue.Job) error {
	var payload ScanJobPayload
	if err := decodePayload(job.Payload(), &payload); err != nil {
		return err
	}

	conn, err := s.connRepo.GetByID(ctx, payload.ConnectionID, payload.UserID)
	if err != nil {
		return err
	}
	if err := s.connRepo.UpdateStatus(ctx, conn.ID, conn.Status, models.ConnectionScanning); err != nil {
		return err
	}

	if err := s.runScan(ctx, job, conn); err != nil {
		s.failConnection(ctx, conn, OpScanFailed, err)
		return err
	}

	if err := s.connRepo.UpdateStatus(ctx, conn.ID, models.ConnectionScanning, models.ConnectionNeedsReview); err != nil {
		return err
	}
	job.ReportProgress(ctx, 100, "scan complete")
	return nil
}

// HandleReconciliation is the reconciliation queue handler. It re-fetches the
// platform catalog and regenerates suggestions without touching the canonical
// rows: once confirmed, the canonical store is the source of truth.
func (s *ScanService) HandleReconciliation(ctx context.Context, job *queue.Job) error {
	var payload ScanJobPayload
	if err := decodePayload(job.Payload(), &payload); err != nil {
		return err
	}

	conn, err := s.connRepo.GetByID(ctx, payload.ConnectionID, payload.UserID)
	if err != nil {
		return err
	}
	if err := s.connRepo.UpdateStatus(ctx, conn.ID, conn.Status, models.ConnectionReconciling); err != nil {
		return err
	}

	if err := s.runReconciliation(ctx, job, conn); err != nil {
		s.failConnection(ctx, conn, OpReconciliationFailed, err)
		return err
	}

	if err := s.connRepo.UpdateStatus(ctx, conn.ID, models.ConnectionReconciling, models.ConnectionNeedsReview); err != nil {
		return err
	}
	job.ReportProgress(ctx, 100, "reconciliation complete")
	return nil
}

func (s *ScanService) runScan(ctx context.Context, job *queue.Job, conn *models.PlatformConnection) error {
	log := s.log.With(
		zap.String("connection_id", conn.ID.String()),
		zap.String("platform", string(conn.PlatformType)))

	adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
	if err != nil {
		return err
	}

	job.ReportProgress(ctx, 10, "fetching platform catalog")
	snapshot, err := adapter.FetchAll(ctx)
	if err != nil {
		return err
	}
	job.ReportProgress(ctx, 30, "translating to canonical form")

	batch := mapping.ToCanonical(conn.PlatformType, snapshot.Products)
	job.ReportProgress(ctx, 50, "persisting products")

	productIDs, err := s.persistProducts(ctx, conn, batch.Products)
	if err != nil {
		return err
	}
	job.ReportProgress(ctx, 60, "persisting variants")

	variantIDs, persistedVariants, err := s.persistVariants(ctx, conn, batch.Variants, productIDs, log)
	if err != nil {
		return err
	}
	job.ReportProgress(ctx, 75, "persisting inventory")

	s.persistImages(ctx, batch.Variants, variantIDs, log)

	if err := s.persistLevels(ctx, conn, batch.Levels, variantIDs, log); err != nil {
		return err
	}
	job.ReportProgress(ctx, 85, "analyzing catalog")

	summary := models.ScanSummary{
		CountProducts:  len(batch.Products),
		CountVariants:  persistedVariants,
		CountLocations: len(snapshot.Locations),
	}

	suggestions, err := s.buildSuggestions(ctx, conn, snapshot)
	if err != nil {
		return err
	}

	if err := s.connRepo.PatchData(ctx, conn.ID, map[string]interface{}{
		models.DataKeyScanSummary:        summary,
		models.DataKeyMappingSuggestions: suggestions,
	}); err != nil {
		return err
	}

	s.activity.Record(ctx, conn.UserID, &conn.ID, OpScanCompleted, models.ActivitySuccess,
		"Initial scan completed", models.JSONB{
			"countProducts":  summary.CountProducts,
			"countVariants":  summary.CountVariants,
			"countLocations": summary.CountLocations,
		})
	log.Info("scan completed",
		zap.Int("products", summary.CountProducts),
		zap.Int("variants", summary.CountVariants),
		zap.Int("locations", summary.CountLocations))
	return nil
}

func (s *ScanService) runReconciliation(ctx context.Context, job *queue.Job, conn *models.PlatformConnection) error {
	adapter, err := adapterFor(ctx, s.vault, s.registry, conn)
	if err != nil {
		return err
	}

	job.ReportProgress(ctx, 20, "fetching platform catalog")
	snapshot, err := adapter.FetchAll(ctx)
	if err != nil {
		return err
	}

	job.ReportProgress(ctx, 70, "regenerating suggestions")
	suggestions, err := s.buildSuggestions(ctx, conn, snapshot)
	if err != nil {
		return err
	}

	if err := s.connRepo.PatchData(ctx, conn.ID, map[string]interface{}{
		models.DataKeyMappingSuggestions:   suggestions,
		models.DataKeyLastReconciliationAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}

	s.activity.Record(ctx, conn.UserID, &conn.ID, OpReconciliationCompleted, models.ActivitySuccess,
		"Reconciliation completed", models.JSONB{"suggestions": len(suggestions)})
	return nil
}

// persistProducts batch-upserts product drafts under deterministic ids and
// returns the temp-id -> real-id map.
func (s *ScanService) persistProducts(ctx context.Context, conn *models.PlatformConnection, drafts []mapping.ProductDraft) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(drafts))
	if len(drafts) == 0 {
		return ids, nil
	}

	products := make([]models.Product, 0, len(drafts))
	for _, d := range drafts {
		platformID := strings.TrimPrefix(d.TempID, "temp-product-")
		id := deterministicID(conn.UserID, conn.PlatformType, "product:"+platformID)
		ids[d.TempID] = id
		products = append(products, models.Product{
			ID:          id,
			UserID:      conn.UserID,
			Title:       d.Title,
			Description: d.Description,
		})
	}
	if err := s.productRepo.BatchUpsertProducts(ctx, products); err != nil {
		return nil, err
	}
	return ids, nil
}

// persistVariants rewires drafts to real product ids, upserts them, and
// resolves real variant ids. Variants whose parent product failed to resolve
// are dropped with a warning, never aborting the scan.
func (s *ScanService) persistVariants(ctx context.Context, conn *models.PlatformConnection, drafts []mapping.VariantDraft, productIDs map[string]uuid.UUID, log *zap.Logger) (map[string]uuid.UUID, int, error) {
	ids := make(map[string]uuid.UUID, len(drafts))

	variants := make([]models.ProductVariant, 0, len(drafts))
	kept := make([]mapping.VariantDraft, 0, len(drafts))
	for _, d := range drafts {
		productID, ok := productIDs[d.TempProductID]
		if !ok {
			log.Warn("dropping variant with unresolved parent product",
				zap.String("platform_variant_id", d.PlatformVariantID))
			continue
		}

		options := models.JSONB{}
		for k, v := range d.Options {
			options[k] = v
		}

		variants = append(variants, models.ProductVariant{
			ID:               deterministicID(conn.UserID, conn.PlatformType, "variant:"+d.PlatformVariantID),
			ProductID:        productID,
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
		})
		kept = append(kept, d)
	}

	if len(variants) == 0 {
		return ids, 0, nil
	}
	if err := s.productRepo.BatchUpsertVariants(ctx, variants); err != nil {
		return nil, 0, err
	}

	// Variants with a SKU may have merged into pre-existing rows on the
	// (user_id, sku) key, so their real ids come from a re-read.
	var skus []string
	for _, d := range kept {
		if d.SKU != nil && *d.SKU != "" {
			skus = append(skus, *d.SKU)
		}
	}
	bySKU := make(map[string]uuid.UUID, len(skus))
	if len(skus) > 0 {
		rows, err := s.productRepo.FindVariantsBySKUs(ctx, conn.UserID, skus)
		if err != nil {
			return nil, 0, err
		}
		for _, row := range rows {
			if row.SKU != nil {
				bySKU[*row.SKU] = row.ID
			}
		}
	}

	for i, d := range kept {
		if d.SKU != nil && *d.SKU != "" {
			if id, ok := bySKU[*d.SKU]; ok {
				ids[d.TempID] = id
				continue
			}
		}
		ids[d.TempID] = variants[i].ID
	}
	return ids, len(kept), nil
}

// persistImages writes ordered image rows per variant. Best-effort: image
// failures log but never abort the scan.
func (s *ScanService) persistImages(ctx context.Context, drafts []mapping.VariantDraft, variantIDs map[string]uuid.UUID, log *zap.Logger) {
	var images []models.ProductImage
	for _, d := range drafts {
		variantID, ok := variantIDs[d.TempID]
		if !ok {
			continue
		}
		for i, url := range d.ImageURLs {
			images = append(images, models.ProductImage{
				ID:               uuid.New(),
				ProductVariantID: variantID,
				ImageURL:         url,
				Position:         i + 1,
			})
		}
	}
	if err := s.productRepo.UpsertImages(ctx, images); err != nil {
		log.Warn("failed to persist product images", zap.Error(err))
	}
}

// persistLevels rewires level drafts to real variant ids, dropping orphans.
func (s *ScanService) persistLevels(ctx context.Context, conn *models.PlatformConnection, drafts []mapping.LevelDraft, variantIDs map[string]uuid.UUID, log *zap.Logger) error {
	levels := make([]models.InventoryLevel, 0, len(drafts))
	for _, d := range drafts {
		variantID, ok := variantIDs[d.TempVariantID]
		if !ok {
			log.Warn("dropping inventory level with unresolved variant",
				zap.String("temp_variant_id", d.TempVariantID))
			continue
		}
		levels = append(levels, models.InventoryLevel{
			ProductVariantID:     variantID,
			PlatformConnectionID: conn.ID,
			PlatformLocationID:   d.LocationID,
			Quantity:             d.Quantity,
			LastPlatformUpdateAt: d.UpdatedAt,
		})
	}
	return s.inventoryRepo.BatchUpsert(ctx, levels)
}

// buildSuggestions matches the platform's variants against the user's
// canonical catalog. When the platform list is empty the canonical list is
// fed through the same matcher, so the review screen is never blank for a
// populated catalog.
func (s *ScanService) buildSuggestions(ctx context.Context, conn *models.PlatformConnection, snapshot *platform.Snapshot) ([]models.MappingSuggestion, error) {
	canonical, err := s.productRepo.ListVariantsByUser(ctx, conn.UserID)
	if err != nil {
		return nil, err
	}

	var platformVariants []platform.Variant
	for _, p := range snapshot.Products {
		platformVariants = append(platformVariants, p.Variants...)
	}
	if len(platformVariants) == 0 {
		platformVariants = canonicalAsPlatformVariants(canonical)
	}

	suggestions := mapping.Suggest(platformVariants, canonical)
	if suggestions == nil {
		suggestions = []models.MappingSuggestion{}
	}
	return suggestions, nil
}

func canonicalAsPlatformVariants(canonical []models.ProductVariant) []platform.Variant {
	out := make([]platform.Variant, 0, len(canonical))
	for _, v := range canonical {
		pv := platform.Variant{
			ID:        v.ID.String(),
			ProductID: v.ProductID.String(),
			Title:     v.Title,
			UpdatedAt: v.UpdatedAt,
		}
		if v.SKU != nil {
			pv.SKU = *v.SKU
		}
		if v.Barcode != nil {
			pv.Barcode = *v.Barcode
		}
		out = append(out, pv)
	}
	return out
}

// failConnection flips the connection to ERROR and records the failure; the
// error itself is re-raised for the queue to classify and retry.
func (s *ScanService) failConnection(ctx context.Context, conn *models.PlatformConnection, operation string, err error) {
	if dbErr := s.connRepo.SetError(ctx, conn.ID, err.Error()); dbErr != nil {
		s.log.Error("failed to record connection error",
			zap.String("connection_id", conn.ID.String()),
			zap.Error(dbErr))
	}
	s.activity.Record(ctx, conn.UserID, &conn.ID, operation, models.ActivityError,
		err.Error(), nil)
}
