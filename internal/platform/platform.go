package platform

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"catalog-sync-service/internal/models"
)

// Adapter is the per-platform I/O contract. Implementations carry their own
// HTTP client, credentials, and rate limiter; all domain logic stays outside.
type Adapter interface {
	// Type returns the platform this adapter talks to
	Type() models.PlatformType

	// TestConnection verifies the credentials work
	TestConnection(ctx context.Context) error

	// FetchAll traverses the full catalog. Products come back fully
	// hydrated: every variant page and every nested inventory page for a
	// product is fetched before the product is emitted.
	FetchAll(ctx context.Context) (*Snapshot, error)

	// FetchByIDs fetches a bounded batch of products (<= MaxBatchIDs per
	// call); missing ids are dropped from the result.
	FetchByIDs(ctx context.Context, ids []string) ([]Product, error)

	// CreateProduct creates the product and returns the platform product id
	// plus the canonical-variant-id -> platform-variant-id map. Inventory
	// quantities must be included for every target location.
	CreateProduct(ctx context.Context, input *ProductInput) (*CreateResult, error)

	// UpdateProduct is idempotent; variants in the input without a platform
	// id are additions, the rest keep their id.
	UpdateProduct(ctx context.Context, platformProductID string, input *ProductInput) error

	// DeleteProduct is idempotent: missing-on-platform is success.
	DeleteProduct(ctx context.Context, platformProductID string) error

	// SetInventory sets absolute quantities, never deltas.
	SetInventory(ctx context.Context, updates []InventoryUpdate) error

	// ListLocations returns the platform's stock locations; platforms
	// without a location concept return a single default entry.
	ListLocations(ctx context.Context) ([]Location, error)

	// VerifyWebhook checks the request MAC in constant time.
	VerifyWebhook(body []byte, headers http.Header) error

	// ParseWebhook normalizes a verified payload into a WebhookMessage.
	ParseWebhook(body []byte, headers http.Header) (*WebhookMessage, error)
}

// MaxBatchIDs bounds FetchByIDs batches; callers chunk larger id lists.
const MaxBatchIDs = 250

// WebhookCodec is the subset of Adapter available before the owning connection
// is known: signature verification and payload normalization. Webhook secrets
// are app-level, so codecs are built from config alone.
type WebhookCodec interface {
	VerifyWebhook(body []byte, headers http.Header) error
	ParseWebhook(body []byte, headers http.Header) (*WebhookMessage, error)
}

// InventoryItemResolver is an optional adapter capability for platforms whose
// inventory webhooks reference an inventory item rather than a variant.
type InventoryItemResolver interface {
	ResolveInventoryItem(ctx context.Context, inventoryItemID string) (string, error)
}

// Snapshot is the result of a full catalog traversal.
type Snapshot struct {
	Products  []Product
	Locations []Location
}

// Product is the platform-side product shape.
type Product struct {
	ID          string
	Title       string
	Description string
	Variants    []Variant
	Images      []Image
	Options     []Option
	// VariantsCount is the platform's reported total, which may exceed the
	// inline page; FetchAll implementations must hydrate until they match.
	VariantsCount int
	UpdatedAt     time.Time
}

// Variant is the platform-side variant shape.
type Variant struct {
	ID        string
	ProductID string
	Title     string
	SKU       string
	Barcode   string

	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Cost           *decimal.Decimal

	Weight     *float64
	WeightUnit string

	Options          map[string]string
	Taxable          bool
	RequiresShipping bool
	ImageURL         string

	// InventoryItemID is the platform's internal inventory reference where
	// one exists (Shopify inventory item id); empty elsewhere.
	InventoryItemID string

	Levels    []LevelReading
	UpdatedAt time.Time
}

// LevelReading is one observed inventory quantity at one location.
type LevelReading struct {
	LocationID string
	Quantity   int
	UpdatedAt  *time.Time
}

// Image is an ordered platform product image.
type Image struct {
	ID       string
	Src      string
	Position int
}

// Option is a platform product option definition.
type Option struct {
	Name     string
	Position int
	Values   []string
}

// Location is a platform stock location.
type Location struct {
	ID   string
	Name string
}

// ProductInput is the write shape for create/update, produced by the mapping
// engine.
type ProductInput struct {
	Title       string
	Description string
	Options     []Option
	Variants    []VariantInput
	Images      []ImageInput
	// TargetLocations lists the location ids a create must cover with
	// quantities (defaulting to 0 where canonical data is absent).
	TargetLocations []string
}

// VariantInput is one variant in a ProductInput.
type VariantInput struct {
	// CanonicalVariantID is echoed back in CreateResult.VariantIDs.
	CanonicalVariantID string
	// PlatformVariantID is set on update paths for existing variants.
	PlatformVariantID string

	Title   string
	SKU     string
	Barcode string

	Price          decimal.Decimal
	CompareAtPrice *decimal.Decimal
	Cost           *decimal.Decimal

	Weight     *float64
	WeightUnit string

	Options          map[string]string
	Taxable          bool
	RequiresShipping bool

	// Quantities maps location id -> absolute quantity.
	Quantities map[string]int
}

// ImageInput is one image in a ProductInput.
type ImageInput struct {
	Src      string
	Position int
}

// CreateResult is the outcome of CreateProduct.
type CreateResult struct {
	PlatformProductID string
	// VariantIDs maps canonical variant id -> platform variant id.
	VariantIDs map[string]string
}

// InventoryUpdate is one absolute-set instruction for SetInventory.
type InventoryUpdate struct {
	PlatformVariantID string
	LocationID        string
	Quantity          int
}

// EventType classifies a normalized webhook.
type EventType string

const (
	EventProductCreated   EventType = "PRODUCT_CREATED"
	EventProductUpdated   EventType = "PRODUCT_UPDATED"
	EventProductDeleted   EventType = "PRODUCT_DELETED"
	EventInventoryChanged EventType = "INVENTORY_CHANGED"
)

// WebhookMessage is the normalized form of a platform webhook.
type WebhookMessage struct {
	EventType EventType
	// EventID is the platform's delivery or event id, used for idempotency.
	EventID string

	// Locator fields; which one is set depends on the platform.
	ShopDomain string
	MerchantID string

	PlatformProductID string
	PlatformVariantID string

	// Inventory events only. Some platforms reference an inventory item
	// instead of a variant; see InventoryItemResolver.
	InventoryItemID string
	LocationID      string
	Quantity        *int

	// Product events may carry the full product inline.
	Product *Product

	OccurredAt time.Time
}
