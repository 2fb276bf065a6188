package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/queue"
	"catalog-sync-service/internal/repository"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

// fakeVault keeps credentials in memory, keyed by connection id.
type fakeVault struct {
	mu      sync.Mutex
	creds   map[uuid.UUID]*secrets.Credentials
	deleted []uuid.UUID
}

func newFakeVault() *fakeVault {
	return &fakeVault{creds: make(map[uuid.UUID]*secrets.Credentials)}
}

func (v *fakeVault) Store(_ context.Context, conn *models.PlatformConnection, creds *secrets.Credentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds[conn.ID] = creds
	return nil
}

func (v *fakeVault) Load(_ context.Context, conn *models.PlatformConnection) (*secrets.Credentials, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	creds, ok := v.creds[conn.ID]
	if !ok {
		return nil, syncerr.New(syncerr.KindNotFound, "no credentials for connection %s", conn.ID)
	}
	return creds, nil
}

func (v *fakeVault) Delete(_ context.Context, conn *models.PlatformConnection) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.creds, conn.ID)
	v.deleted = append(v.deleted, conn.ID)
	return nil
}

// fakeAdapter is a scriptable platform.Adapter (and WebhookCodec). Zero value
// behavior: everything succeeds, CreateProduct synthesizes platform ids.
type fakeAdapter struct {
	platformType models.PlatformType

	testErr error

	snapshot *platform.Snapshot
	fetchErr error

	// byID backs FetchByIDs; ids absent from the map are silently dropped.
	byID       map[string]platform.Product
	fetchByErr error

	locations    []platform.Location
	locationsErr error

	createResult *platform.CreateResult
	createErr    error
	createCalls  []*platform.ProductInput

	updateErr   error
	updateCalls []string

	deleteErr   error
	deleteCalls []string

	inventoryErr   error
	inventoryCalls [][]platform.InventoryUpdate

	verifyErr error
	parseMsg  *platform.WebhookMessage
	parseErr  error
}

func (a *fakeAdapter) Type() models.PlatformType { return a.platformType }

func (a *fakeAdapter) TestConnection(context.Context) error { return a.testErr }

func (a *fakeAdapter) FetchAll(context.Context) (*platform.Snapshot, error) {
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	if a.snapshot == nil {
		return &platform.Snapshot{}, nil
	}
	return a.snapshot, nil
}

func (a *fakeAdapter) FetchByIDs(_ context.Context, ids []string) ([]platform.Product, error) {
	if a.fetchByErr != nil {
		return nil, a.fetchByErr
	}
	var out []platform.Product
	for _, id := range ids {
		if p, ok := a.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (a *fakeAdapter) CreateProduct(_ context.Context, input *platform.ProductInput) (*platform.CreateResult, error) {
	a.createCalls = append(a.createCalls, input)
	if a.createErr != nil {
		return nil, a.createErr
	}
	if a.createResult != nil {
		return a.createResult, nil
	}
	result := &platform.CreateResult{
		PlatformProductID: fmt.Sprintf("%s-pp-1", a.platformType),
		VariantIDs:        make(map[string]string, len(input.Variants)),
	}
	for i, v := range input.Variants {
		result.VariantIDs[v.CanonicalVariantID] = fmt.Sprintf("%s-pv-%d", a.platformType, i+1)
	}
	return result, nil
}

func (a *fakeAdapter) UpdateProduct(_ context.Context, platformProductID string, _ *platform.ProductInput) error {
	a.updateCalls = append(a.updateCalls, platformProductID)
	return a.updateErr
}

func (a *fakeAdapter) DeleteProduct(_ context.Context, platformProductID string) error {
	a.deleteCalls = append(a.deleteCalls, platformProductID)
	return a.deleteErr
}

func (a *fakeAdapter) SetInventory(_ context.Context, updates []platform.InventoryUpdate) error {
	a.inventoryCalls = append(a.inventoryCalls, updates)
	return a.inventoryErr
}

func (a *fakeAdapter) ListLocations(context.Context) ([]platform.Location, error) {
	if a.locationsErr != nil {
		return nil, a.locationsErr
	}
	return a.locations, nil
}

func (a *fakeAdapter) VerifyWebhook([]byte, http.Header) error { return a.verifyErr }

func (a *fakeAdapter) ParseWebhook([]byte, http.Header) (*platform.WebhookMessage, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.parseMsg, nil
}

// testEnv wires the full service stack against in-memory sqlite and fake
// adapters.
type testEnv struct {
	db *gorm.DB

	connRepo      *repository.ConnectionRepository
	productRepo   *repository.ProductRepository
	inventoryRepo *repository.InventoryRepository
	mappingRepo   *repository.MappingRepository
	webhookRepo   *repository.WebhookRepository

	vault    *fakeVault
	registry *platform.Registry
	adapters map[models.PlatformType]*fakeAdapter
	queues   *queue.Manager

	activity    *ActivityService
	scan        *ScanService
	push        *PushService
	webhook     *WebhookService
	connections *ConnectionService
}

var testModels = []interface{}{
	&models.PlatformConnection{},
	&models.Product{},
	&models.ProductVariant{},
	&models.ProductImage{},
	&models.PlatformProductMapping{},
	&models.InventoryLevel{},
	&models.SyncQueueJob{},
	&models.WebhookEvent{},
	&models.ActivityLog{},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(0)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(testModels...))
	for _, m := range testModels {
		stmt := &gorm.Statement{DB: db}
		require.NoError(t, stmt.Parse(m))
		db.Exec("DELETE FROM " + stmt.Schema.Table)
	}

	log := zap.NewNop()
	queues := queue.NewManager(db, log, nil, 10*time.Millisecond)
	for _, cfg := range queue.DefaultConfigs(0) {
		queues.Register(cfg, func(ctx context.Context, job *queue.Job) error { return nil })
	}

	registry := platform.NewRegistry()
	adapters := make(map[models.PlatformType]*fakeAdapter)
	codecs := make(map[models.PlatformType]platform.WebhookCodec)
	for _, pt := range []models.PlatformType{models.PlatformShopify, models.PlatformSquare, models.PlatformClover} {
		fa := &fakeAdapter{
			platformType: pt,
			locations:    []platform.Location{{ID: "loc-1", Name: "Main"}},
		}
		adapters[pt] = fa
		codecs[pt] = fa
		registry.Register(pt, func(*models.PlatformConnection, *secrets.Credentials) (platform.Adapter, error) {
			return fa, nil
		})
	}

	env := &testEnv{
		db:            db,
		connRepo:      repository.NewConnectionRepository(db),
		productRepo:   repository.NewProductRepository(db),
		inventoryRepo: repository.NewInventoryRepository(db),
		mappingRepo:   repository.NewMappingRepository(db),
		webhookRepo:   repository.NewWebhookRepository(db),
		vault:         newFakeVault(),
		registry:      registry,
		adapters:      adapters,
		queues:        queues,
	}
	env.activity = NewActivityService(repository.NewActivityRepository(db), log)
	env.scan = NewScanService(env.connRepo, env.productRepo, env.inventoryRepo, env.activity, env.vault, registry, log)
	env.push = NewPushService(env.connRepo, env.productRepo, env.inventoryRepo, env.mappingRepo, env.activity, env.vault, registry, queues, log)
	env.webhook = NewWebhookService(env.connRepo, env.productRepo, env.inventoryRepo, env.mappingRepo, env.webhookRepo,
		env.activity, env.vault, registry, queues, env.push, NewMemoryIdempotencyStore(), codecs, log)
	env.connections = NewConnectionService(env.connRepo, env.productRepo, env.mappingRepo, env.inventoryRepo,
		env.activity, env.vault, registry, queues, log)
	return env
}

// newConnection persists a connection with stored credentials. Shopify
// connections get a shop domain locator, the rest a merchant id.
func (e *testEnv) newConnection(t *testing.T, pt models.PlatformType, status models.ConnectionStatus) *models.PlatformConnection {
	t.Helper()
	conn := &models.PlatformConnection{
		ID:           uuid.New(),
		UserID:       "u1",
		PlatformType: pt,
		DisplayName:  string(pt) + " store",
		Status:       status,
		IsEnabled:    true,
		PlatformData: models.JSONB{},
	}
	if pt == models.PlatformShopify {
		conn.PlatformData[models.DataKeyShop] = "demo.myshopify.com"
	} else {
		conn.PlatformData[models.DataKeyMerchantID] = "merchant-1"
	}
	require.NoError(t, e.connRepo.Create(context.Background(), conn))
	e.vault.creds[conn.ID] = &secrets.Credentials{AccessToken: "token"}
	return conn
}

// jobFor persists an ACTIVE job row and wraps it the way the manager would.
func (e *testEnv) jobFor(t *testing.T, queueName, jobType string, payload interface{}) *queue.Job {
	t.Helper()
	encoded, err := encodePayload(payload)
	require.NoError(t, err)
	model := &models.SyncQueueJob{
		ID:          uuid.New(),
		QueueName:   queueName,
		JobType:     jobType,
		UserID:      "u1",
		Payload:     encoded,
		Status:      models.JobActive,
		Attempts:    1,
		MaxAttempts: 3,
		RunAt:       time.Now(),
	}
	require.NoError(t, e.db.Create(model).Error)
	return queue.NewJob(model, e.db, zap.NewNop())
}

func (e *testEnv) reloadConnection(t *testing.T, id uuid.UUID) *models.PlatformConnection {
	t.Helper()
	var conn models.PlatformConnection
	require.NoError(t, e.db.First(&conn, "id = ?", id).Error)
	return &conn
}

// seedProduct persists a canonical product with SKU'd variants and one level
// per variant on the given connection.
func (e *testEnv) seedProduct(t *testing.T, conn *models.PlatformConnection, skus ...string) *models.Product {
	t.Helper()
	ctx := context.Background()

	product := &models.Product{
		ID:     uuid.New(),
		UserID: "u1",
		Title:  "Seeded Product",
	}
	require.NoError(t, e.productRepo.BatchUpsertProducts(ctx, []models.Product{*product}))

	var variants []models.ProductVariant
	var levels []models.InventoryLevel
	for i, sku := range skus {
		s := sku
		v := models.ProductVariant{
			ID:        uuid.New(),
			ProductID: product.ID,
			UserID:    "u1",
			Title:     fmt.Sprintf("Variant %d", i+1),
			Price:     decimalFrom(t, "10.00"),
			Options:   models.JSONB{},
		}
		if s != "" {
			v.SKU = &s
		}
		variants = append(variants, v)
		if conn != nil {
			levels = append(levels, models.InventoryLevel{
				ProductVariantID:     v.ID,
				PlatformConnectionID: conn.ID,
				PlatformLocationID:   "loc-1",
				Quantity:             5,
			})
		}
	}
	require.NoError(t, e.productRepo.BatchUpsertVariants(ctx, variants))
	require.NoError(t, e.inventoryRepo.BatchUpsert(ctx, levels))

	loaded, err := e.productRepo.GetProduct(ctx, product.ID, "u1")
	require.NoError(t, err)
	return loaded
}

func decimalFrom(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
