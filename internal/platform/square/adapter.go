package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

const defaultBaseURL = "https://connect.squareup.com"

const headerSignature = "x-square-hmacsha256-signature"

// Adapter implements platform.Adapter for the Square Catalog & Inventory APIs.
type Adapter struct {
	httpClient   *http.Client
	baseURL      string
	accessToken  string
	merchantID   string
	signatureKey string
	// notificationURL participates in Square's webhook MAC.
	notificationURL string
	rateLimiter     *rate.Limiter
	retrier         *platform.Retrier
}

// Config holds adapter-level settings shared across connections.
type Config struct {
	BaseURL         string
	SignatureKey    string
	NotificationURL string
}

// NewFactory returns a platform.Factory for Square.
func NewFactory(cfg Config) platform.Factory {
	return func(conn *models.PlatformConnection, creds *secrets.Credentials) (platform.Adapter, error) {
		return New(conn, creds, cfg)
	}
}

// New creates an adapter bound to one connection's merchant and token.
func New(conn *models.PlatformConnection, creds *secrets.Credentials, cfg Config) (*Adapter, error) {
	if creds.AccessToken == "" {
		return nil, syncerr.New(syncerr.KindPlatformAuth, "square connection %s has no access token", conn.ID)
	}
	merchantID := creds.MerchantID
	if merchantID == "" {
		merchantID = conn.MerchantID()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	signatureKey := creds.WebhookSecret
	if signatureKey == "" {
		signatureKey = cfg.SignatureKey
	}

	return &Adapter{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		baseURL:         baseURL,
		accessToken:     creds.AccessToken,
		merchantID:      merchantID,
		signatureKey:    signatureKey,
		notificationURL: cfg.NotificationURL,
		rateLimiter:     rate.NewLimiter(rate.Limit(5), 1),
		retrier:         platform.NewRetrier(nil),
	}, nil
}

// NewWebhookCodec returns a verifier/parser usable before the owning
// connection is resolved. Square MACs cover the notification URL plus body.
func NewWebhookCodec(cfg Config) platform.WebhookCodec {
	return &Adapter{signatureKey: cfg.SignatureKey, notificationURL: cfg.NotificationURL}
}

// Type returns the platform type
func (a *Adapter) Type() models.PlatformType {
	return models.PlatformSquare
}

// TestConnection verifies the token against /v2/locations
func (a *Adapter) TestConnection(ctx context.Context) error {
	_, err := a.doRequest(ctx, "GET", "/v2/locations", nil, nil)
	return err
}

// FetchAll lists catalog items with cursor pagination and batch-retrieves
// inventory counts per page, so each emitted product is fully hydrated.
func (a *Adapter) FetchAll(ctx context.Context) (*platform.Snapshot, error) {
	locations, err := a.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	locationIDs := make([]string, 0, len(locations))
	for _, l := range locations {
		locationIDs = append(locationIDs, l.ID)
	}

	var products []platform.Product
	cursor := ""
	for {
		params := url.Values{}
		params.Set("types", "ITEM")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := a.doRequest(ctx, "GET", "/v2/catalog/list", params, nil)
		if err != nil {
			return nil, err
		}

		var response struct {
			Objects []catalogObject `json:"objects"`
			Cursor  string          `json:"cursor"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to parse catalog response: %w", err)
		}

		page := make([]platform.Product, 0, len(response.Objects))
		for _, obj := range response.Objects {
			if obj.Type != "ITEM" || obj.ItemData == nil {
				continue
			}
			page = append(page, convertItem(obj))
		}

		if err := a.attachInventory(ctx, page, locationIDs); err != nil {
			return nil, err
		}
		products = append(products, page...)

		if response.Cursor == "" {
			break
		}
		cursor = response.Cursor
	}

	return &platform.Snapshot{Products: products, Locations: locations}, nil
}

// attachInventory batch-retrieves counts for every variation on the page.
func (a *Adapter) attachInventory(ctx context.Context, products []platform.Product, locationIDs []string) error {
	byVariation := make(map[string]*platform.Variant)
	var variationIDs []string
	for pi := range products {
		for vi := range products[pi].Variants {
			v := &products[pi].Variants[vi]
			byVariation[v.ID] = v
			variationIDs = append(variationIDs, v.ID)
		}
	}
	if len(variationIDs) == 0 {
		return nil
	}

	for start := 0; start < len(variationIDs); start += 100 {
		end := start + 100
		if end > len(variationIDs) {
			end = len(variationIDs)
		}

		payload := map[string]interface{}{
			"catalog_object_ids": variationIDs[start:end],
			"location_ids":       locationIDs,
		}
		body, err := a.doRequest(ctx, "POST", "/v2/inventory/counts/batch-retrieve", nil, payload)
		if err != nil {
			return err
		}

		var response struct {
			Counts []inventoryCount `json:"counts"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("failed to parse inventory counts: %w", err)
		}

		for _, c := range response.Counts {
			if c.State != "IN_STOCK" {
				continue
			}
			v, ok := byVariation[c.CatalogObjectID]
			if !ok {
				continue
			}
			qty, _ := strconv.Atoi(c.Quantity)
			v.Levels = append(v.Levels, platform.LevelReading{
				LocationID: c.LocationID,
				Quantity:   qty,
				UpdatedAt:  c.CalculatedAt,
			})
		}
	}
	return nil
}

// FetchByIDs batch-retrieves catalog items by object id.
func (a *Adapter) FetchByIDs(ctx context.Context, ids []string) ([]platform.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > platform.MaxBatchIDs {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(ids), platform.MaxBatchIDs)
	}

	payload := map[string]interface{}{
		"object_ids":              ids,
		"include_related_objects": false,
	}
	body, err := a.doRequest(ctx, "POST", "/v2/catalog/batch-retrieve", nil, payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		Objects []catalogObject `json:"objects"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse batch retrieve response: %w", err)
	}

	products := make([]platform.Product, 0, len(response.Objects))
	for _, obj := range response.Objects {
		if obj.Type == "ITEM" && obj.ItemData != nil {
			products = append(products, convertItem(obj))
		}
	}
	return products, nil
}

// CreateProduct upserts an ITEM with nested variations, then writes physical
// counts for every target location.
func (a *Adapter) CreateProduct(ctx context.Context, input *platform.ProductInput) (*platform.CreateResult, error) {
	tempItemID := "#item"
	variations := make([]map[string]interface{}, 0, len(input.Variants))
	tempByCanonical := make(map[string]string, len(input.Variants))
	for i, v := range input.Variants {
		tempID := fmt.Sprintf("#variation-%d", i)
		if v.PlatformVariantID != "" {
			tempID = v.PlatformVariantID
		} else {
			tempByCanonical[v.CanonicalVariantID] = tempID
		}
		variations = append(variations, map[string]interface{}{
			"type": "ITEM_VARIATION",
			"id":   tempID,
			"item_variation_data": map[string]interface{}{
				"item_id": tempItemID,
				"name":    v.Title,
				"sku":     v.SKU,
				"upc":     v.Barcode,
				"pricing_type": "FIXED_PRICING",
				"price_money": map[string]interface{}{
					"amount":   v.Price.Mul(decimal.NewFromInt(100)).IntPart(),
					"currency": "USD",
				},
				"track_inventory": true,
			},
		})
	}

	payload := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"object": map[string]interface{}{
			"type": "ITEM",
			"id":   tempItemID,
			"item_data": map[string]interface{}{
				"name":        input.Title,
				"description": input.Description,
				"variations":  variations,
			},
		},
	}

	body, err := a.doRequest(ctx, "POST", "/v2/catalog/object", nil, payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		CatalogObject catalogObject `json:"catalog_object"`
		IDMappings    []struct {
			ClientObjectID string `json:"client_object_id"`
			ObjectID       string `json:"object_id"`
		} `json:"id_mappings"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse upsert response: %w", err)
	}

	tempToReal := make(map[string]string, len(response.IDMappings))
	for _, m := range response.IDMappings {
		tempToReal[m.ClientObjectID] = m.ObjectID
	}

	result := &platform.CreateResult{
		PlatformProductID: tempToReal[tempItemID],
		VariantIDs:        make(map[string]string),
	}
	if result.PlatformProductID == "" {
		result.PlatformProductID = response.CatalogObject.ID
	}

	for canonicalID, tempID := range tempByCanonical {
		if realID, ok := tempToReal[tempID]; ok {
			result.VariantIDs[canonicalID] = realID
		}
	}

	// Seed inventory for every target location (0 where canonical is silent).
	var updates []platform.InventoryUpdate
	for _, v := range input.Variants {
		platformVariantID := result.VariantIDs[v.CanonicalVariantID]
		if platformVariantID == "" {
			continue
		}
		for _, loc := range input.TargetLocations {
			updates = append(updates, platform.InventoryUpdate{
				PlatformVariantID: platformVariantID,
				LocationID:        loc,
				Quantity:          v.Quantities[loc],
			})
		}
	}
	if err := a.SetInventory(ctx, updates); err != nil {
		return result, err
	}

	return result, nil
}

// UpdateProduct re-upserts the item at its current version.
func (a *Adapter) UpdateProduct(ctx context.Context, platformProductID string, input *platform.ProductInput) error {
	// Square upserts require the current version of the object.
	current, err := a.retrieveObject(ctx, platformProductID)
	if err != nil {
		return err
	}

	variations := make([]map[string]interface{}, 0, len(input.Variants))
	for i, v := range input.Variants {
		id := v.PlatformVariantID
		if id == "" {
			id = fmt.Sprintf("#variation-%d", i)
		}
		variation := map[string]interface{}{
			"type": "ITEM_VARIATION",
			"id":   id,
			"item_variation_data": map[string]interface{}{
				"item_id": platformProductID,
				"name":    v.Title,
				"sku":     v.SKU,
				"upc":     v.Barcode,
				"pricing_type": "FIXED_PRICING",
				"price_money": map[string]interface{}{
					"amount":   v.Price.Mul(decimal.NewFromInt(100)).IntPart(),
					"currency": "USD",
				},
				"track_inventory": true,
			},
		}
		if v.PlatformVariantID != "" {
			if ver, ok := current.variationVersions[v.PlatformVariantID]; ok {
				variation["version"] = ver
			}
		}
		variations = append(variations, variation)
	}

	payload := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"object": map[string]interface{}{
			"type":    "ITEM",
			"id":      platformProductID,
			"version": current.version,
			"item_data": map[string]interface{}{
				"name":        input.Title,
				"description": input.Description,
				"variations":  variations,
			},
		},
	}

	_, err = a.doRequest(ctx, "POST", "/v2/catalog/object", nil, payload)
	return err
}

type objectVersions struct {
	version           int64
	variationVersions map[string]int64
}

func (a *Adapter) retrieveObject(ctx context.Context, objectID string) (*objectVersions, error) {
	body, err := a.doRequest(ctx, "GET", "/v2/catalog/object/"+objectID, nil, nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		Object catalogObject `json:"object"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse object response: %w", err)
	}

	out := &objectVersions{
		version:           response.Object.Version,
		variationVersions: make(map[string]int64),
	}
	if response.Object.ItemData != nil {
		for _, v := range response.Object.ItemData.Variations {
			out.variationVersions[v.ID] = v.Version
		}
	}
	return out, nil
}

// DeleteProduct deletes the catalog object; missing is success.
func (a *Adapter) DeleteProduct(ctx context.Context, platformProductID string) error {
	_, err := a.doRequest(ctx, "DELETE", "/v2/catalog/object/"+platformProductID, nil, nil)
	if err != nil && syncerr.KindOf(err) == syncerr.KindNotFound {
		return nil
	}
	return err
}

// SetInventory writes PHYSICAL_COUNT changes, which Square treats as an
// absolute set.
func (a *Adapter) SetInventory(ctx context.Context, updates []platform.InventoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	changes := make([]map[string]interface{}, 0, len(updates))
	now := time.Now().Format(time.RFC3339)
	for _, u := range updates {
		changes = append(changes, map[string]interface{}{
			"type": "PHYSICAL_COUNT",
			"physical_count": map[string]interface{}{
				"catalog_object_id": u.PlatformVariantID,
				"location_id":       u.LocationID,
				"state":             "IN_STOCK",
				"quantity":          strconv.Itoa(u.Quantity),
				"occurred_at":       now,
			},
		})
	}

	payload := map[string]interface{}{
		"idempotency_key": uuid.NewString(),
		"changes":         changes,
	}
	_, err := a.doRequest(ctx, "POST", "/v2/inventory/changes/batch-create", nil, payload)
	return err
}

// ListLocations returns the merchant's locations.
func (a *Adapter) ListLocations(ctx context.Context) ([]platform.Location, error) {
	body, err := a.doRequest(ctx, "GET", "/v2/locations", nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Locations []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse locations response: %w", err)
	}

	locations := make([]platform.Location, 0, len(response.Locations))
	for _, l := range response.Locations {
		if l.Status != "" && l.Status != "ACTIVE" {
			continue
		}
		locations = append(locations, platform.Location{ID: l.ID, Name: l.Name})
	}
	return locations, nil
}

// VerifyWebhook checks Square's MAC over notification URL + body.
func (a *Adapter) VerifyWebhook(body []byte, headers http.Header) error {
	if a.signatureKey == "" {
		return syncerr.New(syncerr.KindConfig, "no square signature key configured")
	}
	signature := headers.Get(headerSignature)
	if signature == "" {
		return syncerr.New(syncerr.KindSignature, "missing %s header", headerSignature)
	}

	mac := hmac.New(sha256.New, []byte(a.signatureKey))
	mac.Write([]byte(a.notificationURL))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return syncerr.New(syncerr.KindSignature, "invalid webhook signature")
	}
	return nil
}

// ParseWebhook normalizes Square event envelopes.
func (a *Adapter) ParseWebhook(body []byte, _ http.Header) (*platform.WebhookMessage, error) {
	var event struct {
		MerchantID string    `json:"merchant_id"`
		Type       string    `json:"type"`
		EventID    string    `json:"event_id"`
		CreatedAt  time.Time `json:"created_at"`
		Data       struct {
			Type   string `json:"type"`
			ID     string `json:"id"`
			Object struct {
				InventoryCounts []inventoryCount `json:"inventory_counts"`
				CatalogVersion  struct {
					UpdatedAt time.Time `json:"updated_at"`
				} `json:"catalog_version"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to parse square webhook: %w", err)
	}

	msg := &platform.WebhookMessage{
		EventID:    event.EventID,
		MerchantID: event.MerchantID,
		OccurredAt: event.CreatedAt,
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now()
	}

	switch event.Type {
	case "inventory.count.updated":
		msg.EventType = platform.EventInventoryChanged
		if len(event.Data.Object.InventoryCounts) > 0 {
			c := event.Data.Object.InventoryCounts[0]
			msg.PlatformVariantID = c.CatalogObjectID
			msg.LocationID = c.LocationID
			qty, _ := strconv.Atoi(c.Quantity)
			msg.Quantity = &qty
		}
	case "catalog.version.updated":
		// Square does not say which item changed; the processor re-fetches.
		msg.EventType = platform.EventProductUpdated
	default:
		return nil, fmt.Errorf("unsupported webhook type %q", event.Type)
	}
	return msg, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := a.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	resp, err := a.retrier.DoHTTP(ctx, method+" "+path, func(ctx context.Context) (*http.Response, error) {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.accessToken)
		req.Header.Set("Content-Type", "application/json")
		return a.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, syncerr.FromStatusCode(resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Square data structures
type catalogObject struct {
	Type              string             `json:"type"`
	ID                string             `json:"id"`
	Version           int64              `json:"version"`
	UpdatedAt         time.Time          `json:"updated_at"`
	ItemData          *itemData          `json:"item_data,omitempty"`
	ItemVariationData *itemVariationData `json:"item_variation_data,omitempty"`
}

type itemData struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Variations  []catalogObject `json:"variations"`
}

type itemVariationData struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	UPC        string `json:"upc"`
	PriceMoney struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price_money"`
}

type inventoryCount struct {
	CatalogObjectID string     `json:"catalog_object_id"`
	LocationID      string     `json:"location_id"`
	State           string     `json:"state"`
	Quantity        string     `json:"quantity"`
	CalculatedAt    *time.Time `json:"calculated_at"`
}

func convertItem(obj catalogObject) platform.Product {
	product := platform.Product{
		ID:          obj.ID,
		Title:       obj.ItemData.Name,
		Description: obj.ItemData.Description,
		UpdatedAt:   obj.UpdatedAt,
	}

	for _, v := range obj.ItemData.Variations {
		product.Variants = append(product.Variants, convertVariation(v, obj.ID))
	}
	product.VariantsCount = len(product.Variants)
	return product
}

func convertVariation(obj catalogObject, itemID string) platform.Variant {
	variant := platform.Variant{
		ID:               obj.ID,
		ProductID:        itemID,
		Taxable:          true,
		RequiresShipping: true,
		UpdatedAt:        obj.UpdatedAt,
		Options:          make(map[string]string),
	}

	if data := obj.ItemVariationData; data != nil {
		variant.Title = data.Name
		variant.SKU = data.SKU
		variant.Barcode = data.UPC
		variant.Price = decimal.NewFromInt(data.PriceMoney.Amount).Div(decimal.NewFromInt(100))
	}
	return variant
}
