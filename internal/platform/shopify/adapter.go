package shopify

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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

const defaultAPIVersion = "2024-01"

// Webhook headers
const (
	headerHmac       = "X-Shopify-Hmac-Sha256"
	headerTopic      = "X-Shopify-Topic"
	headerShopDomain = "X-Shopify-Shop-Domain"
	headerWebhookID  = "X-Shopify-Webhook-Id"
)

// Adapter implements platform.Adapter for the Shopify Admin REST API.
type Adapter struct {
	httpClient    *http.Client
	storeURL      string
	accessToken   string
	webhookSecret string
	apiVersion    string
	rateLimiter   *rate.Limiter
	retrier       *platform.Retrier
}

// Config holds adapter-level settings shared across connections.
type Config struct {
	APIVersion    string
	WebhookSecret string
}

// NewFactory returns a platform.Factory for Shopify.
func NewFactory(cfg Config) platform.Factory {
	return func(conn *models.PlatformConnection, creds *secrets.Credentials) (platform.Adapter, error) {
		return New(conn, creds, cfg)
	}
}

// New creates an adapter bound to one connection's shop and token.
func New(conn *models.PlatformConnection, creds *secrets.Credentials, cfg Config) (*Adapter, error) {
	shop := creds.ShopDomain
	if shop == "" {
		shop = conn.ShopDomain()
	}
	if shop == "" {
		return nil, syncerr.New(syncerr.KindConfig, "shopify connection %s has no shop domain", conn.ID)
	}
	if creds.AccessToken == "" {
		return nil, syncerr.New(syncerr.KindPlatformAuth, "shopify connection %s has no access token", conn.ID)
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	secret := creds.WebhookSecret
	if secret == "" {
		secret = cfg.WebhookSecret
	}

	if !strings.Contains(shop, ".") {
		shop = shop + ".myshopify.com"
	}

	return &Adapter{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		storeURL:      "https://" + shop,
		accessToken:   creds.AccessToken,
		webhookSecret: secret,
		apiVersion:    apiVersion,
		rateLimiter:   rate.NewLimiter(rate.Limit(2), 1), // 2 requests per second
		retrier:       platform.NewRetrier(nil),
	}, nil
}

// NewWebhookCodec returns a verifier/parser usable before the owning
// connection is resolved. Shopify signs webhooks with the app-level secret.
func NewWebhookCodec(cfg Config) platform.WebhookCodec {
	return &Adapter{webhookSecret: cfg.WebhookSecret}
}

// Type returns the platform type
func (a *Adapter) Type() models.PlatformType {
	return models.PlatformShopify
}

// TestConnection verifies the credentials against /shop.json
func (a *Adapter) TestConnection(ctx context.Context) error {
	_, _, err := a.doRequest(ctx, "GET", "/shop.json", nil, nil)
	return err
}

// FetchAll pages through /products.json and /locations.json. Products whose
// reported variant count exceeds the inline page get their remaining variant
// pages fetched before the product is emitted.
func (a *Adapter) FetchAll(ctx context.Context) (*platform.Snapshot, error) {
	locations, err := a.ListLocations(ctx)
	if err != nil {
		return nil, err
	}

	var products []platform.Product
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", "250")
		if cursor != "" {
			params.Set("page_info", cursor)
		}

		body, headers, err := a.doRequest(ctx, "GET", "/products.json", params, nil)
		if err != nil {
			return nil, err
		}

		var response struct {
			Products []shopifyProduct `json:"products"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to parse products response: %w", err)
		}

		for _, p := range response.Products {
			product, err := a.hydrateProduct(ctx, p)
			if err != nil {
				return nil, err
			}
			products = append(products, product)
		}

		next, hasMore := parsePagination(headers.Get("Link"))
		if !hasMore {
			break
		}
		cursor = next
	}

	if err := a.attachInventory(ctx, products); err != nil {
		return nil, err
	}

	return &platform.Snapshot{Products: products, Locations: locations}, nil
}

// hydrateProduct converts a product and completes its variant list when the
// inline page is short of the reported total.
func (a *Adapter) hydrateProduct(ctx context.Context, p shopifyProduct) (platform.Product, error) {
	product := convertProduct(p)
	if p.VariantsCount == nil || *p.VariantsCount <= len(p.Variants) {
		return product, nil
	}

	cursor := ""
	var extras []platform.Variant
	for {
		params := url.Values{}
		params.Set("limit", "250")
		if cursor != "" {
			params.Set("page_info", cursor)
		}
		body, headers, err := a.doRequest(ctx, "GET", fmt.Sprintf("/products/%d/variants.json", p.ID), params, nil)
		if err != nil {
			return product, err
		}

		var response struct {
			Variants []shopifyVariant `json:"variants"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return product, fmt.Errorf("failed to parse variants response: %w", err)
		}
		for _, v := range response.Variants {
			extras = append(extras, convertVariant(v, p))
		}

		next, hasMore := parsePagination(headers.Get("Link"))
		if !hasMore {
			break
		}
		cursor = next
	}

	// Replace rather than append: the dedicated endpoint returns the full set.
	product.Variants = extras
	return product, nil
}

// attachInventory loads inventory levels for all variants in batches of 50
// inventory item ids and attaches them as level readings.
func (a *Adapter) attachInventory(ctx context.Context, products []platform.Product) error {
	itemToVariant := make(map[string]*platform.Variant)
	var itemIDs []string
	for pi := range products {
		for vi := range products[pi].Variants {
			v := &products[pi].Variants[vi]
			if v.InventoryItemID != "" && v.InventoryItemID != "0" {
				itemToVariant[v.InventoryItemID] = v
				itemIDs = append(itemIDs, v.InventoryItemID)
			}
		}
	}

	for start := 0; start < len(itemIDs); start += 50 {
		end := start + 50
		if end > len(itemIDs) {
			end = len(itemIDs)
		}

		params := url.Values{}
		params.Set("inventory_item_ids", strings.Join(itemIDs[start:end], ","))
		params.Set("limit", "250")

		body, _, err := a.doRequest(ctx, "GET", "/inventory_levels.json", params, nil)
		if err != nil {
			return err
		}

		var response struct {
			InventoryLevels []struct {
				InventoryItemID int64      `json:"inventory_item_id"`
				LocationID      int64      `json:"location_id"`
				Available       int        `json:"available"`
				UpdatedAt       *time.Time `json:"updated_at"`
			} `json:"inventory_levels"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("failed to parse inventory levels response: %w", err)
		}

		for _, lvl := range response.InventoryLevels {
			v, ok := itemToVariant[strconv.FormatInt(lvl.InventoryItemID, 10)]
			if !ok {
				continue
			}
			v.Levels = append(v.Levels, platform.LevelReading{
				LocationID: strconv.FormatInt(lvl.LocationID, 10),
				Quantity:   lvl.Available,
				UpdatedAt:  lvl.UpdatedAt,
			})
		}
	}
	return nil
}

// FetchByIDs fetches a bounded batch of products by id; missing ids drop out.
func (a *Adapter) FetchByIDs(ctx context.Context, ids []string) ([]platform.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > platform.MaxBatchIDs {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(ids), platform.MaxBatchIDs)
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("limit", "250")

	body, _, err := a.doRequest(ctx, "GET", "/products.json", params, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Products []shopifyProduct `json:"products"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse products response: %w", err)
	}

	products := make([]platform.Product, 0, len(response.Products))
	for _, p := range response.Products {
		product, err := a.hydrateProduct(ctx, p)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := a.attachInventory(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateProduct creates the product, then sets inventory for every target
// location on every created variant.
func (a *Adapter) CreateProduct(ctx context.Context, input *platform.ProductInput) (*platform.CreateResult, error) {
	payload := map[string]interface{}{
		"product": buildProductPayload(input),
	}

	body, _, err := a.doRequest(ctx, "POST", "/products.json", nil, payload)
	if err != nil {
		return nil, err
	}

	var response struct {
		Product shopifyProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}

	result := &platform.CreateResult{
		PlatformProductID: strconv.FormatInt(response.Product.ID, 10),
		VariantIDs:        make(map[string]string),
	}

	// Shopify returns variants in request order; pair them back up by SKU
	// first, position as fallback.
	bySKU := make(map[string]shopifyVariant)
	for _, v := range response.Product.Variants {
		if v.SKU != "" {
			bySKU[v.SKU] = v
		}
	}
	for i, in := range input.Variants {
		var created shopifyVariant
		if v, ok := bySKU[in.SKU]; ok && in.SKU != "" {
			created = v
		} else if i < len(response.Product.Variants) {
			created = response.Product.Variants[i]
		} else {
			continue
		}
		result.VariantIDs[in.CanonicalVariantID] = strconv.FormatInt(created.ID, 10)

		if err := a.setVariantInventory(ctx, created, in.Quantities, input.TargetLocations); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (a *Adapter) setVariantInventory(ctx context.Context, v shopifyVariant, quantities map[string]int, targetLocations []string) error {
	item := strconv.FormatInt(v.InventoryItemID, 10)
	for _, loc := range targetLocations {
		qty := quantities[loc] // absent canonical data defaults to 0
		if err := a.setLevel(ctx, item, loc, qty); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) setLevel(ctx context.Context, inventoryItemID, locationID string, quantity int) error {
	payload := map[string]interface{}{
		"inventory_item_id": inventoryItemID,
		"location_id":       locationID,
		"available":         quantity,
	}
	_, _, err := a.doRequest(ctx, "POST", "/inventory_levels/set.json", nil, payload)
	return err
}

// UpdateProduct sends the full product payload; variants with a platform id
// keep it, the rest are additions.
func (a *Adapter) UpdateProduct(ctx context.Context, platformProductID string, input *platform.ProductInput) error {
	productPayload := buildProductPayload(input)
	productPayload["id"] = platformProductID

	payload := map[string]interface{}{"product": productPayload}
	_, _, err := a.doRequest(ctx, "PUT", fmt.Sprintf("/products/%s.json", platformProductID), nil, payload)
	return err
}

// DeleteProduct removes the product; a 404 means it is already gone.
func (a *Adapter) DeleteProduct(ctx context.Context, platformProductID string) error {
	_, _, err := a.doRequest(ctx, "DELETE", fmt.Sprintf("/products/%s.json", platformProductID), nil, nil)
	if err != nil && syncerr.KindOf(err) == syncerr.KindNotFound {
		return nil
	}
	return err
}

// SetInventory resolves each variant to its inventory item and sets the
// absolute quantity per location.
func (a *Adapter) SetInventory(ctx context.Context, updates []platform.InventoryUpdate) error {
	itemCache := make(map[string]string)
	for _, u := range updates {
		item, ok := itemCache[u.PlatformVariantID]
		if !ok {
			var err error
			item, err = a.inventoryItemForVariant(ctx, u.PlatformVariantID)
			if err != nil {
				return err
			}
			itemCache[u.PlatformVariantID] = item
		}
		if err := a.setLevel(ctx, item, u.LocationID, u.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) inventoryItemForVariant(ctx context.Context, variantID string) (string, error) {
	body, _, err := a.doRequest(ctx, "GET", fmt.Sprintf("/variants/%s.json", variantID), nil, nil)
	if err != nil {
		return "", err
	}
	var response struct {
		Variant shopifyVariant `json:"variant"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse variant response: %w", err)
	}
	return strconv.FormatInt(response.Variant.InventoryItemID, 10), nil
}

// ResolveInventoryItem maps an inventory item id (as delivered by
// inventory_levels/update webhooks) back to its variant id.
func (a *Adapter) ResolveInventoryItem(ctx context.Context, inventoryItemID string) (string, error) {
	// The variants endpoint has no inventory item filter; walk products with
	// a sparse field set instead.
	cursor := ""
	for {
		params := url.Values{}
		params.Set("fields", "id,variants")
		params.Set("limit", "250")
		if cursor != "" {
			params.Set("page_info", cursor)
		}

		body, headers, err := a.doRequest(ctx, "GET", "/products.json", params, nil)
		if err != nil {
			return "", err
		}

		var response struct {
			Products []struct {
				Variants []shopifyVariant `json:"variants"`
			} `json:"products"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return "", fmt.Errorf("failed to parse products response: %w", err)
		}

		for _, p := range response.Products {
			for _, v := range p.Variants {
				if strconv.FormatInt(v.InventoryItemID, 10) == inventoryItemID {
					return strconv.FormatInt(v.ID, 10), nil
				}
			}
		}

		next, hasMore := parsePagination(headers.Get("Link"))
		if !hasMore {
			break
		}
		cursor = next
	}
	return "", syncerr.New(syncerr.KindNotFound, "no variant for inventory item %s", inventoryItemID)
}

// ListLocations returns the shop's stock locations.
func (a *Adapter) ListLocations(ctx context.Context) ([]platform.Location, error) {
	body, _, err := a.doRequest(ctx, "GET", "/locations.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Locations []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse locations response: %w", err)
	}

	locations := make([]platform.Location, 0, len(response.Locations))
	for _, l := range response.Locations {
		locations = append(locations, platform.Location{
			ID:   strconv.FormatInt(l.ID, 10),
			Name: l.Name,
		})
	}
	return locations, nil
}

// VerifyWebhook checks the HMAC-SHA256 signature header in constant time.
func (a *Adapter) VerifyWebhook(body []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return syncerr.New(syncerr.KindConfig, "no shopify webhook secret configured")
	}
	signature := headers.Get(headerHmac)
	if signature == "" {
		return syncerr.New(syncerr.KindSignature, "missing %s header", headerHmac)
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return syncerr.New(syncerr.KindSignature, "invalid webhook signature")
	}
	return nil
}

// ParseWebhook normalizes the payload using the topic header.
func (a *Adapter) ParseWebhook(body []byte, headers http.Header) (*platform.WebhookMessage, error) {
	topic := headers.Get(headerTopic)

	msg := &platform.WebhookMessage{
		EventID:    headers.Get(headerWebhookID),
		ShopDomain: headers.Get(headerShopDomain),
		OccurredAt: time.Now(),
	}

	switch topic {
	case "products/create", "products/update", "products/delete":
		var p shopifyProduct
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to parse product webhook: %w", err)
		}
		msg.PlatformProductID = strconv.FormatInt(p.ID, 10)
		switch topic {
		case "products/create":
			msg.EventType = platform.EventProductCreated
		case "products/update":
			msg.EventType = platform.EventProductUpdated
		case "products/delete":
			msg.EventType = platform.EventProductDeleted
		}
		if topic != "products/delete" {
			product := convertProduct(p)
			msg.Product = &product
		}
	case "inventory_levels/update":
		var lvl struct {
			InventoryItemID int64 `json:"inventory_item_id"`
			LocationID      int64 `json:"location_id"`
			Available       int   `json:"available"`
		}
		if err := json.Unmarshal(body, &lvl); err != nil {
			return nil, fmt.Errorf("failed to parse inventory webhook: %w", err)
		}
		msg.EventType = platform.EventInventoryChanged
		msg.InventoryItemID = strconv.FormatInt(lvl.InventoryItemID, 10)
		msg.LocationID = strconv.FormatInt(lvl.LocationID, 10)
		qty := lvl.Available
		msg.Quantity = &qty
	default:
		return nil, fmt.Errorf("unsupported webhook topic %q", topic)
	}

	if msg.EventID == "" {
		msg.EventID = fmt.Sprintf("%s-%s", topic, msg.PlatformProductID)
	}
	return msg, nil
}

// doRequest performs an authenticated request with rate limiting and retries.
func (a *Adapter) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, http.Header, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	fullURL := fmt.Sprintf("%s/admin/api/%s%s", a.storeURL, a.apiVersion, path)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, err
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
		req.Header.Set("X-Shopify-Access-Token", a.accessToken)
		req.Header.Set("Content-Type", "application/json")
		return a.httpClient.Do(req)
	})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, nil, syncerr.FromStatusCode(resp.StatusCode, string(respBody))
	}
	return respBody, resp.Header, nil
}

// buildProductPayload maps a ProductInput to the Shopify product body.
func buildProductPayload(input *platform.ProductInput) map[string]interface{} {
	optionNames := make([]string, 0, len(input.Options))
	options := make([]map[string]interface{}, 0, len(input.Options))
	for _, opt := range input.Options {
		optionNames = append(optionNames, opt.Name)
		options = append(options, map[string]interface{}{
			"name":   opt.Name,
			"values": opt.Values,
		})
	}

	variants := make([]map[string]interface{}, 0, len(input.Variants))
	for _, v := range input.Variants {
		variant := map[string]interface{}{
			"title":                v.Title,
			"sku":                  v.SKU,
			"price":                v.Price.StringFixed(2),
			"taxable":              v.Taxable,
			"requires_shipping":    v.RequiresShipping,
			"inventory_management": "shopify",
		}
		if v.PlatformVariantID != "" {
			variant["id"] = v.PlatformVariantID
		}
		if v.Barcode != "" {
			variant["barcode"] = v.Barcode
		}
		if v.CompareAtPrice != nil {
			variant["compare_at_price"] = v.CompareAtPrice.StringFixed(2)
		}
		if v.Weight != nil {
			variant["weight"] = *v.Weight
			variant["weight_unit"] = v.WeightUnit
		}
		for i, name := range optionNames {
			if i >= 3 {
				break
			}
			variant[fmt.Sprintf("option%d", i+1)] = v.Options[name]
		}
		variants = append(variants, variant)
	}

	images := make([]map[string]interface{}, 0, len(input.Images))
	for _, img := range input.Images {
		images = append(images, map[string]interface{}{
			"src":      img.Src,
			"position": img.Position,
		})
	}

	payload := map[string]interface{}{
		"title":    input.Title,
		"variants": variants,
	}
	if input.Description != "" {
		payload["body_html"] = input.Description
	}
	if len(options) > 0 {
		payload["options"] = options
	}
	if len(images) > 0 {
		payload["images"] = images
	}
	return payload
}

// Shopify data structures
type shopifyProduct struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	BodyHTML      string           `json:"body_html"`
	Status        string           `json:"status"`
	Variants      []shopifyVariant `json:"variants"`
	Images        []shopifyImage   `json:"images"`
	Options       []shopifyOption  `json:"options"`
	VariantsCount *int             `json:"variants_count,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type shopifyVariant struct {
	ID              int64      `json:"id"`
	ProductID       int64      `json:"product_id"`
	Title           string     `json:"title"`
	SKU             string     `json:"sku"`
	Barcode         string     `json:"barcode"`
	Price           string     `json:"price"`
	CompareAtPrice  *string    `json:"compare_at_price"`
	Weight          float64    `json:"weight"`
	WeightUnit      string     `json:"weight_unit"`
	Taxable         bool       `json:"taxable"`
	InventoryItemID int64      `json:"inventory_item_id"`
	Position        int        `json:"position"`
	Option1         string     `json:"option1"`
	Option2         string     `json:"option2"`
	Option3         string     `json:"option3"`
	ImageID         *int64     `json:"image_id"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type shopifyImage struct {
	ID       int64  `json:"id"`
	Src      string `json:"src"`
	Position int    `json:"position"`
}

type shopifyOption struct {
	Name     string   `json:"name"`
	Position int      `json:"position"`
	Values   []string `json:"values"`
}

func convertProduct(p shopifyProduct) platform.Product {
	product := platform.Product{
		ID:          strconv.FormatInt(p.ID, 10),
		Title:       p.Title,
		Description: p.BodyHTML,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.VariantsCount != nil {
		product.VariantsCount = *p.VariantsCount
	} else {
		product.VariantsCount = len(p.Variants)
	}

	imageByID := make(map[int64]shopifyImage)
	for _, img := range p.Images {
		imageByID[img.ID] = img
		product.Images = append(product.Images, platform.Image{
			ID:       strconv.FormatInt(img.ID, 10),
			Src:      img.Src,
			Position: img.Position,
		})
	}

	for _, opt := range p.Options {
		product.Options = append(product.Options, platform.Option{
			Name:     opt.Name,
			Position: opt.Position,
			Values:   opt.Values,
		})
	}

	for _, v := range p.Variants {
		variant := convertVariant(v, p)
		if v.ImageID != nil {
			if img, ok := imageByID[*v.ImageID]; ok {
				variant.ImageURL = img.Src
			}
		}
		product.Variants = append(product.Variants, variant)
	}

	return product
}

func convertVariant(v shopifyVariant, p shopifyProduct) platform.Variant {
	variant := platform.Variant{
		ID:               strconv.FormatInt(v.ID, 10),
		ProductID:        strconv.FormatInt(v.ProductID, 10),
		Title:            v.Title,
		SKU:              v.SKU,
		Barcode:          v.Barcode,
		WeightUnit:       v.WeightUnit,
		Taxable:          v.Taxable,
		RequiresShipping: true,
		UpdatedAt:        v.UpdatedAt,
		Options:          make(map[string]string),
	}

	variant.Price, _ = decimal.NewFromString(v.Price)
	if v.CompareAtPrice != nil && *v.CompareAtPrice != "" {
		if d, err := decimal.NewFromString(*v.CompareAtPrice); err == nil {
			variant.CompareAtPrice = &d
		}
	}
	if v.Weight != 0 {
		w := v.Weight
		variant.Weight = &w
	}

	optionValues := []string{v.Option1, v.Option2, v.Option3}
	for i, opt := range p.Options {
		if i < len(optionValues) && optionValues[i] != "" {
			variant.Options[opt.Name] = optionValues[i]
		}
	}

	variant.InventoryItemID = strconv.FormatInt(v.InventoryItemID, 10)

	return variant
}

func parsePagination(linkHeader string) (string, bool) {
	// Format: <url>; rel="next", <url>; rel="previous"
	if linkHeader == "" {
		return "", false
	}
	parts := strings.Split(linkHeader, ",")
	for _, part := range parts {
		if strings.Contains(part, `rel="next"`) {
			urlPart := strings.TrimSpace(strings.Split(part, ";")[0])
			urlPart = strings.Trim(urlPart, "<>")
			if parsedURL, err := url.Parse(urlPart); err == nil {
				return parsedURL.Query().Get("page_info"), true
			}
		}
	}
	return "", false
}
