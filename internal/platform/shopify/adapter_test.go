package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/platform"
	"catalog-sync-service/internal/secrets"
	"catalog-sync-service/internal/syncerr"
)

func testAdapter(serverURL string) *Adapter {
	return &Adapter{
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		storeURL:      serverURL,
		accessToken:   "token",
		webhookSecret: "secret",
		apiVersion:    defaultAPIVersion,
		rateLimiter:   rate.NewLimiter(rate.Inf, 1),
		retrier:       platform.NewRetrier(&platform.RetryConfig{MaxRetries: 0}),
	}
}

func TestNewRequiresShopAndToken(t *testing.T) {
	conn := &models.PlatformConnection{PlatformData: models.JSONB{}}

	_, err := New(conn, &secrets.Credentials{AccessToken: "t"}, Config{})
	assert.Equal(t, syncerr.KindConfig, syncerr.KindOf(err))

	_, err = New(conn, &secrets.Credentials{ShopDomain: "acme"}, Config{})
	assert.Equal(t, syncerr.KindPlatformAuth, syncerr.KindOf(err))

	a, err := New(conn, &secrets.Credentials{ShopDomain: "acme", AccessToken: "t"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, "https://acme.myshopify.com", a.storeURL)
}

func TestFetchAllPaginates(t *testing.T) {
	var productCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("X-Shopify-Access-Token"))
		switch {
		case r.URL.Path == "/admin/api/"+defaultAPIVersion+"/locations.json":
			fmt.Fprint(w, `{"locations":[{"id":11,"name":"Main"}]}`)
		case r.URL.Path == "/admin/api/"+defaultAPIVersion+"/products.json":
			productCalls++
			if r.URL.Query().Get("page_info") == "" {
				w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/%s/products.json?page_info=cursor2>; rel="next"`, "http://x", defaultAPIVersion))
				fmt.Fprint(w, `{"products":[{"id":1,"title":"Shirt","variants":[{"id":10,"product_id":1,"title":"Default Title","sku":"S-1","price":"10.00","inventory_item_id":100}]}]}`)
			} else {
				fmt.Fprint(w, `{"products":[{"id":2,"title":"Mug","variants":[{"id":20,"product_id":2,"title":"Default Title","sku":"M-1","price":"5.00","inventory_item_id":200}]}]}`)
			}
		case r.URL.Path == "/admin/api/"+defaultAPIVersion+"/inventory_levels.json":
			fmt.Fprint(w, `{"inventory_levels":[{"inventory_item_id":100,"location_id":11,"available":3}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	snapshot, err := testAdapter(server.URL).FetchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, productCalls)
	require.Len(t, snapshot.Locations, 1)
	assert.Equal(t, "11", snapshot.Locations[0].ID)
	require.Len(t, snapshot.Products, 2)
	assert.Equal(t, "1", snapshot.Products[0].ID)
	assert.Equal(t, "2", snapshot.Products[1].ID)

	// Inventory readings landed on the matching variant.
	require.Len(t, snapshot.Products[0].Variants[0].Levels, 1)
	assert.Equal(t, 3, snapshot.Products[0].Variants[0].Levels[0].Quantity)
	assert.Empty(t, snapshot.Products[1].Variants[0].Levels)
}

func TestFetchAllHydratesLongVariantLists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/" + defaultAPIVersion + "/locations.json":
			fmt.Fprint(w, `{"locations":[]}`)
		case "/admin/api/" + defaultAPIVersion + "/products.json":
			// Reported count exceeds the inline page.
			fmt.Fprint(w, `{"products":[{"id":1,"title":"Shirt","variants_count":2,"variants":[{"id":10,"product_id":1,"price":"10.00"}]}]}`)
		case "/admin/api/" + defaultAPIVersion + "/products/1/variants.json":
			fmt.Fprint(w, `{"variants":[{"id":10,"product_id":1,"price":"10.00"},{"id":11,"product_id":1,"price":"12.00"}]}`)
		default:
			fmt.Fprint(w, `{"inventory_levels":[]}`)
		}
	}))
	defer server.Close()

	snapshot, err := testAdapter(server.URL).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Products, 1)
	assert.Len(t, snapshot.Products[0].Variants, 2)
}

func TestFetchByIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/" + defaultAPIVersion + "/products.json":
			assert.Equal(t, "1,2", r.URL.Query().Get("ids"))
			// Missing id 2 simply drops out.
			fmt.Fprint(w, `{"products":[{"id":1,"title":"Shirt","variants":[{"id":10,"product_id":1,"price":"10.00"}]}]}`)
		default:
			fmt.Fprint(w, `{"inventory_levels":[]}`)
		}
	}))
	defer server.Close()

	products, err := testAdapter(server.URL).FetchByIDs(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "1", products[0].ID)
}

func TestFetchByIDsRejectsOversizedBatch(t *testing.T) {
	ids := make([]string, platform.MaxBatchIDs+1)
	_, err := testAdapter("http://unused").FetchByIDs(context.Background(), ids)
	assert.Error(t, err)
}

func TestCreateProductPairsVariantsAndSetsInventory(t *testing.T) {
	var levelSets []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/" + defaultAPIVersion + "/products.json":
			fmt.Fprint(w, `{"product":{"id":99,"variants":[{"id":991,"sku":"S-1","inventory_item_id":501}]}}`)
		case "/admin/api/" + defaultAPIVersion + "/inventory_levels/set.json":
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			levelSets = append(levelSets, payload)
			fmt.Fprint(w, `{}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	result, err := testAdapter(server.URL).CreateProduct(context.Background(), &platform.ProductInput{
		Title:           "Shirt",
		TargetLocations: []string{"11", "12"},
		Variants: []platform.VariantInput{{
			CanonicalVariantID: "cv-1",
			SKU:                "S-1",
			Quantities:         map[string]int{"11": 4},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "99", result.PlatformProductID)
	assert.Equal(t, map[string]string{"cv-1": "991"}, result.VariantIDs)

	// Every target location gets an absolute set; locations without canonical
	// data default to zero.
	require.Len(t, levelSets, 2)
	assert.Equal(t, float64(4), levelSets[0]["available"])
	assert.Equal(t, float64(0), levelSets[1]["available"])
}

func TestResolveInventoryItemFollowsPagination(t *testing.T) {
	var productCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/api/"+defaultAPIVersion+"/products.json", r.URL.Path)
		productCalls++
		if r.URL.Query().Get("page_info") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/%s/products.json?page_info=cursor2>; rel="next"`, "http://x", defaultAPIVersion))
			fmt.Fprint(w, `{"products":[{"id":1,"variants":[{"id":10,"product_id":1,"inventory_item_id":100}]}]}`)
		} else {
			// The wanted item lives beyond the first page.
			fmt.Fprint(w, `{"products":[{"id":2,"variants":[{"id":20,"product_id":2,"inventory_item_id":200}]}]}`)
		}
	}))
	defer server.Close()

	a := testAdapter(server.URL)
	variantID, err := a.ResolveInventoryItem(context.Background(), "200")
	require.NoError(t, err)
	assert.Equal(t, "20", variantID)
	assert.Equal(t, 2, productCalls)

	_, err = a.ResolveInventoryItem(context.Background(), "999")
	assert.Equal(t, syncerr.KindNotFound, syncerr.KindOf(err))
}

func TestDeleteProductMissingIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":"Not Found"}`)
	}))
	defer server.Close()

	err := testAdapter(server.URL).DeleteProduct(context.Background(), "99")
	assert.NoError(t, err)
}

func TestDoRequestClassifiesStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := testAdapter(server.URL).TestConnection(context.Background())
	assert.Equal(t, syncerr.KindPlatformAuth, syncerr.KindOf(err))
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	a := &Adapter{webhookSecret: "secret"}
	body := []byte(`{"id":1}`)

	headers := http.Header{}
	headers.Set(headerHmac, signBody("secret", body))
	assert.NoError(t, a.VerifyWebhook(body, headers))

	headers.Set(headerHmac, signBody("wrong", body))
	err := a.VerifyWebhook(body, headers)
	assert.Equal(t, syncerr.KindSignature, syncerr.KindOf(err))

	err = a.VerifyWebhook(body, http.Header{})
	assert.Equal(t, syncerr.KindSignature, syncerr.KindOf(err))

	unconfigured := &Adapter{}
	err = unconfigured.VerifyWebhook(body, headers)
	assert.Equal(t, syncerr.KindConfig, syncerr.KindOf(err))
}

func TestParseWebhookProductUpdate(t *testing.T) {
	a := &Adapter{webhookSecret: "secret"}
	headers := http.Header{}
	headers.Set(headerTopic, "products/update")
	headers.Set(headerShopDomain, "acme.myshopify.com")
	headers.Set(headerWebhookID, "wh-1")

	msg, err := a.ParseWebhook([]byte(`{"id":42,"title":"Shirt","variants":[{"id":421,"product_id":42,"price":"10.00"}]}`), headers)
	require.NoError(t, err)

	assert.Equal(t, platform.EventProductUpdated, msg.EventType)
	assert.Equal(t, "wh-1", msg.EventID)
	assert.Equal(t, "acme.myshopify.com", msg.ShopDomain)
	assert.Equal(t, "42", msg.PlatformProductID)
	require.NotNil(t, msg.Product)
	assert.Equal(t, "Shirt", msg.Product.Title)
}

func TestParseWebhookProductDeleteOmitsBody(t *testing.T) {
	a := &Adapter{}
	headers := http.Header{}
	headers.Set(headerTopic, "products/delete")

	msg, err := a.ParseWebhook([]byte(`{"id":42}`), headers)
	require.NoError(t, err)
	assert.Equal(t, platform.EventProductDeleted, msg.EventType)
	assert.Equal(t, "42", msg.PlatformProductID)
	assert.Nil(t, msg.Product)
	// Missing webhook id falls back to a deterministic topic-scoped key.
	assert.Equal(t, "products/delete-42", msg.EventID)
}

func TestParseWebhookInventoryLevel(t *testing.T) {
	a := &Adapter{}
	headers := http.Header{}
	headers.Set(headerTopic, "inventory_levels/update")

	msg, err := a.ParseWebhook([]byte(`{"inventory_item_id":501,"location_id":11,"available":7}`), headers)
	require.NoError(t, err)

	assert.Equal(t, platform.EventInventoryChanged, msg.EventType)
	assert.Equal(t, "501", msg.InventoryItemID)
	assert.Equal(t, "11", msg.LocationID)
	require.NotNil(t, msg.Quantity)
	assert.Equal(t, 7, *msg.Quantity)
}

func TestParseWebhookUnsupportedTopic(t *testing.T) {
	a := &Adapter{}
	headers := http.Header{}
	headers.Set(headerTopic, "orders/create")

	_, err := a.ParseWebhook([]byte(`{}`), headers)
	assert.Error(t, err)
}

func TestParsePagination(t *testing.T) {
	next, ok := parsePagination(`<https://x/admin/api/2024-01/products.json?page_info=abc&limit=250>; rel="next", <https://x>; rel="previous"`)
	assert.True(t, ok)
	assert.Equal(t, "abc", next)

	_, ok = parsePagination(`<https://x>; rel="previous"`)
	assert.False(t, ok)

	_, ok = parsePagination("")
	assert.False(t, ok)
}
