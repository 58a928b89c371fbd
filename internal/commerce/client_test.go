package commerce

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dunamismax/bitwear/internal/domain"
)

func TestCreateProductAndUploadImage(t *testing.T) {
	var (
		created  map[string]map[string]any
		uploaded map[string]map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderAccessToken) != "shpat_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/admin/products.json":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode product: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"product":{"id":42,"title":"Custom tshirt","handle":"custom-tshirt-ord-1","images":[]}}`))
		case "/admin/products/42/images.json":
			if err := json.NewDecoder(r.Body).Decode(&uploaded); err != nil {
				t.Errorf("decode image: %v", err)
			}
			_, _ = w.Write([]byte(`{"image":{"id":7,"src":"https://cdn.example.com/art.png"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(Options{
		StoreURL:    "8bitwear.myshopify.com",
		AccessToken: "shpat_test",
		BaseURL:     srv.URL + "/admin",
		HTTPClient:  srv.Client(),
		Now:         func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})

	product, err := client.CreateProduct(context.Background(), ProductInput{
		Title:       "Custom tshirt - ORD-1",
		ProductType: "tshirt",
		Color:       "navy",
		Size:        "XL",
		Position:    "left-chest",
		Price:       1500,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.ID != 42 {
		t.Fatalf("unexpected product %+v", product)
	}

	p := created["product"]
	if p["vendor"] != "8BitWear" || p["status"] != "active" || p["product_type"] != "tshirt" {
		t.Fatalf("unexpected payload %+v", p)
	}
	v := p["variants"].([]any)[0].(map[string]any)
	if v["sku"] != "8BW-TSHIRT-XL-navy" || v["price"] != "1500" || v["inventory_management"] != nil {
		t.Fatalf("unexpected variant %+v", v)
	}

	img, err := client.UploadProductImage(context.Background(), product.ID, domain.EncodedImage{Data: []byte("png-bytes"), MimeType: domain.MimePNG}, "")
	if err != nil {
		t.Fatalf("upload image: %v", err)
	}
	if img.Src != "https://cdn.example.com/art.png" {
		t.Fatalf("unexpected image %+v", img)
	}
	if uploaded["image"]["attachment"] != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Fatal("expected base64 attachment")
	}
	if uploaded["image"]["filename"] != "pixel-art-1700000000000.png" {
		t.Fatalf("unexpected filename %q", uploaded["image"]["filename"])
	}

	if got := client.ProductURL(product); got != "https://8bitwear.myshopify.com/products/custom-tshirt-ord-1" {
		t.Fatalf("unexpected product url %q", got)
	}
}

func TestCreateProductRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"title":["can't be blank"]}}`))
	}))
	defer srv.Close()

	client := New(Options{StoreURL: "shop.example.com", AccessToken: "token", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.CreateProduct(context.Background(), ProductInput{ProductType: "hat", Size: "M", Color: "red", Position: "front", Price: 1200})

	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindProviderRejected || de.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected rejected 422, got %v", err)
	}
	if de.Body == "" {
		t.Fatal("expected response body on the error")
	}
}

func TestUnconfiguredClient(t *testing.T) {
	client := New(Options{})
	if client.Configured() {
		t.Fatal("expected unconfigured client")
	}
	if _, err := client.CreateProduct(context.Background(), ProductInput{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := client.UploadProductImage(context.Background(), 1, domain.EncodedImage{Data: []byte("x")}, ""); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSKU(t *testing.T) {
	if got := SKU("sweatshirt", "X L", "dark gray"); got != "8BW-SWEATSHIRT-X-L-dark-gray" {
		t.Fatalf("unexpected sku %q", got)
	}
}
