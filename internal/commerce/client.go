// Package commerce is a thin client for the storefront admin REST API: it
// creates one product per order and attaches the artwork and mockups to it.
package commerce

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/httpclient"
)

const (
	HeaderAccessToken = "X-Shopify-Access-Token"

	defaultAPIVersion = "2024-01"
	defaultVendor     = "8BitWear"
	productTags       = "pixel-art, custom, 8bitwear"
	maxResponseBytes  = 8 << 20
	maxErrorBody      = 2 << 10
)

type Options struct {
	StoreURL    string
	AccessToken string
	APIVersion  string
	Vendor      string
	// BaseURL replaces https://<store>/admin/api/<version>.
	BaseURL    string
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     zerolog.Logger
}

type Client struct {
	storeURL string
	baseURL  string
	token    string
	vendor   string
	http     *http.Client
	now      func() time.Time
	logger   zerolog.Logger
}

func New(opts Options) *Client {
	store := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(opts.StoreURL), "https://"), "http://"), "/")
	version := opts.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" && store != "" {
		base = "https://" + store + "/admin/api/" + version
	}
	vendor := opts.Vendor
	if vendor == "" {
		vendor = defaultVendor
	}
	client := opts.HTTPClient
	if client == nil {
		client = httpclient.New(httpclient.Options{Timeout: 60 * time.Second})
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		storeURL: store,
		baseURL:  base,
		token:    strings.TrimSpace(opts.AccessToken),
		vendor:   vendor,
		http:     client,
		now:      now,
		logger:   opts.Logger,
	}
}

// Configured reports whether both the store and the admin token are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

type ProductInput struct {
	Title       string
	ProductType string
	Color       string
	Size        string
	Position    string
	Price       int
}

type Image struct {
	ID  int64  `json:"id"`
	Src string `json:"src"`
}

type Product struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Handle string  `json:"handle"`
	Images []Image `json:"images"`
}

type variant struct {
	Option1             string  `json:"option1"`
	Option2             string  `json:"option2"`
	Price               string  `json:"price"`
	SKU                 string  `json:"sku"`
	InventoryManagement *string `json:"inventory_management"`
	FulfillmentService  string  `json:"fulfillment_service"`
}

type option struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type productPayload struct {
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type"`
	Status      string    `json:"status"`
	Tags        string    `json:"tags"`
	Variants    []variant `json:"variants"`
	Options     []option  `json:"options"`
}

var whitespace = regexp.MustCompile(`\s+`)

// SKU is 8BW-<TYPE>-<size>-<color> with whitespace replaced by dashes.
func SKU(productType, size, color string) string {
	raw := fmt.Sprintf("8BW-%s-%s-%s", strings.ToUpper(productType), size, color)
	return whitespace.ReplaceAllString(raw, "-")
}

// CreateProduct creates an active, untracked single-variant product.
func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	const op = "commerce.create_product"
	if err := c.ready(op); err != nil {
		return Product{}, err
	}

	title := in.Title
	if title == "" {
		title = fmt.Sprintf("Custom %s - %s", in.ProductType, in.Position)
	}
	payload := map[string]productPayload{"product": {
		Title:       title,
		BodyHTML:    fmt.Sprintf("<p>Custom pixel art design on %s</p><p>Size: %s | Color: %s | Position: %s</p>", in.ProductType, in.Size, in.Color, in.Position),
		Vendor:      c.vendor,
		ProductType: in.ProductType,
		Status:      "active",
		Tags:        productTags,
		Variants: []variant{{
			Option1:            in.Size,
			Option2:            in.Color,
			Price:              strconv.Itoa(in.Price),
			SKU:                SKU(in.ProductType, in.Size, in.Color),
			FulfillmentService: "manual",
		}},
		Options: []option{
			{Name: "Size", Values: []string{in.Size}},
			{Name: "Color", Values: []string{in.Color}},
		},
	}}

	var out struct {
		Product Product `json:"product"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/products.json", payload, &out); err != nil {
		return Product{}, err
	}
	if out.Product.ID == 0 {
		return Product{}, domain.NewError(domain.KindProviderRejected, op, "response has no product id", nil)
	}
	c.logger.Info().Int64("product_id", out.Product.ID).Str("handle", out.Product.Handle).Msg("product created")
	return out.Product, nil
}

// UploadProductImage attaches img to the product as a base64 attachment.
func (c *Client) UploadProductImage(ctx context.Context, productID int64, img domain.EncodedImage, filename string) (Image, error) {
	const op = "commerce.upload_image"
	if err := c.ready(op); err != nil {
		return Image{}, err
	}
	if img.Empty() {
		return Image{}, domain.NewError(domain.KindDecode, op, "image is empty", nil)
	}
	if filename == "" {
		filename = fmt.Sprintf("pixel-art-%d.png", c.now().UnixMilli())
	}

	payload := map[string]any{"image": map[string]string{
		"attachment": base64.StdEncoding.EncodeToString(img.Data),
		"filename":   filename,
	}}
	var out struct {
		Image Image `json:"image"`
	}
	path := fmt.Sprintf("/products/%d/images.json", productID)
	if err := c.do(ctx, op, http.MethodPost, path, payload, &out); err != nil {
		return Image{}, err
	}
	return out.Image, nil
}

// ProductURL is the public storefront page for p.
func (c *Client) ProductURL(p Product) string {
	if c.storeURL == "" || p.Handle == "" {
		return ""
	}
	return "https://" + c.storeURL + "/products/" + p.Handle
}

func (c *Client) ready(op string) error {
	if !c.Configured() {
		return domain.NewError(domain.KindConfiguration, op, "commerce store is not configured", nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAccessToken, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewError(domain.KindTimeout, op, "deadline exceeded", err)
		}
		return domain.NewError(domain.KindNetwork, op, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.NewError(domain.KindNetwork, op, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &domain.Error{Kind: domain.KindProviderRejected, Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewError(domain.KindProviderRejected, op, "malformed response", err)
	}
	return nil
}
