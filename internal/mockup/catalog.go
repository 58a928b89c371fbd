// Package mockup holds the product catalog, computes where pixel art sits on
// a garment and renders flattened mockup previews.
package mockup

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dunamismax/bitwear/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const defaultTransform = "translate(-50%, -50%)"

type View string

const (
	ViewFront     View = "front"
	ViewSideLeft  View = "side-left"
	ViewSideRight View = "side-right"
	ViewSide      View = "side"
)

// PrintArea positions art on a mockup. Top, Left and Width are percentages
// of the canvas; MaxWidth caps the width in canvas pixels.
type PrintArea struct {
	View      View    `yaml:"view" json:"view"`
	Top       float64 `yaml:"top" json:"top"`
	Left      float64 `yaml:"left" json:"left"`
	Width     float64 `yaml:"width" json:"width"`
	MaxWidth  int     `yaml:"max_width" json:"max_width"`
	Transform string  `yaml:"transform" json:"transform"`
}

type Position struct {
	ID   string    `yaml:"id" json:"id"`
	Name string    `yaml:"name" json:"name"`
	Icon string    `yaml:"icon" json:"icon"`
	Area PrintArea `yaml:"area" json:"area"`
}

type Product struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Silhouette string     `yaml:"silhouette" json:"silhouette"`
	Price      int        `yaml:"price" json:"price"`
	Positions  []Position `yaml:"positions" json:"positions"`
}

type Color struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Hex  string `yaml:"hex" json:"hex"`
}

// Selection is the user's current product configuration.
type Selection struct {
	Product  string `yaml:"product" json:"product"`
	Position string `yaml:"position" json:"position"`
	Color    string `yaml:"color" json:"color"`
	Size     string `yaml:"size" json:"size"`
}

type Canvas struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

type Catalog struct {
	Canvas   Canvas    `yaml:"canvas" json:"canvas"`
	Defaults Selection `yaml:"defaults" json:"defaults"`
	Sizes    []string  `yaml:"sizes" json:"sizes"`
	Colors   []Color   `yaml:"colors" json:"colors"`
	Products []Product `yaml:"products" json:"products"`
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads path, or the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.Canvas.Width <= 0 || c.Canvas.Height <= 0 {
		c.Canvas = Canvas{Width: 800, Height: 1000}
	}
	if len(c.Products) == 0 {
		return nil, errors.New("catalog has no products")
	}
	if len(c.Colors) == 0 {
		return nil, errors.New("catalog has no colors")
	}

	for i := range c.Products {
		p := &c.Products[i]
		if len(p.Positions) == 0 {
			return nil, fmt.Errorf("product %q has no positions", p.ID)
		}
		// Products may share one positions list through a YAML alias, so
		// each gets its own copy before defaults are filled in.
		p.Positions = append([]Position(nil), p.Positions...)
		for j := range p.Positions {
			if p.Positions[j].Area.Transform == "" {
				p.Positions[j].Area.Transform = defaultTransform
			}
		}
	}

	if c.Defaults.Product == "" {
		c.Defaults.Product = c.Products[0].ID
	}
	if c.Defaults.Color == "" {
		c.Defaults.Color = c.Colors[0].ID
	}
	if c.Defaults.Size == "" && len(c.Sizes) > 0 {
		c.Defaults.Size = c.Sizes[len(c.Sizes)/2]
	}
	if _, err := c.Product(c.Defaults.Product); err != nil {
		return nil, fmt.Errorf("catalog defaults: %w", err)
	}
	return &c, nil
}

func (c *Catalog) Product(id string) (Product, error) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, domain.NewError(domain.KindConfiguration, "catalog", fmt.Sprintf("unknown product %q", id), nil)
}

func (c *Catalog) Color(id string) (Color, error) {
	for _, col := range c.Colors {
		if col.ID == id {
			return col, nil
		}
	}
	return Color{}, domain.NewError(domain.KindConfiguration, "catalog", fmt.Sprintf("unknown color %q", id), nil)
}

// PrintArea looks up the area for a product position. A missing entry is a
// ConfigurationError.
func (c *Catalog) PrintArea(product, position string) (PrintArea, error) {
	p, err := c.Product(product)
	if err != nil {
		return PrintArea{}, err
	}
	for _, pos := range p.Positions {
		if pos.ID == position {
			return pos.Area, nil
		}
	}
	return PrintArea{}, domain.NewError(domain.KindConfiguration, "catalog", fmt.Sprintf("no print area for %s/%s", product, position), nil)
}

// DefaultSelection is the catalog defaults with the default product's first
// position.
func (c *Catalog) DefaultSelection() Selection {
	sel := c.Defaults
	if p, err := c.Product(sel.Product); err == nil && sel.Position == "" {
		sel.Position = p.Positions[0].ID
	}
	return sel
}

// SelectProduct switches product and resets the position to the new
// product's first one. Color and size carry over.
func (c *Catalog) SelectProduct(sel Selection, product string) (Selection, error) {
	p, err := c.Product(product)
	if err != nil {
		return sel, err
	}
	sel.Product = p.ID
	sel.Position = p.Positions[0].ID
	return sel, nil
}

// Validate checks every field of sel against the catalog.
func (c *Catalog) Validate(sel Selection) error {
	if _, err := c.PrintArea(sel.Product, sel.Position); err != nil {
		return err
	}
	if _, err := c.Color(sel.Color); err != nil {
		return err
	}
	for _, s := range c.Sizes {
		if s == sel.Size {
			return nil
		}
	}
	return domain.NewError(domain.KindConfiguration, "catalog", fmt.Sprintf("unknown size %q", sel.Size), nil)
}

// Apply merges non-empty fields of update into sel. A product change resets
// the position unless update names one.
func (c *Catalog) Apply(sel, update Selection) (Selection, error) {
	next := sel
	if update.Product != "" && update.Product != sel.Product {
		var err error
		if next, err = c.SelectProduct(next, update.Product); err != nil {
			return sel, err
		}
	}
	if update.Position != "" {
		next.Position = update.Position
	}
	if update.Color != "" {
		next.Color = update.Color
	}
	if update.Size != "" {
		next.Size = update.Size
	}
	if err := c.Validate(next); err != nil {
		return sel, err
	}
	return next, nil
}

// Price returns the product price in whole lira.
func (c *Catalog) Price(product string) (int, error) {
	p, err := c.Product(product)
	if err != nil {
		return 0, err
	}
	return p.Price, nil
}

func (p Product) Position(id string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.ID == id {
			return pos, true
		}
	}
	return Position{}, false
}
