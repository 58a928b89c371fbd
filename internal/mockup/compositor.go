package mockup

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/dunamismax/bitwear/internal/domain"
	"github.com/dunamismax/bitwear/internal/pipeline"
	"github.com/dunamismax/bitwear/internal/pixel"
)

const jpegQuality = 90

// Rendered is one flattened mockup.
type Rendered struct {
	Product  string `json:"product"`
	Position string `json:"position"`
	View     View   `json:"view"`
	Label    string `json:"label"`
	domain.EncodedImage
}

type Compositor struct {
	catalog     *Catalog
	transformer pipeline.Transformer
	garments    *GarmentRenderer
	logger      zerolog.Logger

	mu    sync.Mutex
	bases map[baseKey]*image.NRGBA
}

type baseKey struct {
	product string
	view    View
	color   string
}

func NewCompositor(catalog *Catalog, transformer pipeline.Transformer, logger zerolog.Logger) (*Compositor, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if transformer == nil {
		var err error
		if transformer, err = pipeline.NewTransformer(); err != nil {
			return nil, err
		}
	}
	return &Compositor{
		catalog:     catalog,
		transformer: transformer,
		garments:    NewGarmentRenderer(catalog.Canvas),
		logger:      logger,
		bases:       map[baseKey]*image.NRGBA{},
	}, nil
}

func (c *Compositor) Catalog() *Catalog {
	return c.catalog
}

// Overlay computes the DOM overlay geometry for sel. A selection without a
// print area yields an invisible placement instead of an error.
func (c *Compositor) Overlay(sel Selection, artW, artH int) Placement {
	area, err := c.catalog.PrintArea(sel.Product, sel.Position)
	if err != nil {
		c.logger.Warn().
			Str("product", sel.Product).
			Str("position", sel.Position).
			Msg("print area not found")
		return Placement{Visible: false}
	}
	return Place(area, c.catalog.Canvas.Width, c.catalog.Canvas.Height, artW, artH)
}

// Base renders (and caches) the garment for sel's product, colour and the
// view of its position.
func (c *Compositor) Base(sel Selection) (*image.NRGBA, error) {
	area, err := c.catalog.PrintArea(sel.Product, sel.Position)
	if err != nil {
		return nil, err
	}
	product, err := c.catalog.Product(sel.Product)
	if err != nil {
		return nil, err
	}
	col, err := c.catalog.Color(sel.Color)
	if err != nil {
		return nil, err
	}

	key := baseKey{product: product.ID, view: area.View, color: col.ID}
	c.mu.Lock()
	cached, ok := c.bases[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	img, err := c.garments.Render(product, area.View, col)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bases[key] = img
	c.mu.Unlock()
	return img, nil
}

// Composite flattens art onto base at sel's print area and encodes the
// result in format. A nil base renders the garment for sel.
func (c *Compositor) Composite(ctx context.Context, base image.Image, art domain.EncodedImage, sel Selection, format string) ([]byte, error) {
	area, err := c.catalog.PrintArea(sel.Product, sel.Position)
	if err != nil {
		return nil, err
	}
	if base == nil {
		if base, err = c.Base(sel); err != nil {
			return nil, err
		}
	}

	artBuf, _, err := c.transformer.Decode(ctx, art.Data)
	if err != nil {
		return nil, err
	}

	w, h := c.catalog.Canvas.Width, c.catalog.Canvas.Height
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	if b := base.Bounds(); b.Dx() == w && b.Dy() == h {
		draw.Draw(canvas, canvas.Bounds(), base, b.Min, draw.Src)
	} else {
		xdraw.BiLinear.Scale(canvas, canvas.Bounds(), base, b, draw.Src, nil)
	}

	placement := Place(area, w, h, artBuf.Width, artBuf.Height)
	artImg := artBuf.NRGBA()
	xdraw.NearestNeighbor.Scale(canvas, placement.Rect, artImg, artImg.Bounds(), draw.Over, nil)

	quality := 0
	if pipeline.MimeForFormat(format) == domain.MimeJPEG {
		quality = jpegQuality
	}
	return c.transformer.Encode(ctx, pixel.FromImage(canvas), format, quality)
}

// CompositeAll renders one mockup per position of sel's product, keeping the
// selected colour. Results follow the catalog's position order.
func (c *Compositor) CompositeAll(ctx context.Context, art domain.EncodedImage, sel Selection, format string) ([]Rendered, error) {
	product, err := c.catalog.Product(sel.Product)
	if err != nil {
		return nil, err
	}

	out := make([]Rendered, len(product.Positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(product.Positions))
	for i, pos := range product.Positions {
		posSel := sel
		posSel.Position = pos.ID
		g.Go(func() error {
			data, err := c.Composite(gctx, nil, art, posSel, format)
			if err != nil {
				return fmt.Errorf("mockup %s/%s: %w", product.ID, pos.ID, err)
			}
			out[i] = Rendered{
				Product:  product.ID,
				Position: pos.ID,
				View:     pos.Area.View,
				Label:    Label(product, pos.Area.View),
				EncodedImage: domain.EncodedImage{
					Data:     data,
					MimeType: pipeline.MimeForFormat(format),
					Width:    c.catalog.Canvas.Width,
					Height:   c.catalog.Canvas.Height,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
