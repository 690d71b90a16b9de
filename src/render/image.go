package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/utils"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	ThumbBound = 512
	TileSize   = 256
	MaxZoom    = 4
)

var PreviewBounds = []int{1024, 2048}

type ImageRenderer struct {
	TileConcurrency int
	TileIsolation   Isolation
}

var _ Renderer = &ImageRenderer{}

func NewImageRenderer(tileConcurrency int) *ImageRenderer {
	if tileConcurrency < 1 {
		tileConcurrency = 1
	}
	return &ImageRenderer{
		TileConcurrency: tileConcurrency,
		TileIsolation:   SkipAndLog,
	}
}

func (r *ImageRenderer) Render(ctx context.Context, srcPath string, out *Emitter) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return oops.New(err, "failed to read source image")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return oops.Render(err, "unsupported or corrupt image")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return oops.Render(nil, "image has no dimensions (%dx%d)", cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return oops.Render(err, "failed to decode %s image", format)
	}

	logger := logging.ExtractLogger(ctx)
	logger.Debug().
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("rendering image")

	if err := r.renderScaled(ctx, src, models.RenditionKindThumb, "thumb", ThumbBound, out); err != nil {
		return err
	}
	for _, bound := range PreviewBounds {
		if err := r.renderScaled(ctx, src, models.RenditionKindPreview, "preview", bound, out); err != nil {
			return err
		}
	}

	return r.renderTiles(ctx, src, out)
}

func (r *ImageRenderer) renderScaled(ctx context.Context, src image.Image, kind models.RenditionKind, prefix string, bound int, out *Emitter) error {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	fw, fh := FitInside(w, h, bound)

	dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	encoded, err := encodePNG(dst)
	if err != nil {
		return oops.Render(err, "failed to encode %s-%d", prefix, bound)
	}

	// Recorded dimensions follow the bound's width and the source aspect ratio,
	// whatever the raster's orientation.
	_, err = out.Emit(ctx, Artifact{
		Kind:   kind,
		Name:   fmt.Sprintf("%s-%d.png", prefix, bound),
		Data:   encoded,
		Width:  bound,
		Height: int(math.Round(float64(bound) * float64(h) / float64(w))),
	})
	return err
}

func (r *ImageRenderer) renderTiles(ctx context.Context, src image.Image, out *Emitter) error {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	maxZoom := MaxZoomLevel(w, h)

	for z := 0; z <= maxZoom; z++ {
		grid := TileGridAt(w, h, z)

		var level *image.RGBA
		if z == 0 {
			level = image.NewRGBA(image.Rect(0, 0, w, h))
			draw.Draw(level, level.Bounds(), src, src.Bounds().Min, draw.Src)
		} else {
			level = image.NewRGBA(image.Rect(0, 0, grid.Width, grid.Height))
			draw.ApproxBiLinear.Scale(level, level.Bounds(), src, src.Bounds(), draw.Src, nil)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.TileConcurrency)
		for ty := 0; ty < grid.Rows; ty++ {
			for tx := 0; tx < grid.Cols; tx++ {
				z, tx, ty := z, tx, ty
				g.Go(func() error {
					err := r.renderTile(gctx, level, z, tx, ty, out)
					return r.TileIsolation.Contain(gctx, err, "partial tile failure", out.tileFailed)
				})
			}
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *ImageRenderer) renderTile(ctx context.Context, level *image.RGBA, z, tx, ty int, out *Emitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rect := image.Rect(tx*TileSize, ty*TileSize, (tx+1)*TileSize, (ty+1)*TileSize).Intersect(level.Bounds())
	if rect.Empty() {
		return oops.Render(nil, "tile %d/%d_%d is outside the level", z, tx, ty)
	}

	encoded, err := encodePNG(level.SubImage(rect))
	if err != nil {
		return oops.Render(err, "failed to encode tile %d/%d_%d", z, tx, ty)
	}

	_, err = out.Emit(ctx, Artifact{
		Kind:   models.RenditionKindTile,
		Name:   fmt.Sprintf("tiles/%d/%d_%d.png", z, tx, ty),
		Data:   encoded,
		Width:  rect.Dx(),
		Height: rect.Dy(),
		Zoom:   intPtr(z),
		TileX:  intPtr(tx),
		TileY:  intPtr(ty),
	})
	return err
}

// FitInside scales w×h to fit inside a bound×bound box, preserving aspect
// ratio. Images smaller than the box are scaled up.
func FitInside(w, h, bound int) (int, int) {
	if w >= h {
		return bound, max(1, int(math.Round(float64(bound)*float64(h)/float64(w))))
	}
	return max(1, int(math.Round(float64(bound)*float64(w)/float64(h)))), bound
}

// MaxZoomLevel is ceil(log2(max(w, h) / TileSize)) clamped to [0, MaxZoom].
// Levels 0 through the result are rendered, level z at 1/2^z scale.
func MaxZoomLevel(w, h int) int {
	longest := max(w, h)
	z := 0
	for TileSize<<z < longest && z < MaxZoom {
		z++
	}
	return z
}

type TileGrid struct {
	Width, Height int // scaled canvas
	Cols, Rows    int
}

func TileGridAt(w, h, z int) TileGrid {
	scale := 1 << z
	sw := utils.CeilDiv(w, scale)
	sh := utils.CeilDiv(h, scale)
	return TileGrid{
		Width:  sw,
		Height: sh,
		Cols:   utils.CeilDiv(sw, TileSize),
		Rows:   utils.CeilDiv(sh, TileSize),
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
