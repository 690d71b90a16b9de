package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHooks struct {
	mu          sync.Mutex
	created     map[models.RenditionKind]int
	tileFailure atomic.Int32
}

func (h *countingHooks) RenditionCreated(kind models.RenditionKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.created == nil {
		h.created = make(map[models.RenditionKind]int)
	}
	h.created[kind]++
}

func (h *countingHooks) TileFailed() {
	h.tileFailure.Add(1)
}

type testEnv struct {
	gateway *storage.MemoryGateway
	store   *assetdata.MemoryStore
	hooks   *countingHooks
	emitter *Emitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gateway := storage.NewMemoryGateway("assets", "http://localhost/devstorage")
	store := assetdata.NewMemoryStore()
	version := models.AssetVersion{ID: uuid.New(), AssetID: uuid.New(), Version: 1}
	store.PutVersion(version)
	hooks := &countingHooks{}
	return &testEnv{
		gateway: gateway,
		store:   store,
		hooks:   hooks,
		emitter: &Emitter{
			VersionID: version.ID,
			Gateway:   gateway,
			Store:     store,
			Hooks:     hooks,
		},
	}
}

func (env *testEnv) renditions(t *testing.T) []*models.Rendition {
	t.Helper()
	rs, err := env.store.ListRenditions(context.Background(), env.emitter.VersionID, false)
	require.Nil(t, err)
	return rs
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.Nil(t, png.Encode(&buf, img))
	require.Nil(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestMaxZoomLevel(t *testing.T) {
	cases := []struct {
		w, h int
		z    int
	}{
		{1, 1, 0},
		{256, 256, 0},
		{257, 100, 1},
		{600, 300, 2},
		{100, 1000, 2},
		{4096, 4096, 4},
		{5000, 10, 4},
	}
	for _, c := range cases {
		assert.Equal(t, c.z, MaxZoomLevel(c.w, c.h), "%dx%d", c.w, c.h)
	}
}

func TestTileGridAt(t *testing.T) {
	assert.Equal(t, TileGrid{Width: 1000, Height: 600, Cols: 4, Rows: 3}, TileGridAt(1000, 600, 0))
	assert.Equal(t, TileGrid{Width: 500, Height: 300, Cols: 2, Rows: 2}, TileGridAt(1000, 600, 1))
	assert.Equal(t, TileGrid{Width: 250, Height: 150, Cols: 1, Rows: 1}, TileGridAt(1000, 600, 2))
	assert.Equal(t, TileGrid{Width: 2, Height: 1, Cols: 1, Rows: 1}, TileGridAt(3, 1, 1))
}

func TestFitInside(t *testing.T) {
	w, h := FitInside(600, 300, 512)
	assert.Equal(t, 512, w)
	assert.Equal(t, 256, h)

	w, h = FitInside(300, 600, 512)
	assert.Equal(t, 256, w)
	assert.Equal(t, 512, h)

	w, h = FitInside(10000, 1, 512)
	assert.Equal(t, 512, w)
	assert.Equal(t, 1, h)
}

func TestImageRenderer(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source")
	writeTestPNG(t, src, 600, 300)

	err := NewImageRenderer(2).Render(context.Background(), src, env.emitter)
	require.Nil(t, err)

	counts := map[models.RenditionKind]int{}
	var lastColumn *models.Rendition
	for _, r := range env.renditions(t) {
		counts[r.Kind]++
		assert.True(t, r.Ready)
		assert.True(t, env.gateway.HasObject(r.Key), r.Key)

		switch r.Kind {
		case models.RenditionKindThumb:
			assert.Equal(t, RenditionKey(env.emitter.VersionID, "thumb-512.png"), r.Key)
			assert.Equal(t, 512, r.Width)
			assert.Equal(t, 256, r.Height)
		case models.RenditionKindTile:
			require.NotNil(t, r.Zoom)
			if *r.Zoom == 0 && *r.TileX == 2 && *r.TileY == 0 {
				lastColumn = r
			}
		}
	}

	// 3x2 at zoom 0, 2x1 at zoom 1, 1x1 at zoom 2
	assert.Equal(t, 1, counts[models.RenditionKindThumb])
	assert.Equal(t, 2, counts[models.RenditionKindPreview])
	assert.Equal(t, 9, counts[models.RenditionKindTile])
	assert.Equal(t, 9, env.hooks.created[models.RenditionKindTile])

	require.NotNil(t, lastColumn)
	assert.Equal(t, 88, lastColumn.Width)
	assert.Equal(t, 256, lastColumn.Height)
	assert.Equal(t, RenditionKey(env.emitter.VersionID, "tiles/0/2_0.png"), lastColumn.Key)

	data, _, err := env.gateway.ReadObject(RenditionKey(env.emitter.VersionID, "preview-1024.png"))
	require.Nil(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.Nil(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 512, cfg.Height)
}

func TestImageRendererRejectsCorruptInput(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source")
	require.Nil(t, os.WriteFile(src, []byte("definitely not an image"), 0o644))

	err := NewImageRenderer(1).Render(context.Background(), src, env.emitter)
	assert.True(t, oops.Is(err, oops.KindRender))
	assert.Empty(t, env.renditions(t))
}

type failingTileStore struct {
	*assetdata.MemoryStore
	failZoom int
}

func (s *failingTileStore) CreateRendition(ctx context.Context, r *models.Rendition) error {
	if r.Kind == models.RenditionKindTile && *r.Zoom == s.failZoom {
		return oops.New(nil, "database went away")
	}
	return s.MemoryStore.CreateRendition(ctx, r)
}

func TestImageRendererSkipsFailedTiles(t *testing.T) {
	env := newTestEnv(t)
	env.emitter.Store = &failingTileStore{MemoryStore: env.store, failZoom: 1}
	src := filepath.Join(t.TempDir(), "source")
	writeTestPNG(t, src, 600, 300)

	err := NewImageRenderer(4).Render(context.Background(), src, env.emitter)
	require.Nil(t, err)

	assert.Equal(t, int32(2), env.hooks.tileFailure.Load())
	assert.Equal(t, 7, env.hooks.created[models.RenditionKindTile])
}

type fakeRasterizer struct {
	pages     int
	failPage  int
	failWidth int
	calls     int
}

func (f *fakeRasterizer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	return f.pages, nil
}

func (f *fakeRasterizer) RasterizePage(ctx context.Context, pdfPath string, page, width int, outDir string) (string, error) {
	f.calls++
	if page == f.failPage && width == f.failWidth {
		return "", oops.Render(nil, "pdftoppm exited 1")
	}
	// Small rasters with a letter-ish aspect keep the test fast.
	w := width / 16
	h := w * 11 / 8
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, "raster.png")
	return path, os.WriteFile(path, buf.Bytes(), 0o644)
}

func TestPDFRendererFailsFast(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source")
	require.Nil(t, os.WriteFile(src, []byte("%PDF-1.7"), 0o644))

	raster := &fakeRasterizer{pages: 3, failPage: 2, failWidth: 1024}
	err := NewPDFRenderer(raster).Render(context.Background(), src, env.emitter)
	assert.True(t, oops.Is(err, oops.KindRender))

	// page 1 at all widths, then page 2 at 512, then the failure
	assert.Equal(t, 5, raster.calls)
	rs := env.renditions(t)
	require.Len(t, rs, 4)
	assert.Equal(t, models.RenditionKindThumb, rs[0].Kind)
	assert.Equal(t, 1, *rs[0].Page)
	assert.Equal(t, 32, rs[0].Width)
	assert.Equal(t, 44, rs[0].Height)
	assert.Equal(t, models.RenditionKindPage, rs[1].Kind)
	assert.Equal(t, RenditionKey(env.emitter.VersionID, "page-1-1024.png"), rs[1].Key)
	assert.Equal(t, models.RenditionKindThumb, rs[3].Kind)
	assert.Equal(t, 2, *rs[3].Page)
}

func TestPDFRendererSkipAndLog(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source")
	require.Nil(t, os.WriteFile(src, []byte("%PDF-1.7"), 0o644))

	raster := &fakeRasterizer{pages: 3, failPage: 2, failWidth: 1024}
	renderer := NewPDFRenderer(raster)
	renderer.Isolation = SkipAndLog
	err := renderer.Render(context.Background(), src, env.emitter)
	require.Nil(t, err)

	assert.Equal(t, 9, raster.calls)
	assert.Len(t, env.renditions(t), 8)
}

func TestPdfInfoPages(t *testing.T) {
	output := []byte("Title:          Quarterly\nProducer:       LibreOffice\nPages:          12\nEncrypted:      no\n")
	match := REPdfPages.FindSubmatch(output)
	require.NotNil(t, match)
	assert.Equal(t, "12", string(match[1]))
}

type fakeConverter struct {
	produce bool
}

func (f *fakeConverter) ConvertToPDF(ctx context.Context, srcPath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if f.produce {
		if err := os.WriteFile(filepath.Join(outDir, "source.pdf"), []byte("%PDF-1.7"), 0o644); err != nil {
			return "", err
		}
	}
	return expectConverted(srcPath, outDir)
}

func TestOfficeRenderer(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source.docx")
	require.Nil(t, os.WriteFile(src, []byte("PK"), 0o644))

	raster := &fakeRasterizer{pages: 2}
	renderer := &OfficeRenderer{
		Converter: &fakeConverter{produce: true},
		PDF:       NewPDFRenderer(raster),
	}
	require.Nil(t, renderer.Render(context.Background(), src, env.emitter))
	assert.Len(t, env.renditions(t), 6)
}

func TestOfficeRendererMissingOutput(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "source.xlsx")
	require.Nil(t, os.WriteFile(src, []byte("PK"), 0o644))

	renderer := &OfficeRenderer{
		Converter: &fakeConverter{produce: false},
		PDF:       NewPDFRenderer(&fakeRasterizer{pages: 1}),
	}
	err := renderer.Render(context.Background(), src, env.emitter)
	assert.True(t, oops.Is(err, oops.KindRender))
	assert.Empty(t, env.renditions(t))
}
