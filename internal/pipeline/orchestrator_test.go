package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/provider"
)

type fakeArtworks struct {
	mu        sync.Mutex
	artwork   models.Artwork
	progress  []int
	completed string
	failed    string
	appended  []string
}

func (f *fakeArtworks) Get(ctx context.Context, id int64) (*models.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art := f.artwork
	return &art, nil
}

func (f *fakeArtworks) UpdateProgress(ctx context.Context, id int64, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artwork.Status == models.ArtworkProcessing && progress > f.artwork.Progress {
		f.artwork.Progress = progress
		f.progress = append(f.progress, progress)
	}
	return nil
}

func (f *fakeArtworks) MarkCompleted(ctx context.Context, id int64, resultImageURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artwork.Status != models.ArtworkProcessing {
		return false, nil
	}
	f.artwork.Status = models.ArtworkCompleted
	f.completed = resultImageURL
	return true, nil
}

func (f *fakeArtworks) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artwork.Status != models.ArtworkProcessing {
		return false, nil
	}
	f.artwork.Status = models.ArtworkFailed
	f.failed = errorMessage
	return true, nil
}

func (f *fakeArtworks) AppendErrorMessage(ctx context.Context, id int64, extra string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, extra)
	return nil
}

func (f *fakeArtworks) ListStalledProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artwork.Status == models.ArtworkProcessing {
		return []models.Artwork{f.artwork}, nil
	}
	return nil, nil
}

type fakeStyles struct {
	style *models.Style
}

func (f *fakeStyles) Get(ctx context.Context, id int64) (*models.Style, error) {
	return f.style, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []models.CreditRecord
	err     error
}

func (f *fakeLedger) Adjust(ctx context.Context, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rec := models.CreditRecord{UserID: userID, Amount: amount, Type: creditType, Description: description, RelatedID: relatedID}
	f.entries = append(f.entries, rec)
	return &rec, nil
}

type fakeObjects struct {
	uploadErr error
	uploaded  []byte
	stored    string
}

func (f *fakeObjects) Upload(ctx context.Context, data []byte, folder, contentType string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = data
	f.stored = fmt.Sprintf("https://cdn.example.com/%s/stored.png", folder)
	return f.stored, nil
}

func (f *fakeObjects) Presign(ctx context.Context, url string, ttl time.Duration) (string, error) {
	return url + "?signed", nil
}

type fakeGenerator struct {
	deltas []string
	err    error
}

func (f *fakeGenerator) StreamGenerate(ctx context.Context, req provider.GenerateRequest, fn func(delta string) error) error {
	for _, d := range f.deltas {
		if err := fn(d); err != nil {
			return err
		}
	}
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testOrchestrator(artworks *fakeArtworks, styles *fakeStyles, ledger *fakeLedger, objects *fakeObjects, gen Generator) *Orchestrator {
	o := NewOrchestrator(artworks, styles, ledger, objects, gen, time.Minute, discardLogger())
	o.backoff = time.Millisecond
	return o
}

func processingArtwork() *fakeArtworks {
	return &fakeArtworks{artwork: models.Artwork{
		ID:             7,
		UserID:         3,
		StyleID:        1,
		SourceImageURL: "https://cdn.example.com/gallery/source_images/a.png",
		Status:         models.ArtworkProcessing,
	}}
}

func activeStyle() *fakeStyles {
	return &fakeStyles{style: &models.Style{ID: 1, Name: "油画", Prompt: "oil painting", CreditsCost: 10, IsActive: true}}
}

func TestProcessCompletesArtwork(t *testing.T) {
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	artworks := processingArtwork()
	ledger := &fakeLedger{}
	objects := &fakeObjects{}
	gen := &fakeGenerator{deltas: []string{
		"🕐 排队中...",
		"🏃‍ 进度：45%",
		"✅ 生成完成\n![预览](" + srv.URL + "/result.png)",
	}}

	o := testOrchestrator(artworks, activeStyle(), ledger, objects, gen)
	require.NoError(t, o.Process(context.Background(), 7, "3:4"))

	assert.Equal(t, models.ArtworkCompleted, artworks.artwork.Status)
	assert.Equal(t, objects.stored, artworks.completed)
	assert.Equal(t, img, objects.uploaded)
	assert.Empty(t, ledger.entries, "completion must not touch the ledger")
	assert.Equal(t, []int{10, 45, 100}, artworks.progress)
}

func TestProcessExplicitFailureRefunds(t *testing.T) {
	artworks := processingArtwork()
	ledger := &fakeLedger{}
	gen := &fakeGenerator{deltas: []string{
		"进度：30%",
		"> 生成失败 ❌\n> 失败原因：内容不符合规范",
	}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	assert.Contains(t, artworks.failed, "内容不符合规范")
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 10, ledger.entries[0].Amount)
	assert.Equal(t, models.CreditRefund, ledger.entries[0].Type)
	require.NotNil(t, ledger.entries[0].RelatedID)
	assert.Equal(t, int64(7), *ledger.entries[0].RelatedID)
}

func TestProcessAmbiguousStreamFails(t *testing.T) {
	artworks := processingArtwork()
	ledger := &fakeLedger{}
	gen := &fakeGenerator{deltas: []string{"进度：80%", "快好了"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	assert.NotEmpty(t, artworks.failed)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 10, ledger.entries[0].Amount)
}

func TestProcessDownloadRetriesThenFails(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	artworks := processingArtwork()
	ledger := &fakeLedger{}
	gen := &fakeGenerator{deltas: []string{"![result](" + srv.URL + "/x.png)"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, downloadAttempts, hits)
	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	assert.Contains(t, artworks.failed, "下载生成结果失败")
	require.Len(t, ledger.entries, 1)
}

func TestProcessInvalidImageDoesNotRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	artworks := processingArtwork()
	ledger := &fakeLedger{}
	gen := &fakeGenerator{deltas: []string{"![result](" + srv.URL + "/x.png)"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, 1, hits, "undecodable body must not be retried")
	assert.Contains(t, artworks.failed, "生成结果不是有效图片")
	require.Len(t, ledger.entries, 1)
}

func TestProcessUploadFailureDoesNotRefund(t *testing.T) {
	img := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	}))
	defer srv.Close()

	artworks := processingArtwork()
	ledger := &fakeLedger{}
	objects := &fakeObjects{uploadErr: errors.New("s3 down")}
	gen := &fakeGenerator{deltas: []string{"![result](" + srv.URL + "/x.png)"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, objects, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	assert.Contains(t, artworks.failed, "保存生成结果失败")
	assert.Empty(t, ledger.entries, "no refund after the artifact was produced")
}

func TestProcessRefundFailureIsRecorded(t *testing.T) {
	artworks := processingArtwork()
	ledger := &fakeLedger{err: errors.New("ledger unavailable")}
	gen := &fakeGenerator{deltas: []string{"> 生成失败 ❌"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	require.Len(t, artworks.appended, 1)
	assert.Contains(t, artworks.appended[0], "积分退还失败")
}

func TestProcessStreamErrorRefunds(t *testing.T) {
	artworks := processingArtwork()
	ledger := &fakeLedger{}
	gen := &fakeGenerator{err: fmt.Errorf("chunk: %w", provider.ErrStreamDecode)}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Contains(t, artworks.failed, "解析 AI 返回数据失败")
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 10, ledger.entries[0].Amount)
}

func TestProcessSkipsTerminalArtwork(t *testing.T) {
	artworks := processingArtwork()
	artworks.artwork.Status = models.ArtworkCompleted
	ledger := &fakeLedger{}
	gen := &fakeGenerator{deltas: []string{"> 生成失败 ❌"}}

	o := testOrchestrator(artworks, activeStyle(), ledger, &fakeObjects{}, gen)
	require.NoError(t, o.Process(context.Background(), 7, ""))

	assert.Empty(t, artworks.failed)
	assert.Empty(t, ledger.entries)
}

func TestSweeperFailsStalledArtworkAndRefunds(t *testing.T) {
	artworks := processingArtwork()
	ledger := &fakeLedger{}

	s := NewSweeper(artworks, activeStyle(), ledger, time.Minute, time.Minute, discardLogger())
	s.SweepOnce(context.Background())

	assert.Equal(t, models.ArtworkFailed, artworks.artwork.Status)
	assert.Contains(t, artworks.failed, "生成超时")
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, 10, ledger.entries[0].Amount)
	assert.Equal(t, models.CreditRefund, ledger.entries[0].Type)
}
