package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t59688/btx/internal/models"
	"github.com/t59688/btx/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

type fakeArtworkStore struct {
	mu            sync.Mutex
	seq           int64
	arts          map[int64]*models.Artwork
	hardDeleteErr error
}

func newFakeArtworkStore() *fakeArtworkStore {
	return &fakeArtworkStore{arts: map[int64]*models.Artwork{}}
}

func (f *fakeArtworkStore) Create(_ context.Context, art *models.Artwork) (*models.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	cp := *art
	cp.ID = f.seq
	cp.Status = models.ArtworkProcessing
	f.arts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeArtworkStore) Get(_ context.Context, id int64) (*models.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.arts[id]
	if !ok {
		return nil, nil
	}
	cp := *art
	return &cp, nil
}

func (f *fakeArtworkStore) ListByUser(context.Context, int64, int, int) ([]models.Artwork, error) {
	return nil, nil
}

func (f *fakeArtworkStore) ListPublic(context.Context, int, int) ([]models.Artwork, error) {
	return nil, nil
}

func (f *fakeArtworkStore) SetPublish(_ context.Context, id int64, isPublic bool, scope models.PublicScope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.arts[id]
	if !ok {
		return false, nil
	}
	if isPublic && art.Status != models.ArtworkCompleted {
		return false, nil
	}
	art.IsPublic = isPublic
	art.PublicScope = scope
	return true, nil
}

func (f *fakeArtworkStore) SoftDelete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.arts, id)
	return nil
}

func (f *fakeArtworkStore) HardDelete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hardDeleteErr != nil {
		return f.hardDeleteErr
	}
	delete(f.arts, id)
	return nil
}

func (f *fakeArtworkStore) MarkFailed(_ context.Context, id int64, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.arts[id]
	if !ok || art.Status != models.ArtworkProcessing {
		return false, nil
	}
	art.Status = models.ArtworkFailed
	art.ErrorMessage = &message
	return true, nil
}

func (f *fakeArtworkStore) IncrementViews(context.Context, int64) error { return nil }

func (f *fakeArtworkStore) AddLikes(context.Context, int64, int) error { return nil }

func (f *fakeArtworkStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.arts)
}

type fakeCreateLedger struct {
	mu        sync.Mutex
	balance   int
	adjustErr error
	records   []models.CreditRecord
}

func (f *fakeCreateLedger) Balance(context.Context, int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeCreateLedger) Adjust(_ context.Context, userID int64, amount int, creditType models.CreditType, description string, relatedID *int64) (*models.CreditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		return nil, f.adjustErr
	}
	if amount < 0 && f.balance+amount < 0 {
		return nil, repository.ErrInsufficientBalance
	}
	f.balance += amount
	rec := models.CreditRecord{
		UserID: userID, Amount: amount, Balance: f.balance,
		Type: creditType, Description: description, RelatedID: relatedID,
	}
	f.records = append(f.records, rec)
	return &rec, nil
}

type fakeSourceStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	deleted []string
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{objects: map[string][]byte{}}
}

func (f *fakeSourceStore) Upload(_ context.Context, data []byte, folder, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	url := fmt.Sprintf("https://cdn.test/%s/%d.png", folder, f.uploads)
	f.objects[url] = data
	return url, nil
}

func (f *fakeSourceStore) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[url]
	if !ok {
		return nil, fmt.Errorf("object %s not found", url)
	}
	return data, nil
}

func (f *fakeSourceStore) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	return nil
}

type generatorCall struct {
	ArtworkID   int64
	AspectRatio string
}

type fakeGenerator struct {
	calls chan generatorCall
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: make(chan generatorCall, 1)}
}

func (f *fakeGenerator) Process(_ context.Context, artworkID int64, aspectRatio string) error {
	f.calls <- generatorCall{ArtworkID: artworkID, AspectRatio: aspectRatio}
	return nil
}

func (f *fakeGenerator) wait(t *testing.T) generatorCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(time.Second):
		t.Fatal("generation never started")
		return generatorCall{}
	}
}

type artworkFixture struct {
	svc   *ArtworkService
	arts  *fakeArtworkStore
	style *fakeStyleStore
	led   *fakeCreateLedger
	objs  *fakeSourceStore
	gen   *fakeGenerator
}

type fakeStyleStore struct {
	styles map[int64]*models.Style
}

func (f *fakeStyleStore) Get(_ context.Context, id int64) (*models.Style, error) {
	return f.styles[id], nil
}

type fakeLikeStore struct{}

func (fakeLikeStore) Add(context.Context, int64, int64) (bool, error)    { return false, nil }
func (fakeLikeStore) Remove(context.Context, int64, int64) (bool, error) { return false, nil }
func (fakeLikeStore) LikedSet(context.Context, int64, []int64) (map[int64]bool, error) {
	return nil, nil
}

func newArtworkFixture(balance int) *artworkFixture {
	arts := newFakeArtworkStore()
	styles := &fakeStyleStore{styles: map[int64]*models.Style{
		1: {ID: 1, Name: "水墨", CreditsCost: 5, IsActive: true},
		2: {ID: 2, Name: "下架", CreditsCost: 5, IsActive: false},
	}}
	led := &fakeCreateLedger{balance: balance}
	objs := newFakeSourceStore()
	gen := newFakeGenerator()
	svc := NewArtworkService(arts, styles, fakeLikeStore{}, led, objs, gen, discardLogger())
	return &artworkFixture{svc: svc, arts: arts, style: styles, led: led, objs: objs, gen: gen}
}

func TestCreateDebitsAndStartsGeneration(t *testing.T) {
	fx := newArtworkFixture(10)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 1))

	art, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageBase64: encoded})
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, models.ArtworkProcessing, art.Status)
	assert.Equal(t, 1, fx.objs.uploads)
	assert.Equal(t, 5, fx.led.balance)
	require.Len(t, fx.led.records, 1)
	assert.Equal(t, models.CreditCreate, fx.led.records[0].Type)
	assert.Equal(t, -5, fx.led.records[0].Amount)

	call := fx.gen.wait(t)
	assert.Equal(t, art.ID, call.ArtworkID)
	assert.Equal(t, "2:1", call.AspectRatio)
}

func TestCreateInsufficientBalanceLeavesNothingBehind(t *testing.T) {
	fx := newArtworkFixture(3)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2))

	_, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageBase64: encoded})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	assert.Equal(t, 0, fx.arts.count())
	assert.Empty(t, fx.led.records)
	assert.Equal(t, 0, fx.objs.uploads, "source must not be uploaded when the balance is short")
}

func TestCreateDebitRaceCompensates(t *testing.T) {
	fx := newArtworkFixture(10)
	fx.led.adjustErr = repository.ErrInsufficientBalance
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2))

	_, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageBase64: encoded})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	assert.Equal(t, 0, fx.arts.count(), "artwork row must be removed when the debit fails")
	require.Len(t, fx.objs.deleted, 1, "uploaded source must be removed when the debit fails")
}

func TestCreateCompensationFallbackParksArtworkFailed(t *testing.T) {
	fx := newArtworkFixture(10)
	fx.led.adjustErr = errors.New("deadlock")
	fx.arts.hardDeleteErr = errors.New("connection lost")
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2))

	_, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageBase64: encoded})
	require.Error(t, err)

	// The row could not be deleted, so it must at least leave
	// processing to keep the stall sweeper from refunding it.
	require.Equal(t, 1, fx.arts.count())
	for _, art := range fx.arts.arts {
		assert.Equal(t, models.ArtworkFailed, art.Status)
	}
}

func TestCreateFromStoredURL(t *testing.T) {
	fx := newArtworkFixture(10)
	url := "https://cdn.test/source_images/existing.png"
	fx.objs.objects[url] = pngBytes(t, 3, 1)

	art, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageURL: url})
	require.NoError(t, err)
	assert.Equal(t, url, art.SourceImageURL)
	assert.Equal(t, 0, fx.objs.uploads)

	call := fx.gen.wait(t)
	assert.Equal(t, "3:1", call.AspectRatio)
}

func TestCreateFromUnreadableURLStillSucceeds(t *testing.T) {
	fx := newArtworkFixture(10)
	url := "https://cdn.test/source_images/gone.png"

	art, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, ImageURL: url})
	require.NoError(t, err)
	assert.Equal(t, url, art.SourceImageURL)

	call := fx.gen.wait(t)
	assert.Equal(t, "", call.AspectRatio, "aspect ratio probe failure only costs the hint")
}

func TestCreatePrefersInlineDataOverURL(t *testing.T) {
	fx := newArtworkFixture(10)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2))

	art, err := fx.svc.Create(context.Background(), 7, CreateRequest{
		StyleID:     1,
		ImageBase64: encoded,
		ImageURL:    "https://cdn.test/source_images/other.png",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.objs.uploads)
	assert.NotEqual(t, "https://cdn.test/source_images/other.png", art.SourceImageURL)

	fx.gen.wait(t)
}

func TestCreateWithoutSourceRejected(t *testing.T) {
	fx := newArtworkFixture(10)

	_, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1})
	require.ErrorIs(t, err, ErrImageSourceRequired)
	assert.Equal(t, 0, fx.arts.count())
}

func TestCreateInactiveStyleRejected(t *testing.T) {
	fx := newArtworkFixture(10)
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t, 2, 2))

	_, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 2, ImageBase64: encoded})
	require.ErrorIs(t, err, ErrStyleInactive)
}

func TestCreateReusesOwnArtworkSource(t *testing.T) {
	fx := newArtworkFixture(10)
	url := "https://cdn.test/source_images/first.png"
	fx.objs.objects[url] = pngBytes(t, 2, 2)
	prev, err := fx.arts.Create(context.Background(), &models.Artwork{UserID: 7, StyleID: 1, SourceImageURL: url})
	require.NoError(t, err)

	art, err := fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, SourceArtworkID: &prev.ID})
	require.NoError(t, err)
	assert.Equal(t, url, art.SourceImageURL)

	fx.gen.wait(t)
}

func TestCreateRejectsForeignArtworkSource(t *testing.T) {
	fx := newArtworkFixture(10)
	url := "https://cdn.test/source_images/first.png"
	fx.objs.objects[url] = pngBytes(t, 2, 2)
	prev, err := fx.arts.Create(context.Background(), &models.Artwork{UserID: 8, StyleID: 1, SourceImageURL: url})
	require.NoError(t, err)

	_, err = fx.svc.Create(context.Background(), 7, CreateRequest{StyleID: 1, SourceArtworkID: &prev.ID})
	require.ErrorIs(t, err, ErrArtworkNotFound)
}
