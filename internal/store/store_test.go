package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/scango/internal/logic/decode"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func grayCrop(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i % 251)
	}
	return img
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openStore(t)
	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "001_initial", version)

	// Reopening must not re-run migrations.
	require.NoError(t, s.Close())
	again, err := Open(s.Path())
	require.NoError(t, err)
	defer again.Close()
	version, err = again.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "001_initial", version)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestAddAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := decode.Match{Text: "4006381333931", Format: "EAN_13", Points: []image.Point{{X: 1, Y: 2}, {X: 30, Y: 2}}, At: at}
	id, err := s.Add(ctx, "session-a", m, grayCrop(40, 20))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "session-a", rec.SessionID)
	assert.Equal(t, m.Text, rec.Text)
	assert.Equal(t, m.Format, rec.Format)
	assert.Equal(t, m.Points, rec.Points)
	assert.True(t, rec.DecodedAt.Equal(at))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.HasCrop)

	png, err := s.Crop(ctx, id)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestAddWithoutCrop(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "", decode.Match{Text: "no crop"}, nil)
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, rec.HasCrop)
	assert.False(t, rec.DecodedAt.IsZero())

	_, err = s.Crop(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAddRequiresText(t *testing.T) {
	s := openStore(t)
	_, err := s.Add(context.Background(), "s", decode.Match{}, nil)
	assert.Error(t, err)
}

func TestLargeCropIsDownscaled(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "s", decode.Match{Text: "big"}, grayCrop(1280, 960))
	require.NoError(t, err)
	png, err := s.Crop(ctx, id)
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, maxCropWidth, maxCropHeight), img.Bounds())
}

func TestListOrderAndLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, text := range []string{"first", "second", "third"} {
		session := "a"
		if i == 2 {
			session = "b"
		}
		_, err := s.Add(ctx, session, decode.Match{Text: text, At: base.Add(time.Duration(i) * time.Minute)}, nil)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Text)
	assert.Equal(t, "first", all[2].Text)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "second", limited[1].Text)

	onlyA, err := s.ListSession(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "second", onlyA[0].Text)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCascadesCrop(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "s", decode.Match{Text: "gone"}, grayCrop(8, 8))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id))

	_, err = s.Crop(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestCloseNilStore(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}

func TestRecorderStoresAndForwards(t *testing.T) {
	s := openStore(t)
	r := NewRecorder(s)
	r.SetSession("session-x")

	var (
		mu       sync.Mutex
		recorded []Record
		failures []error
	)
	r.OnRecorded(func(rec Record) {
		mu.Lock()
		recorded = append(recorded, rec)
		mu.Unlock()
	})
	r.OnUnusable(func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})

	r.OnMatch(decode.Match{Text: "hello", Format: "QR_CODE"}, grayCrop(10, 10))
	r.OnDeviceUnusable(errors.New("unplugged"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.NotEmpty(t, recorded[0].ID)
	assert.Equal(t, "session-x", recorded[0].SessionID)
	assert.True(t, recorded[0].HasCrop)
	require.Len(t, failures, 1)

	stored, err := s.ListSession(context.Background(), "session-x", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, recorded[0].ID, stored[0].ID)
}

func TestRecorderWithoutStore(t *testing.T) {
	r := NewRecorder(nil)
	var got []Record
	r.OnRecorded(func(rec Record) { got = append(got, rec) })
	r.OnMatch(decode.Match{Text: "volatile"}, nil)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].ID)
	assert.Equal(t, "volatile", got[0].Text)
}
