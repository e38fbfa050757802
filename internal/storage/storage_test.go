package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spa-cms/internal/config"
	"spa-cms/internal/imaging"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewLocalStorage(dir)

	p, err := fs.Save(ctx, "slider", "abc", "hero.png", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "slider/abc/hero.png", p)

	rc, err := fs.Open(ctx, p)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "data", string(got))

	require.NoError(t, fs.Delete(ctx, p))
	_, err = os.Stat(filepath.Join(dir, "slider", "abc"))
	assert.True(t, os.IsNotExist(err), "empty file dir is removed")
}

func TestLocalStorageRejectsEscapes(t *testing.T) {
	fs := NewLocalStorage(t.TempDir())
	for _, p := range []string{"../secret", "/etc/passwd", "a/../../b", ""} {
		_, err := fs.Open(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	fs, err := New(context.Background(), config.StorageConfig{Driver: "local", LocalPath: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, fs)

	_, err = New(context.Background(), config.StorageConfig{Driver: "s3"}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), config.StorageConfig{Driver: "gcs"}, nil)
	assert.Error(t, err)
}

func TestUploaderStoresAndBuildsURLs(t *testing.T) {
	ctx := context.Background()
	u := NewUploader(NewLocalStorage(t.TempDir()), []string{"slider"}, 1<<20, "/api/files/", nil)

	data := pngBytes(t)
	res, err := u.UploadImages(ctx, []imaging.File{
		{Name: "a.png", ContentType: "image/png", Data: data},
		{Name: `C:\photos\my photo!.png`, Data: data},
	}, "slider")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, strings.HasPrefix(res[0].URL, "/api/files/slider/"))
	assert.True(t, strings.HasSuffix(res[0].URL, "/a.png"))
	assert.True(t, strings.HasSuffix(res[1].URL, "/my-photo-.png"), res[1].URL)
	assert.NotEqual(t, res[0].URL, res[1].URL)

	p, ok := strings.CutPrefix(res[0].URL, "/api/files/")
	require.True(t, ok)
	rc, err := u.Storage().Open(ctx, p)
	require.NoError(t, err)
	rc.Close()
}

func TestUploaderRejections(t *testing.T) {
	ctx := context.Background()
	u := NewUploader(NewLocalStorage(t.TempDir()), []string{"slider"}, 16, "/api/files", nil)
	img := imaging.File{Name: "a.png", ContentType: "image/png", Data: []byte("tiny")}

	_, err := u.UploadImages(ctx, nil, "slider")
	assert.ErrorIs(t, err, ErrNoFiles)
	_, err = u.UploadImages(ctx, []imaging.File{img}, "team")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = u.UploadImages(ctx, []imaging.File{img}, "../slider")
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = u.UploadImages(ctx, []imaging.File{{Name: "big.png", ContentType: "image/png", Data: make([]byte, 17)}}, "slider")
	assert.ErrorIs(t, err, ErrFileTooLarge)
	_, err = u.UploadImages(ctx, []imaging.File{{Name: "notes.txt", Data: []byte("hello")}}, "slider")
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestUploaderTrustsContentNotClientMetadata(t *testing.T) {
	ctx := context.Background()
	u := NewUploader(NewLocalStorage(t.TempDir()), nil, 0, "/api/files", nil)

	script := []byte("<html><script>alert(document.cookie)</script></html>")
	_, err := u.UploadImages(ctx, []imaging.File{{Name: "evil.png", ContentType: "image/png", Data: script}}, "gallery")
	assert.ErrorIs(t, err, ErrNotImage)
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)
	_, err = u.UploadImages(ctx, []imaging.File{{Name: "logo.svg", ContentType: "image/svg+xml", Data: svg}}, "gallery")
	assert.ErrorIs(t, err, ErrNotImage)

	res, err := u.UploadImages(ctx, []imaging.File{{Name: "evil.html", ContentType: "text/html", Data: pngBytes(t)}}, "gallery")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res[0].URL, "/evil.png"), res[0].URL)
}

func TestContentTypeAllowsOnlyStoredImages(t *testing.T) {
	for key, want := range map[string]string{
		"a/b/photo.png":  "image/png",
		"a/b/photo.JPEG": "image/jpeg",
		"a/b/photo.jpg":  "image/jpeg",
		"a/b/anim.gif":   "image/gif",
		"a/b/pic.webp":   "image/webp",
		"a/b/logo.svg":   "",
		"a/b/evil.html":  "",
		"a/b/noext":      "",
	} {
		assert.Equal(t, want, ContentType(key), key)
	}
}

type failingStorage struct {
	*LocalStorage
	failAt  int
	calls   int
	deleted []string
}

func (f *failingStorage) Save(ctx context.Context, category, fileID, filename string, r io.Reader) (string, error) {
	f.calls++
	if f.calls == f.failAt {
		return "", errors.New("disk full")
	}
	return f.LocalStorage.Save(ctx, category, fileID, filename, r)
}

func (f *failingStorage) Delete(ctx context.Context, p string) error {
	f.deleted = append(f.deleted, p)
	return f.LocalStorage.Delete(ctx, p)
}

func TestUploaderRollsBackOnFailure(t *testing.T) {
	fs := &failingStorage{LocalStorage: NewLocalStorage(t.TempDir()), failAt: 2}
	u := NewUploader(fs, nil, 0, "/files", nil)
	data := pngBytes(t)

	_, err := u.UploadImages(context.Background(), []imaging.File{
		{Name: "a.png", ContentType: "image/png", Data: data},
		{Name: "b.png", ContentType: "image/png", Data: data},
	}, "gallery")
	require.Error(t, err)
	assert.Len(t, fs.deleted, 1)
}

func TestUploaderBehindPipeline(t *testing.T) {
	u := NewUploader(NewLocalStorage(t.TempDir()), nil, 0, "/files", nil)
	p := imaging.NewPipeline(u)

	slot := &testSlot{spec: &imaging.CropSpec{AspectRatio: 1, Width: 8, Height: 8}, category: "team"}
	require.NoError(t, p.Process(context.Background(), "photo", slot, imaging.File{Name: "me.jpg", Data: pngBytes(t)}, nil))
	assert.True(t, strings.HasPrefix(slot.url, "/files/team/"))
	assert.True(t, strings.HasSuffix(slot.url, "/me.png"))
}

type testSlot struct {
	spec     *imaging.CropSpec
	category string
	url      string
}

func (s *testSlot) Spec() *imaging.CropSpec { return s.spec }
func (s *testSlot) Category() string        { return s.category }
func (s *testSlot) URL() string             { return s.url }
func (s *testSlot) SetURL(url string)       { s.url = url }
