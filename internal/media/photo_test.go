package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.NRGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeProofPhoto(t *testing.T) {
	photo, err := NormalizeProofPhoto(encodePNG(t, 400, 100), 200, 0)
	require.NoError(t, err)
	require.Equal(t, SourceMeta{Width: 400, Height: 100, Format: "png"}, photo.Source)

	out, format, err := image.Decode(bytes.NewReader(photo.Data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 200, out.Bounds().Dx())
	require.Equal(t, 50, out.Bounds().Dy())

	small, err := NormalizeProofPhoto(encodePNG(t, 20, 10), 0, 0)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(small.Data))
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Width)
}

func TestNormalizeProofPhotoRejectsNonImages(t *testing.T) {
	_, err := NormalizeProofPhoto([]byte("%PDF-1.4 not a photo"), 0, 0)
	require.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestDetectContentType(t *testing.T) {
	heic := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
	heic = append(heic, make([]byte, 16)...)

	require.Equal(t, "image/heic", DetectContentType(heic))
	require.Equal(t, "image/png", DetectContentType(encodePNG(t, 2, 2)))
	require.Empty(t, DetectContentType(nil))
}

func TestValidateImageContentType(t *testing.T) {
	require.True(t, ValidateImageContentType("image/JPEG; charset=binary"))
	require.True(t, ValidateImageContentType("image/heif"))
	require.False(t, ValidateImageContentType("application/pdf"))
	require.False(t, ValidateImageContentType(""))
}
