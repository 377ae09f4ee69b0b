package openformats

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Extensions tried, in order, when looking for a sampler's image next to an ODR.
var textureExts = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff"}

// Texture is a sampler image re-encoded as PNG for embedding.
type Texture struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Size [2]uint64 `json:"size"`
	Data []byte    `json:"-"`
}

// FindTexture looks for an image named after sampler in dir.
func FindTexture(dir, sampler string) (string, bool) {
	if sampler == "" {
		return "", false
	}
	for _, ext := range textureExts {
		p := filepath.Join(dir, sampler+ext)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

func LoadTexture(path string) (*Texture, error) {
	reader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "decode texture %s", path)
	}
	t, err := CreateTextureFromImage(img, stem(path))
	if err != nil {
		return nil, err
	}
	t.Path = path
	if format == "png" {
		if raw, err := os.ReadFile(path); err == nil {
			t.Data = raw
		}
	}
	return t, nil
}

func CreateTextureFromImage(img image.Image, name string) (*Texture, error) {
	bd := img.Bounds()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrapf(err, "encode texture %s", name)
	}
	return &Texture{
		Name: name,
		Size: [2]uint64{uint64(bd.Dx()), uint64(bd.Dy())},
		Data: buf.Bytes(),
	}, nil
}
