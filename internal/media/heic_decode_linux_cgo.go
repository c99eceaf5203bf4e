//go:build linux && cgo

package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/jdeng/goheif"
)

// decodeHEIC handles iPhone proof photos uploaded without conversion.
func decodeHEIC(data []byte) (image.Image, error) {
	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode heic: %w", err)
	}
	return img, nil
}
