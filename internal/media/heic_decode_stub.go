//go:build !linux || !cgo

package media

import "image"

func decodeHEIC([]byte) (image.Image, error) {
	return nil, ErrHEICUnsupported
}
