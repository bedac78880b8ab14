// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/samber/oops"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// IconSize is the edge length plugin and collection icons are scaled to.
const IconSize = 128

// maxInflated bounds decompressed payloads.
const maxInflated = 16 << 20

// inflate decodes a length-prefixed zlib payload: a 4-byte big-endian
// uncompressed size followed by a zlib stream.
func inflate(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, oops.In("resolver").With("size", len(data)).Errorf("compressed payload too short")
	}
	size := binary.BigEndian.Uint32(data[:4])
	if size > maxInflated {
		return nil, oops.In("resolver").With("size", size).Errorf("compressed payload too large")
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, oops.In("resolver").Hint("invalid zlib stream").Wrap(err)
	}
	defer func() { _ = zr.Close() }()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return nil, oops.In("resolver").Hint("invalid zlib stream").Wrap(err)
	}
	if len(out) > maxInflated {
		return nil, oops.In("resolver").Errorf("compressed payload too large")
	}
	return out, nil
}

// decodeBlob decodes a base64 payload and inflates it when compressed.
func decodeBlob(data string, compressed bool) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, oops.In("resolver").Hint("invalid base64").Wrap(err)
	}
	if !compressed {
		return raw, nil
	}
	return inflate(raw)
}

// decodeIcon decodes a base64 (optionally compressed) image and scales it.
func decodeIcon(data string, compressed bool) (image.Image, error) {
	raw, err := decodeBlob(data, compressed)
	if err != nil {
		return nil, err
	}
	return decodeImage(raw)
}

// loadIconFile reads and scales an image file.
func loadIconFile(path string) (image.Image, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is relative to the plugin's own directory
	if err != nil {
		return nil, oops.In("resolver").With("path", path).Wrap(err)
	}
	return decodeImage(raw)
}

func decodeImage(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.In("resolver").Hint("unsupported image data").Wrap(err)
	}
	return scaleIcon(img), nil
}

func scaleIcon(img image.Image) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

var (
	defaultIconOnce sync.Once
	defaultIconImg  image.Image
)

// DefaultIcon is the icon used when a plugin provides none.
func DefaultIcon() image.Image {
	defaultIconOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
		const r = IconSize / 2
		for y := 0; y < IconSize; y++ {
			for x := 0; x < IconSize; x++ {
				dx, dy := x-r, y-r
				d := dx*dx + dy*dy
				switch {
				case d < (r/4)*(r/4):
					img.Set(x, y, color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff})
				case d < (r-2)*(r-2):
					img.Set(x, y, color.RGBA{R: 0x3a, G: 0x3a, B: 0x40, A: 0xff})
				}
			}
		}
		defaultIconImg = img
	})
	return defaultIconImg
}
