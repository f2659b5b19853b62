package flowgraph

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedImageTypes are the MIME types the generation backend accepts as-is.
var SupportedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/heic",
	"image/heif",
}

// ParseDataURI splits a base64 data URI into its MIME type and payload.
func ParseDataURI(uri string) (mime string, data string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", fmt.Errorf("%w: not a data URI", ErrInvalidImage)
	}
	header, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}
	mime, params, _ := strings.Cut(header, ";")
	if mime == "" || !strings.Contains(params, "base64") {
		return "", "", fmt.Errorf("%w: expected base64 image data", ErrInvalidImage)
	}
	return strings.ToLower(mime), data, nil
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mime string, raw []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// NormalizeImage returns uri unchanged when its type is supported and
// otherwise transcodes the image to PNG.
func NormalizeImage(uri string) (string, error) {
	mime, data, err := ParseDataURI(uri)
	if err != nil {
		return "", err
	}
	if slices.Contains(SupportedImageTypes, mime) {
		return uri, nil
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return TranscodePNG(raw)
}

// TranscodePNG decodes raw in any registered format and re-encodes it as a PNG data URI.
func TranscodePNG(raw []byte) (string, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if format == "png" {
		return EncodeDataURI("image/png", raw), nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("flowgraph: encode png: %w", err)
	}
	return EncodeDataURI("image/png", buf.Bytes()), nil
}
