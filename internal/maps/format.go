package maps

import (
	"bytes"

	"climascope/internal/types"
)

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// DetectFormat identifies the image format from its leading bytes. Only PNG,
// JPEG and SVG are accepted; anything else is a validation error. SVG is
// detected by its XML preamble or root element since it has no binary magic.
func DetectFormat(image []byte) (types.MapFormat, error) {
	switch {
	case bytes.HasPrefix(image, pngMagic):
		return types.MapFormatPNG, nil
	case bytes.HasPrefix(image, jpegMagic):
		return types.MapFormatJPEG, nil
	case looksLikeSVG(image):
		return types.MapFormatSVG, nil
	}
	return "", types.NewAppError(
		types.ErrCodeValidationImageFormat,
		"unsupported image format; expected PNG, JPEG or SVG",
		nil,
	)
}

func looksLikeSVG(image []byte) bool {
	head := bytes.TrimLeft(image[:min(len(image), 512)], " \t\r\n")
	return bytes.HasPrefix(head, []byte("<svg")) ||
		(bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}
