package nbi

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/meshroute/internal/nbi/types"
)

var (
	// ErrInvalidRequest indicates a request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPayloadTooLarge indicates a payload over the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DefaultMaxPayloadBytes bounds a single transmit payload.
const DefaultMaxPayloadBytes = 32 << 20

const maxFilenameLen = 255

// ValidateTransmitRequest checks size limits and normalises the filename
// to its base name.
func ValidateTransmitRequest(req *types.TransmitRequest, maxBytes int) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if maxBytes > 0 && len(req.Payload) > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(req.Payload), maxBytes)
	}
	if name := strings.TrimSpace(req.Filename); name != "" {
		name = filepath.Base(filepath.Clean(name))
		if name == "." || name == string(filepath.Separator) {
			return fmt.Errorf("%w: filename %q", ErrInvalidRequest, req.Filename)
		}
		if len(name) > maxFilenameLen {
			return fmt.Errorf("%w: filename longer than %d bytes", ErrInvalidRequest, maxFilenameLen)
		}
		req.Filename = name
	}
	return nil
}
