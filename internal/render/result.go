package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"clownify/internal/domain"
)

// resultItem covers both URL field names the service has used across API
// versions. mediaUrl is the current name, image the older one.
type resultItem struct {
	MediaURL string `json:"mediaUrl"`
	Image    string `json:"image"`
}

// ResolveResultURL normalizes a terminal result payload into a single URL.
// The payload is either a bare object or a one-element array of objects
// (both schemas coexist remotely and both must keep working); within the
// object, mediaUrl takes precedence over image. Absence of both wraps
// domain.ErrMalformedResult.
func ResolveResultURL(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("%w: empty result payload", domain.ErrMalformedResult)
	}

	node := trimmed
	if trimmed[0] == '[' {
		var seq []json.RawMessage
		if err := json.Unmarshal(trimmed, &seq); err != nil {
			return "", fmt.Errorf("%w: decode result sequence: %v", domain.ErrMalformedResult, err)
		}
		if len(seq) == 0 {
			return "", fmt.Errorf("%w: empty result sequence", domain.ErrMalformedResult)
		}
		node = seq[0]
	}

	var item resultItem
	if err := json.Unmarshal(node, &item); err != nil {
		return "", fmt.Errorf("%w: decode result item: %v", domain.ErrMalformedResult, err)
	}
	if u := strings.TrimSpace(item.MediaURL); u != "" {
		return u, nil
	}
	if u := strings.TrimSpace(item.Image); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("%w: no media url in result", domain.ErrMalformedResult)
}
