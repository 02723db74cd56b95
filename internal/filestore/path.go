package filestore

import (
	"errors"
	"path"
	"strings"

	"github.com/fleetdb/fleetdb/internal/constants"
)

// ErrEmptyID is returned when id is empty.
var ErrEmptyID = errors.New(constants.ErrEmptyID)

// sanitizeID validates id contains no traversal segments (§4.C).
func sanitizeID(id string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}
	if strings.Contains(id, "..") {
		return "", errors.New(constants.ErrInvalidID(id))
	}
	return id, nil
}

// sanitizeName strips a leading slash and collapses ".." segments out
// of name, leaving a clean forward-slash-separated relative path (§4.C).
func sanitizeName(name string) string {
	name = strings.TrimPrefix(name, "/")
	cleaned := path.Clean("/" + name)
	cleaned = strings.TrimPrefix(cleaned, "/")
	segments := strings.Split(cleaned, "/")
	out := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == ".." || seg == "." {
			continue
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}
