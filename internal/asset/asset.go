// Package asset is the boundary to the external image host.
//
// The host receives raw bytes, applies a transformation (resize, crop,
// quality/format selection) and returns a public URL. Deletion is keyed by
// the public id embedded in that URL.
package asset

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Crop selects how an image is fitted into the requested box.
type Crop string

const (
	// CropLimit shrinks to fit inside the box, never enlarging.
	CropLimit Crop = "limit"
	// CropFace fills the box exactly, centred on the detected face.
	CropFace Crop = "face"
)

// Options controls where an upload is stored and how it is transformed.
type Options struct {
	Folder      string
	MaxWidth    int
	MaxHeight   int
	Crop        Crop
	AutoQuality bool // let the host pick quality and format
}

var (
	// ReportPhoto bounds report images to 1200x1200.
	ReportPhoto = Options{Folder: "reports", MaxWidth: 1200, MaxHeight: 1200, Crop: CropLimit, AutoQuality: true}
	// ProfilePhoto is a face-centred 300x300 square.
	ProfilePhoto = Options{Folder: "profiles", MaxWidth: 300, MaxHeight: 300, Crop: CropFace, AutoQuality: true}
)

// Asset describes a stored image.
type Asset struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Bytes    int    `json:"bytes"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
}

// Gateway uploads and deletes hosted images.
//
// Upload must be all-or-nothing: either a usable Asset is returned or nothing
// was stored upstream. Errors wrap apperror.ErrUploadFailed.
type Gateway interface {
	Upload(ctx context.Context, r io.Reader, opts Options) (*Asset, error)
	Delete(ctx context.Context, assetURL string) error
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// PublicIDFromURL derives the host's public id from a delivery URL:
//
//	https://res.cloudinary.com/demo/image/upload/c_limit,w_1200/v1712/civic/reports/abc.jpg
//	→ civic/reports/abc
//
// Everything up to and including the version segment is dropped, as is the
// file extension. URLs without an /upload/ marker fall back to the path
// minus its extension.
func PublicIDFromURL(assetURL string) string {
	u, err := url.Parse(strings.TrimSpace(assetURL))
	if err != nil || u.Path == "" {
		return ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	start := 0
	for i, seg := range segments {
		if seg == "upload" {
			start = i + 1
		}
	}
	// Transformation segments sit between /upload/ and the version marker.
	for i := start; i < len(segments); i++ {
		if versionSegment.MatchString(segments[i]) {
			start = i + 1
			break
		}
	}
	if start >= len(segments) {
		return ""
	}

	id := strings.Join(segments[start:], "/")
	return strings.TrimSuffix(id, path.Ext(id))
}

// Cleanup is the outcome of a best-effort remote deletion.
//
// It is returned instead of an error so the primary operation can never fail
// because of it; the caller is expected to pass it to Acknowledge.
type Cleanup struct {
	URL     string
	Err     error
	Skipped bool // no URL to delete
}

// Failed reports whether a deletion was attempted and did not succeed.
func (c Cleanup) Failed() bool { return !c.Skipped && c.Err != nil }

// RemoveBestEffort deletes the asset behind assetURL. An empty URL is a no-op.
func RemoveBestEffort(ctx context.Context, gw Gateway, assetURL string) Cleanup {
	if assetURL == "" {
		return Cleanup{Skipped: true}
	}
	return Cleanup{URL: assetURL, Err: gw.Delete(ctx, assetURL)}
}

// Acknowledge logs a failed cleanup and returns c unchanged.
func (c Cleanup) Acknowledge(logger *slog.Logger) Cleanup {
	if c.Failed() {
		logger.Warn("asset cleanup failed",
			slog.String("url", c.URL),
			slog.String("error", c.Err.Error()),
		)
	}
	return c
}
