package asset

import (
	"context"
	"errors"
	"io"

	"github.com/sakif/civic-reports/internal/apperror"
)

var errNotConfigured = errors.New("image hosting is not configured")

// Unconfigured is the Gateway used when no image host credentials are set.
// Requests without images still work; any upload fails with UploadFailed.
type Unconfigured struct{}

func (Unconfigured) Upload(context.Context, io.Reader, Options) (*Asset, error) {
	return nil, apperror.UploadFailed(errNotConfigured)
}

func (Unconfigured) Delete(context.Context, string) error {
	return errNotConfigured
}
