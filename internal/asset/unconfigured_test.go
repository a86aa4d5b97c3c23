package asset

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/civic-reports/internal/apperror"
)

func TestUnconfigured(t *testing.T) {
	var gw Gateway = Unconfigured{}

	_, err := gw.Upload(context.Background(), strings.NewReader("img"), ReportPhoto)
	assert.ErrorIs(t, err, apperror.ErrUploadFailed)

	c := RemoveBestEffort(context.Background(), gw, "https://res.cloudinary.com/demo/image/upload/v1/a.jpg")
	assert.True(t, c.Failed())
}
