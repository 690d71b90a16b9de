package logging

import (
	"bytes"
	"context"
	"testing"

	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPrettyWriter(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(NewPrettyZerologWriterTo(&out))

	logger.Info().Str("versionId", "abc").Msg("rendered page")
	assert.Contains(t, out.String(), "rendered page")
	assert.Contains(t, out.String(), "versionId")

	out.Reset()
	logger.Error().Stack().Err(oops.Render(nil, "pdftoppm exited 1")).Msg("job failed")
	assert.Contains(t, out.String(), "pdftoppm exited 1")
	assert.Contains(t, out.String(), "Stack trace")
	assert.Contains(t, out.String(), "TestPrettyWriter")
}

func TestPrettyWriterPassesThroughNonJson(t *testing.T) {
	var out bytes.Buffer
	w := NewPrettyZerologWriterTo(&out)
	n, err := w.Write([]byte("plain text\n"))
	assert.Nil(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "plain text\n", out.String())
}

func TestLoggerContext(t *testing.T) {
	assert.Equal(t, GlobalLogger(), ExtractLogger(context.Background()))

	logger := With().Str("job", "test").Logger()
	ctx := AttachLoggerToContext(&logger, context.Background())
	assert.Equal(t, &logger, ExtractLogger(ctx))
}
