package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderImage_PNG(t *testing.T) {
	png, err := RenderImage(context.Background(), buildRelease(t))
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// PNG magic bytes: 0x89 P N G.
	assert.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRenderImage_SVG(t *testing.T) {
	svg, err := RenderImageAs(context.Background(), buildRelease(t), ImageSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "Release")
}

func TestRenderImage_UnsupportedFormat(t *testing.T) {
	_, err := RenderImageAs(context.Background(), buildRelease(t), "gif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestRenderImage_Unstaged(t *testing.T) {
	m := releaseMap()
	for i := range m.Items {
		m.Items[i].Stage = ""
	}
	model, err := Build(m, nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), png[0])
}
