package depth

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

func flatDepth(w, h int, v float32) model.DepthImage {
	meters := make([]float32, w*h)
	for i := range meters {
		meters[i] = v
	}
	return model.DepthImage{Width: w, Height: h, Meters: meters}
}

func TestReaderSampleValid(t *testing.T) {
	r := NewReader(ReaderConfig{WindowRadius: 2, InvalidMin: 0.05, InvalidMax: 12})
	d := flatDepth(100, 100, 5.0)
	depthM, conf, ok := r.Sample(d, image.Rect(40, 40, 60, 80))
	require.True(t, ok)
	require.InDelta(t, 5.0, depthM, 1e-6)
	require.Equal(t, 1.0, conf)
}

func TestReaderSampleAllInvalid(t *testing.T) {
	r := NewReader(ReaderConfig{WindowRadius: 2, InvalidMin: 0.05, InvalidMax: 12})
	d := flatDepth(100, 100, 99.0) // above invalid_max everywhere
	_, conf, ok := r.Sample(d, image.Rect(40, 40, 60, 80))
	require.False(t, ok)
	require.Equal(t, 0.0, conf)
}
