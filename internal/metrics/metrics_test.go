package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveImage(ResultCropped)
	m.ObserveImage(ResultCropped)
	m.ObserveImage(ResultFailed)
	m.ObserveFaces(2)
	m.ObserveCrop(3 * time.Millisecond)
	m.ObserveDetect(time.Second)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				for _, label := range metric.GetLabel() {
					byName[f.GetName()+"/"+label.GetValue()] = metric.GetCounter().GetValue()
				}
			case metric.GetHistogram() != nil:
				byName[f.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 2.0, byName["wallcrop_images_processed_total/cropped"])
	assert.Equal(t, 1.0, byName["wallcrop_images_processed_total/failed"])
	assert.Equal(t, 1.0, byName["wallcrop_faces_detected"])
	assert.Equal(t, 1.0, byName["wallcrop_crop_duration_seconds"])
	assert.Equal(t, 1.0, byName["wallcrop_detect_duration_seconds"])
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveImage(ResultSkipped)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wallcrop_images_processed_total{result="skipped"} 1`)
}
