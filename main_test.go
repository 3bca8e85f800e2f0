package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/screencap/compositing"
	"github.com/yeti47/cryospy/screencap/config"
	"github.com/yeti47/cryospy/screencap/exporting"
)

func TestParseFilter(t *testing.T) {
	key, value, err := parseFilter("brightness=120")
	require.NoError(t, err)
	assert.Equal(t, compositing.FilterBrightness, key)
	assert.Equal(t, 120.0, value)

	key, value, err = parseFilter(" grayscale ")
	require.NoError(t, err)
	assert.Equal(t, compositing.FilterGrayscale, key)
	assert.Equal(t, 1.0, value)

	_, _, err = parseFilter("blur=lots")
	assert.Error(t, err)
}

func TestEditPlanFromFlags(t *testing.T) {
	flags := Record.Flags()
	require.NoError(t, flags.Set("trim-start", "2s"))
	require.NoError(t, flags.Set("trim-end", "5s"))
	require.NoError(t, flags.Set("filter", "sepia"))
	require.NoError(t, flags.Set("filter", "contrast=150"))
	require.NoError(t, flags.Set("overlay", "Demo"))
	t.Cleanup(func() {
		flags.Set("trim-start", "0s")
		flags.Set("trim-end", "0s")
		flags.Set("overlay", "")
	})

	cfg := config.DefaultConfig()
	cfg.ExportFormat = "mp4"

	plan, err := editPlanFromFlags(Record, cfg)
	require.NoError(t, err)
	assert.Equal(t, exporting.FormatMP4, plan.Format)
	assert.Equal(t, 2*time.Second, plan.TrimStart)
	assert.Equal(t, 5*time.Second, plan.TrimEnd)
	assert.Equal(t, "Demo", plan.Overlay)
	assert.Equal(t, map[compositing.FilterKey]float64{compositing.FilterSepia: 1, compositing.FilterContrast: 150}, plan.Filters)

	cfg.ExportFormat = "avi"
	_, err = editPlanFromFlags(Record, cfg)
	assert.Error(t, err)
}
