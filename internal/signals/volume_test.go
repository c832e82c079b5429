package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

func flatVolumes(n int, v int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestVolumeSpike_Standalone(t *testing.T) {
	tests := []struct {
		name          string
		baseline      int64
		latest        int64
		wantOK        bool
		wantIntensity string
	}{
		{name: "below threshold", baseline: 1000, latest: 2000, wantOK: false},
		{name: "moderate", baseline: 1000, latest: 5000, wantOK: true, wantIntensity: models.SpikeIntensityModerate},
		{name: "high", baseline: 1000, latest: 10000, wantOK: true, wantIntensity: models.SpikeIntensityHigh},
		{name: "extreme", baseline: 100, latest: 100000, wantOK: true, wantIntensity: models.SpikeIntensityExtreme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vols := flatVolumes(40, tt.baseline)
			vols[len(vols)-1] = tt.latest
			series := withVolumes(barsFromCloses(linearCloses(40, 10, 0.1), 0.5), vols)

			spike, ok := VolumeSpike(series)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantIntensity, spike.Intensity)
				assert.Equal(t, 1, spike.ConsecutiveDays)
				assert.Equal(t, tt.latest, spike.LatestVolume)
			}
		})
	}
}

func TestVolumeSpike_ConsecutiveUsesLowerThreshold(t *testing.T) {
	vols := flatVolumes(40, 1000)
	vols[37] = 3000
	vols[38] = 4000
	vols[39] = 9000
	series := withVolumes(barsFromCloses(linearCloses(40, 10, 0.1), 0.5), vols)

	spike, ok := VolumeSpike(series)

	require.True(t, ok)
	assert.Equal(t, 3, spike.ConsecutiveDays)
}

func TestVolumeSpike_ShortSeries(t *testing.T) {
	vols := flatVolumes(20, 1000)
	vols[19] = 100000
	series := withVolumes(barsFromCloses(linearCloses(20, 10, 0.1), 0.5), vols)

	_, ok := VolumeSpike(series)
	assert.False(t, ok)
}

func funnelSeries(vols []int64, step float64) models.BarSeries {
	return withVolumes(barsFromCloses(linearCloses(len(vols), 10, step), 0.2), vols)
}

func TestFunnelVolumeSpike_BoundaryAccepted(t *testing.T) {
	vols := flatVolumes(30, 5000)
	vols[27], vols[28], vols[29] = 50000, 60000, 55000

	spike, ok := FunnelVolumeSpike(funnelSeries(vols, 0.1), 10)

	require.True(t, ok)
	assert.Equal(t, 5000.0, spike.MedianVolume30d)
	assert.InDelta(t, 11.0, spike.VolumeRatio, 0.000001)
	assert.Equal(t, 3, spike.ConsecutiveDays)
	assert.Equal(t, models.SpikeIntensityHigh, spike.Intensity)
	assert.Greater(t, spike.LatestClose, spike.EMA9)
}

func TestFunnelVolumeSpike_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		vols  func() []int64
		step  float64
		ratio float64
	}{
		{
			name: "one day just under the gate",
			vols: func() []int64 {
				v := flatVolumes(30, 5000)
				v[27], v[28], v[29] = 49999, 60000, 55000
				return v
			},
			step:  0.1,
			ratio: 10,
		},
		{
			name: "zero median",
			vols: func() []int64 {
				v := flatVolumes(30, 0)
				v[27], v[28], v[29] = 50000, 60000, 55000
				return v
			},
			step:  0.1,
			ratio: 10,
		},
		{
			name: "last three days all zero",
			vols: func() []int64 {
				v := flatVolumes(30, 5000)
				v[27], v[28], v[29] = 0, 0, 0
				return v
			},
			step:  0.1,
			ratio: 0,
		},
		{
			name: "close not above EMA9",
			vols: func() []int64 {
				v := flatVolumes(30, 5000)
				v[27], v[28], v[29] = 50000, 60000, 55000
				return v
			},
			step:  -0.1,
			ratio: 10,
		},
		{
			name:  "too few bars",
			vols:  func() []int64 { return []int64{1, 2, 3} },
			step:  0.1,
			ratio: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := FunnelVolumeSpike(funnelSeries(tt.vols(), tt.step), tt.ratio)
			assert.False(t, ok)
		})
	}
}

func TestSpikePolicies_AreDistinct(t *testing.T) {
	assert.Equal(t, models.SpikeIntensityExtreme, StandaloneSpikePolicy.Intensity(10))
	assert.Equal(t, models.SpikeIntensityHigh, StandaloneSpikePolicy.Intensity(5))
	assert.Equal(t, models.SpikeIntensityModerate, StandaloneSpikePolicy.Intensity(4.99))

	assert.Equal(t, models.SpikeIntensityHigh, FunnelSpikePolicy.Intensity(10))
	assert.Equal(t, models.SpikeIntensityHigh, FunnelSpikePolicy.Intensity(6))
	assert.Equal(t, models.SpikeIntensityExtreme, FunnelSpikePolicy.Intensity(12))
	assert.Equal(t, models.SpikeIntensityModerate, FunnelSpikePolicy.Intensity(5.9))
}

func TestAnalyze(t *testing.T) {
	vols := flatVolumes(40, 1000)
	vols[39] = 10000
	series := withVolumes(barsFromCloses(linearCloses(40, 10, 0.1), 0.5), vols)

	out := Analyze(series)

	assert.Equal(t, "TEST", out.Symbol)
	assert.Equal(t, 40, out.DataPoints)
	assert.NotNil(t, out.Squeeze)
	assert.NotNil(t, out.Spike)
}
