package signals

import (
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// Analyze runs the unfiltered squeeze, the EMA stack and the standalone
// volume spike for one series. Used for ad hoc single-symbol lookups.
func Analyze(series models.BarSeries) models.SymbolAnalysis {
	out := models.SymbolAnalysis{
		Symbol:     series.Symbol.Code,
		Market:     series.Market,
		DataPoints: series.Len(),
		EMA:        EMAStacking(series.Closes()),
		AnalyzedAt: time.Now(),
	}
	if series.Len() >= BollingerPeriod {
		sq := ComputeSqueeze(series)
		out.Squeeze = &sq
	}
	if spike, ok := VolumeSpike(series); ok {
		out.Spike = &spike
	}
	return out
}
