package quote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/model"
)

func electronicsInquiry() model.Inquiry {
	return model.Inquiry{
		Description: "LED bulbs, 500 units",
		Category:    model.CategoryElectronics,
		WeightKg:    100,
		VolumeM3:    0.5,
		Origin:      "Guangzhou",
		Destination: "Moscow",
	}
}

func publishedSheet() *model.TariffSheet {
	return &model.TariffSheet{
		Route: "guangzhou-moscow",
		Rates: []model.TariffRate{
			{Channel: model.ChannelCargo, PricePerKg: 3.0, TransitDays: 10},
			{Channel: model.ChannelCargo, PricePerKg: 2.8, TransitDays: 12},
			{Channel: model.ChannelWhite, PricePerKg: 4.9, TransitDays: 18},
		},
	}
}

func TestChargeableWeight(t *testing.T) {
	t.Parallel()

	// 0.5 m³ = 83.5 kg volumetric, below actual weight.
	assert.InDelta(t, 100.0, ChargeableWeight(100, 0.5), 1e-9)
	// 1.2 m³ = 200.4 kg volumetric, above actual weight.
	assert.InDelta(t, 200.4, ChargeableWeight(50, 1.2), 1e-9)
}

func TestAnalyze_PublishedRates(t *testing.T) {
	t.Parallel()

	cls := &model.Classification{
		Code:              "8539500000",
		DutyRatePct:       5,
		VATRatePct:        20,
		RequiredDocuments: []string{"Commercial invoice", "Packing list", "Supply contract", "EAC certificate"},
	}

	a := NewEngine().Analyze(electronicsInquiry(), cls, publishedSheet())

	// Cargo: cheapest published rate 2.8/kg, 100 kg chargeable, electronics
	// multiplier 1.1, plus insurance 2.0, packaging 15, documentation 10.
	assert.False(t, a.Cargo.DefaultTariff)
	assert.InDelta(t, 2.8, a.Cargo.PricePerKg, 1e-9)
	assert.Equal(t, 12, a.Cargo.TransitDays)
	assert.InDelta(t, 280.0, a.Cargo.BaseCost, 1e-9)
	assert.InDelta(t, 27.0, a.Cargo.AdditionalServices.Total, 1e-9)
	assert.InDelta(t, 335.0, a.Cargo.TotalCost, 1e-9)
	assert.Equal(t, "medium", a.Cargo.RiskLevel)

	// White: 4.9/kg with multiplier 1.2, documentation 25, plus customs:
	// clearance 50, duty 100*5% = 5, VAT on declared value 200*20% = 40.
	assert.InDelta(t, 490.0, a.White.BaseCost, 1e-9)
	assert.InDelta(t, 42.0, a.White.AdditionalServices.Total, 1e-9)
	assert.InDelta(t, 95.0, a.White.CustomsServices.Total, 1e-9)
	assert.InDelta(t, 725.0, a.White.TotalCost, 1e-9)
	assert.Equal(t, "low", a.White.RiskLevel)

	// 725 > 335*1.3, so cargo wins; first three documents are surfaced.
	require.NotEmpty(t, a.Recommendations)
	assert.Contains(t, a.Recommendations[0], "Cargo delivery")
	assert.Contains(t, a.Recommendations[1], "Commercial invoice, Packing list, Supply contract")
	assert.Contains(t, a.Recommendations[2], "insurance")
}

func TestAnalyze_FallbackRates(t *testing.T) {
	t.Parallel()

	q := electronicsInquiry()
	q.Category = model.CategoryOther

	a := NewEngine().Analyze(q, nil, nil)

	// Cargo: built-in 2.50/kg, multiplier 1.0, services 27.
	assert.True(t, a.Cargo.DefaultTariff)
	assert.Equal(t, 10, a.Cargo.TransitDays)
	assert.InDelta(t, 277.0, a.Cargo.TotalCost, 1e-9)

	// White: built-in 4.50/kg, multiplier 1.1, services 42, customs
	// clearance only (no classification).
	assert.True(t, a.White.DefaultTariff)
	assert.Equal(t, 20, a.White.TransitDays)
	assert.InDelta(t, 50.0, a.White.CustomsServices.Total, 1e-9)
	assert.InDelta(t, 587.0, a.White.TotalCost, 1e-9)
}

func TestAnalyze_VolumetricPackaging(t *testing.T) {
	t.Parallel()

	q := electronicsInquiry()
	q.WeightKg = 50
	q.VolumeM3 = 1.2

	a := NewEngine().Analyze(q, nil, publishedSheet())

	assert.InDelta(t, 200.4, a.Cargo.ChargeableWeightKg, 1e-9)
	assert.InDelta(t, 30.0, a.Cargo.AdditionalServices.Items["packaging"], 1e-9)
}

func TestAnalyze_UnknownCategoryUsesOtherMultiplier(t *testing.T) {
	t.Parallel()

	q := electronicsInquiry()
	q.Category = ""

	a := NewEngine().Analyze(q, nil, publishedSheet())
	// Cargo "other" multiplier is 1.0: 280 + 27 services.
	assert.InDelta(t, 307.0, a.Cargo.TotalCost, 1e-9)
}

func TestAnalyze_CategoryAndWeightRecommendations(t *testing.T) {
	t.Parallel()

	q := electronicsInquiry()
	q.Category = model.CategoryChemicals
	q.WeightKg = 1500

	a := NewEngine().Analyze(q, nil, publishedSheet())

	joined := ""
	for _, r := range a.Recommendations {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "specialized packaging")
	assert.Contains(t, joined, "1000 kg")
}

func TestAnalyze_Deterministic(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	cls := &model.Classification{DutyRatePct: 5, VATRatePct: 20}
	first := e.Analyze(electronicsInquiry(), cls, publishedSheet())
	second := e.Analyze(electronicsInquiry(), cls, publishedSheet())
	assert.Equal(t, first, second)
}

func TestLoadTariffFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tariffs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cargo:\n  price_per_kg: 3.10\n  transit_days: 14\nwhite:\n  price_per_kg: 5.20\n",
	), 0o644))

	e := NewEngine()
	require.NoError(t, e.LoadTariffFile(path))

	a := e.Analyze(electronicsInquiry(), nil, nil)
	assert.InDelta(t, 3.10, a.Cargo.PricePerKg, 1e-9)
	assert.Equal(t, 14, a.Cargo.TransitDays)
	assert.InDelta(t, 5.20, a.White.PricePerKg, 1e-9)
	// Unspecified transit days keep the built-in value.
	assert.Equal(t, 20, a.White.TransitDays)
}

func TestLoadTariffFile_UnknownChannel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tariffs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("express:\n  price_per_kg: 9.0\n"), 0o644))

	err := NewEngine().LoadTariffFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")
}
