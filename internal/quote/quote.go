// Package quote computes the deterministic shipping-cost analysis: one
// costed quote per delivery channel from the inquiry, the tariff sheet, and
// the classification's duty context, plus channel recommendations. The
// computation is pure; given the same inputs it always yields the same
// analysis.
package quote

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/freightwise/logistics-cli/internal/model"
)

// volumetricFactor converts cubic meters to chargeable kilograms (1 m³ = 167 kg).
const volumetricFactor = 167.0

// declaredValuePerKg approximates goods value for insurance and VAT bases
// when the inquiry carries no declared value.
const declaredValuePerKg = 2.0

// channelTuning holds the per-channel cost model.
type channelTuning struct {
	categoryMultipliers map[model.CargoCategory]float64
	fallbackPricePerKg  float64
	fallbackTransitDays int
	documentationFee    float64
	riskLevel           string
}

var defaultTuning = map[model.DeliveryChannel]channelTuning{
	model.ChannelCargo: {
		categoryMultipliers: map[model.CargoCategory]float64{
			model.CategoryElectronics: 1.1,
			model.CategoryClothing:    0.9,
			model.CategoryMachinery:   1.3,
			model.CategoryChemicals:   1.5,
			model.CategoryFood:        1.2,
			model.CategoryOther:       1.0,
		},
		fallbackPricePerKg:  2.50,
		fallbackTransitDays: 10,
		documentationFee:    10.0,
		riskLevel:           "medium",
	},
	model.ChannelWhite: {
		categoryMultipliers: map[model.CargoCategory]float64{
			model.CategoryElectronics: 1.2,
			model.CategoryClothing:    1.0,
			model.CategoryMachinery:   1.4,
			model.CategoryChemicals:   1.6,
			model.CategoryFood:        1.3,
			model.CategoryOther:       1.1,
		},
		fallbackPricePerKg:  4.50,
		fallbackTransitDays: 20,
		documentationFee:    25.0,
		riskLevel:           "low",
	},
}

// fileRate is one channel's override row in the tariff file.
type fileRate struct {
	PricePerKg  float64 `yaml:"price_per_kg"`
	TransitDays int     `yaml:"transit_days"`
}

// Engine produces cost analyses.
type Engine struct {
	tuning map[model.DeliveryChannel]channelTuning
}

// NewEngine builds an engine with the built-in rate table.
func NewEngine() *Engine {
	tuning := make(map[model.DeliveryChannel]channelTuning, len(defaultTuning))
	for ch, t := range defaultTuning {
		tuning[ch] = t
	}
	return &Engine{tuning: tuning}
}

// LoadTariffFile overrides the built-in fallback rates from a YAML file
// keyed by channel name.
func (e *Engine) LoadTariffFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "quote: read tariff file")
	}
	var rates map[string]fileRate
	if err := yaml.Unmarshal(raw, &rates); err != nil {
		return eris.Wrap(err, "quote: parse tariff file")
	}
	for name, r := range rates {
		ch := model.DeliveryChannel(name)
		t, ok := e.tuning[ch]
		if !ok {
			return eris.Errorf("quote: unknown channel %q in tariff file", name)
		}
		if r.PricePerKg > 0 {
			t.fallbackPricePerKg = r.PricePerKg
		}
		if r.TransitDays > 0 {
			t.fallbackTransitDays = r.TransitDays
		}
		e.tuning[ch] = t
	}
	return nil
}

// ChargeableWeight returns the billed weight: actual weight or volumetric
// weight, whichever is greater.
func ChargeableWeight(weightKg, volumeM3 float64) float64 {
	if v := volumeM3 * volumetricFactor; v > weightKg {
		return v
	}
	return weightKg
}

// Analyze quotes both delivery channels. cls and tariffs may be nil when the
// backing providers failed; the analysis then falls back to built-in rates
// and omits duty figures.
func (e *Engine) Analyze(q model.Inquiry, cls *model.Classification, tariffs *model.TariffSheet) *model.CostAnalysis {
	analysis := &model.CostAnalysis{
		Cargo: e.quoteChannel(model.ChannelCargo, q, cls, tariffs),
		White: e.quoteChannel(model.ChannelWhite, q, cls, tariffs),
	}
	analysis.Recommendations = e.recommend(q, cls, analysis)
	return analysis
}

func (e *Engine) quoteChannel(ch model.DeliveryChannel, q model.Inquiry, cls *model.Classification, tariffs *model.TariffSheet) model.ChannelQuote {
	t := e.tuning[ch]

	pricePerKg, transitDays, usedDefault := e.bestRate(ch, tariffs)
	chargeable := ChargeableWeight(q.WeightKg, q.VolumeM3)
	baseCost := pricePerKg * chargeable
	adjusted := baseCost * t.multiplier(q.Category)

	quote := model.ChannelQuote{
		Channel:            ch,
		BaseCost:           baseCost,
		PricePerKg:         pricePerKg,
		ChargeableWeightKg: chargeable,
		TransitDays:        transitDays,
		RiskLevel:          t.riskLevel,
		AdditionalServices: e.additionalServices(q, t),
		DefaultTariff:      usedDefault,
	}
	quote.TotalCost = adjusted + quote.AdditionalServices.Total

	// Only the white channel clears customs formally.
	if ch == model.ChannelWhite {
		quote.CustomsServices = e.customsServices(q, cls)
		quote.TotalCost += quote.CustomsServices.Total
	}
	return quote
}

// bestRate picks the cheapest published rate for the channel, falling back
// to the built-in rate when the sheet has none.
func (e *Engine) bestRate(ch model.DeliveryChannel, tariffs *model.TariffSheet) (pricePerKg float64, transitDays int, usedDefault bool) {
	t := e.tuning[ch]
	if tariffs == nil {
		return t.fallbackPricePerKg, t.fallbackTransitDays, true
	}

	var rows []model.TariffRate
	for _, r := range tariffs.Rates {
		if r.Channel == ch && r.PricePerKg > 0 {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return t.fallbackPricePerKg, t.fallbackTransitDays, true
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PricePerKg < rows[j].PricePerKg })
	return rows[0].PricePerKg, rows[0].TransitDays, false
}

func (t channelTuning) multiplier(category model.CargoCategory) float64 {
	if m, ok := t.categoryMultipliers[category]; ok {
		return m
	}
	return t.categoryMultipliers[model.CategoryOther]
}

func (e *Engine) customsServices(q model.Inquiry, cls *model.Classification) model.ServiceCosts {
	items := map[string]float64{"customs_clearance": 50.0}
	if cls != nil && cls.DutyRatePct > 0 {
		items["duty"] = q.WeightKg * cls.DutyRatePct / 100
	}
	if cls != nil && cls.VATRatePct > 0 {
		vatBase := q.WeightKg * declaredValuePerKg
		items["vat"] = vatBase * cls.VATRatePct / 100
	}
	return sumServices(items)
}

func (e *Engine) additionalServices(q model.Inquiry, t channelTuning) model.ServiceCosts {
	estimatedValue := q.WeightKg * declaredValuePerKg
	packaging := 15.0
	if q.VolumeM3 > 1.0 {
		packaging = 30.0
	}
	return sumServices(map[string]float64{
		"insurance":     estimatedValue * 0.01,
		"packaging":     packaging,
		"documentation": t.documentationFee,
	})
}

func sumServices(items map[string]float64) model.ServiceCosts {
	total := 0.0
	for _, v := range items {
		total += v
	}
	return model.ServiceCosts{Items: items, Total: total}
}

func (e *Engine) recommend(q model.Inquiry, cls *model.Classification, a *model.CostAnalysis) []string {
	var recs []string

	if a.White.TotalCost < a.Cargo.TotalCost*1.3 {
		recs = append(recs, "White-channel delivery is recommended: the formal clearance premium is small relative to the risk reduction")
	} else {
		recs = append(recs, "Cargo delivery is the more economical option for this shipment")
	}

	if cls != nil && len(cls.RequiredDocuments) > 0 {
		docs := cls.RequiredDocuments
		if len(docs) > 3 {
			docs = docs[:3]
		}
		recs = append(recs, fmt.Sprintf("Required documents: %s", strings.Join(docs, ", ")))
	}

	switch q.Category {
	case model.CategoryElectronics:
		recs = append(recs, "Additional insurance coverage is recommended for electronics")
	case model.CategoryChemicals:
		recs = append(recs, "Chemical cargo requires specialized packaging and transport permits")
	}

	if q.WeightKg > 1000 {
		recs = append(recs, "Volume discounts are usually negotiable for consignments over 1000 kg")
	}
	return recs
}
