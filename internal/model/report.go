package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Terminal run errors surfaced to callers. Individual provider failures are
// absorbed into the enrichment set; only these two fail a run.
var (
	// ErrEnrichmentInsufficient means every required provider failed, so no
	// meaningful report can be produced.
	ErrEnrichmentInsufficient = eris.New("enrichment insufficient: all required providers failed")
	// ErrSynthesisFatal means both the ai-synthesis provider and the
	// deterministic fallback failed.
	ErrSynthesisFatal = eris.New("synthesis fatal: fallback report generation failed")
)

// RunState is the lifecycle state of a run.
type RunState string

const (
	RunCreated      RunState = "created"
	RunEnriching    RunState = "enriching"
	RunSynthesizing RunState = "synthesizing"
	RunCompleted    RunState = "completed"
	RunFailed       RunState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is the persisted record of one orchestrated execution.
type Run struct {
	ID        string    `json:"id"`
	InquiryID string    `json:"inquiry_id"`
	Inquiry   Inquiry   `json:"inquiry"`
	State     RunState  `json:"state"`
	Report    *Report   `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelQuote is the costed outcome for one delivery channel.
type ChannelQuote struct {
	Channel            DeliveryChannel `json:"channel"`
	TotalCost          float64         `json:"total_cost"`
	BaseCost           float64         `json:"base_cost"`
	PricePerKg         float64         `json:"price_per_kg"`
	ChargeableWeightKg float64         `json:"chargeable_weight_kg"`
	TransitDays        int             `json:"transit_days"`
	RiskLevel          string          `json:"risk_level"`
	CustomsServices    ServiceCosts    `json:"customs_services,omitempty"`
	AdditionalServices ServiceCosts    `json:"additional_services"`
	DefaultTariff      bool            `json:"default_tariff,omitempty"`
}

// ServiceCosts itemizes a group of service charges.
type ServiceCosts struct {
	Items map[string]float64 `json:"items,omitempty"`
	Total float64            `json:"total"`
}

// CostAnalysis is the deterministic shipping-cost section of a report.
type CostAnalysis struct {
	Cargo           ChannelQuote `json:"cargo"`
	White           ChannelQuote `json:"white"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// DegradedSection names a report section that is missing or reduced, and why.
type DegradedSection struct {
	Section string      `json:"section"`
	Reason  FailureKind `json:"reason"`
	Detail  string      `json:"detail,omitempty"`
}

// SynthesisInfo records how the executive summary was produced.
type SynthesisInfo struct {
	Model        string `json:"model,omitempty"`
	Degraded     bool   `json:"degraded"` // true when the templated fallback was used
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// Report is the final immutable artifact delivered to every subscriber of a
// run. Sections backed by failed providers are nil and listed in Degraded.
type Report struct {
	ID               string           `json:"id"`
	InquiryID        string           `json:"inquiry_id"`
	GeneratedAt      time.Time        `json:"generated_at"`
	ExecutiveSummary string           `json:"executive_summary"`
	Classification   *Classification  `json:"classification,omitempty"`
	Supplier         *SupplierProfile `json:"supplier,omitempty"`
	Costing          *CostAnalysis    `json:"costing,omitempty"`
	Degraded         []DegradedSection `json:"degraded,omitempty"`
	Synthesis        SynthesisInfo    `json:"synthesis"`
}
