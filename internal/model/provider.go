package model

import (
	"time"
)

// ProviderKind names one external enrichment capability.
type ProviderKind string

const (
	ProviderClassification ProviderKind = "classification"
	ProviderSupplier       ProviderKind = "supplier"
	ProviderTariff         ProviderKind = "tariff"
	ProviderSynthesis      ProviderKind = "synthesis"
)

// EnrichmentKinds lists the providers consulted during the enrichment fan-out.
// Synthesis is invoked separately, once per run, by the report synthesizer.
var EnrichmentKinds = []ProviderKind{ProviderClassification, ProviderSupplier, ProviderTariff}

// FailureKind is the typed failure taxonomy for provider calls.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuth        FailureKind = "unauthorized"
	FailureNotFound    FailureKind = "not_found"
	FailureMalformed   FailureKind = "malformed_response"
	FailureUnavailable FailureKind = "unavailable"
	FailureNoData      FailureKind = "no_data"
	FailureProvider    FailureKind = "provider_error"
)

// Failure is a typed provider failure recorded in the enrichment set instead
// of being propagated as a pipeline error.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message,omitempty"`
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Message
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

// CodeCandidate is one scored classification candidate returned by the
// classification provider.
type CodeCandidate struct {
	Probability float64 `json:"probability"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	IsOld       bool    `json:"is_old,omitempty"`
}

// Classification is the validated payload of the classification provider:
// the winning commodity code plus duty context and the remaining candidates.
type Classification struct {
	Code              string          `json:"code"`
	Description       string          `json:"description"`
	DutyRatePct       float64         `json:"duty_rate_pct"`
	VATRatePct        float64         `json:"vat_rate_pct"`
	RequiredDocuments []string        `json:"required_documents,omitempty"`
	Restrictions      []string        `json:"restrictions,omitempty"`
	Candidates        []CodeCandidate `json:"candidates,omitempty"`
}

// SupplierProfile is the validated payload of the supplier verification provider.
type SupplierProfile struct {
	CompanyName         string `json:"company_name"`
	RegistrationNumber  string `json:"registration_number,omitempty"`
	LegalRepresentative string `json:"legal_representative,omitempty"`
	RegisteredCapital   string `json:"registered_capital,omitempty"`
	EstablishedAt       string `json:"established_at,omitempty"`
	BusinessStatus      string `json:"business_status,omitempty"`
	Industry            string `json:"industry,omitempty"`
	Address             string `json:"address,omitempty"`
	RiskCount           int    `json:"risk_count"`
	ReliabilityScore    int    `json:"reliability_score"` // 1..10
	RiskLevel           string `json:"risk_level"`        // low, medium, high
}

// DeliveryChannel distinguishes the two quoting channels.
type DeliveryChannel string

const (
	ChannelCargo DeliveryChannel = "cargo"
	ChannelWhite DeliveryChannel = "white"
)

// TariffRate is one rate row for a route and channel.
type TariffRate struct {
	Route       string          `json:"route"`
	Channel     DeliveryChannel `json:"channel"`
	PricePerKg  float64         `json:"price_per_kg"`
	TransitDays int             `json:"transit_days"`
	ValidFrom   time.Time       `json:"valid_from,omitempty"`
	ValidTo     *time.Time      `json:"valid_to,omitempty"`
}

// TariffSheet is the validated payload of the tariff lookup provider.
type TariffSheet struct {
	Route string       `json:"route"`
	Rates []TariffRate `json:"rates"`
}

// ProviderResult is the tagged outcome of one provider call: exactly one of
// the payload pointers is set on success, or Failure on failure. Results are
// immutable once recorded.
type ProviderResult struct {
	Kind           ProviderKind     `json:"kind"`
	Classification *Classification  `json:"classification,omitempty"`
	Supplier       *SupplierProfile `json:"supplier,omitempty"`
	Tariffs        *TariffSheet     `json:"tariffs,omitempty"`
	Failure        *Failure         `json:"failure,omitempty"`
	FromCache      bool             `json:"from_cache,omitempty"`
	Elapsed        time.Duration    `json:"elapsed_ns,omitempty"`
}

// OK reports whether the call produced a usable payload.
func (r ProviderResult) OK() bool {
	return r.Failure == nil
}
