// Package model defines the core domain types shared across the orchestrator:
// inquiries, provider results, enrichment sets, runs, and reports.
package model

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CargoCategory classifies the freight for tariff multipliers and document requirements.
type CargoCategory string

const (
	CategoryElectronics CargoCategory = "electronics"
	CategoryClothing    CargoCategory = "clothing"
	CategoryMachinery   CargoCategory = "machinery"
	CategoryChemicals   CargoCategory = "chemicals"
	CategoryFood        CargoCategory = "food"
	CategoryOther       CargoCategory = "other"
)

// Valid reports whether the category is one of the known values.
func (c CargoCategory) Valid() bool {
	switch c {
	case CategoryElectronics, CategoryClothing, CategoryMachinery,
		CategoryChemicals, CategoryFood, CategoryOther:
		return true
	}
	return false
}

// Inquiry is a normalized customer request for shipping and classification
// analysis. It is immutable once created; identity is derived from the
// normalized field values, so logically identical inquiries share one ID.
type Inquiry struct {
	Description string        `json:"description"`
	Category    CargoCategory `json:"category"`
	WeightKg    float64       `json:"weight_kg"`
	VolumeM3    float64       `json:"volume_m3"`
	Origin      string        `json:"origin"`
	Destination string        `json:"destination"`
	Supplier    string        `json:"supplier,omitempty"`
}

// normalizeText lowercases, NFC-normalizes, and collapses interior whitespace
// so that cosmetic differences do not produce distinct inquiry identities.
func normalizeText(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ID returns the inquiry identity: SHA-256 hex over the normalized fields.
func (q Inquiry) ID() string {
	key := strings.Join([]string{
		normalizeText(q.Description),
		string(q.Category),
		strconv.FormatFloat(q.WeightKg, 'f', -1, 64),
		strconv.FormatFloat(q.VolumeM3, 'f', -1, 64),
		normalizeText(q.Origin),
		normalizeText(q.Destination),
		normalizeText(q.Supplier),
	}, "|")
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// Route returns the lowercase "origin-destination" route key used for tariff lookups.
func (q Inquiry) Route() string {
	return normalizeText(q.Origin) + "-" + normalizeText(q.Destination)
}

// Validate checks the minimum field requirements before a run is admitted.
func (q Inquiry) Validate() error {
	switch {
	case strings.TrimSpace(q.Description) == "":
		return fmt.Errorf("inquiry: description is required")
	case q.WeightKg <= 0:
		return fmt.Errorf("inquiry: weight must be positive")
	case q.VolumeM3 < 0:
		return fmt.Errorf("inquiry: volume must not be negative")
	case strings.TrimSpace(q.Origin) == "":
		return fmt.Errorf("inquiry: origin is required")
	case strings.TrimSpace(q.Destination) == "":
		return fmt.Errorf("inquiry: destination is required")
	case normalizeText(q.Origin) == normalizeText(q.Destination):
		return fmt.Errorf("inquiry: origin and destination must differ")
	}
	if q.Category != "" && !q.Category.Valid() {
		return fmt.Errorf("inquiry: unknown category %q", q.Category)
	}
	return nil
}
