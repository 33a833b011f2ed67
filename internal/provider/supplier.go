package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/pkg/qichacha"
)

// SupplierAdapter verifies the named supplier against the Chinese company
// registry and scores its reliability.
type SupplierAdapter struct {
	client qichacha.Client
}

// NewSupplierAdapter builds the supplier verification adapter.
func NewSupplierAdapter(client qichacha.Client) *SupplierAdapter {
	return &SupplierAdapter{client: client}
}

func (a *SupplierAdapter) Kind() model.ProviderKind { return model.ProviderSupplier }

func (a *SupplierAdapter) Applicable(q model.Inquiry) bool {
	return strings.TrimSpace(q.Supplier) != ""
}

func (a *SupplierAdapter) KeyParts(q model.Inquiry) []string {
	return []string{q.Supplier}
}

func (a *SupplierAdapter) Fetch(ctx context.Context, q model.Inquiry) (model.ProviderResult, error) {
	check, err := a.client.ComprehensiveCheck(ctx, q.Supplier)
	if err != nil {
		if errors.Is(err, qichacha.ErrCompanyNotFound) {
			return model.ProviderResult{}, model.NewFailure(model.FailureNoData, "registry has no record for supplier")
		}
		return model.ProviderResult{}, err
	}
	if check.Company.Name == "" {
		return model.ProviderResult{}, model.NewFailure(model.FailureMalformed, "registry record has no company name")
	}

	return model.ProviderResult{Supplier: &model.SupplierProfile{
		CompanyName:         check.Company.Name,
		RegistrationNumber:  check.Company.RegNumber,
		LegalRepresentative: check.Company.LegalPersonName,
		RegisteredCapital:   check.Company.RegCapital,
		EstablishedAt:       check.Company.EstablishTime,
		BusinessStatus:      check.Company.Status,
		Industry:            check.Company.Industry,
		Address:             check.Company.Address,
		RiskCount:           len(check.Risks),
		ReliabilityScore:    check.ReliabilityScore,
		RiskLevel:           check.RiskLevel,
	}}, nil
}
