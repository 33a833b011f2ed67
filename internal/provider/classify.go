package provider

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/resilience"
	"github.com/freightwise/logistics-cli/pkg/tnved"
)

// codePattern matches a plausible commodity code: 4 to 10 digits.
var codePattern = regexp.MustCompile(`^\d{4,10}$`)

// ClassifyAdapter resolves an inquiry description to a commodity code with
// duty context, using the classification API's scored candidate search.
type ClassifyAdapter struct {
	client        tnved.Client
	maxCandidates int
}

// NewClassifyAdapter builds the classification adapter.
func NewClassifyAdapter(client tnved.Client, maxCandidates int) *ClassifyAdapter {
	if maxCandidates <= 0 {
		maxCandidates = 3
	}
	return &ClassifyAdapter{client: client, maxCandidates: maxCandidates}
}

func (a *ClassifyAdapter) Kind() model.ProviderKind { return model.ProviderClassification }

func (a *ClassifyAdapter) Applicable(q model.Inquiry) bool { return true }

func (a *ClassifyAdapter) KeyParts(q model.Inquiry) []string {
	return []string{q.Description, string(q.Category)}
}

func (a *ClassifyAdapter) Fetch(ctx context.Context, q model.Inquiry) (model.ProviderResult, error) {
	results, err := a.client.Search(ctx, q.Description, a.maxCandidates)
	if err != nil {
		return model.ProviderResult{}, err
	}
	if len(results) == 0 {
		return model.ProviderResult{}, model.NewFailure(model.FailureNoData, "no candidate codes for description")
	}

	candidates := make([]model.CodeCandidate, 0, len(results))
	for _, r := range results {
		if !codePattern.MatchString(r.Code) {
			return model.ProviderResult{}, model.NewFailure(model.FailureMalformed,
				fmt.Sprintf("candidate code %q is not a commodity code", r.Code))
		}
		candidates = append(candidates, model.CodeCandidate{
			Probability: r.Probability,
			Code:        r.Code,
			Description: r.Description,
			IsOld:       r.IsOld,
		})
	}

	// Current codes outrank retired ones regardless of score.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].IsOld != candidates[j].IsOld {
			return !candidates[i].IsOld
		}
		return candidates[i].Probability > candidates[j].Probability
	})
	best := candidates[0]

	cls := model.Classification{
		Code:        best.Code,
		Description: best.Description,
		Candidates:  candidates,
	}

	info, err := a.client.CodeInfo(ctx, best.Code)
	switch {
	case err == nil && info != nil:
		cls.DutyRatePct = info.DutyRate
		cls.VATRatePct = info.VATRate
		cls.RequiredDocuments = info.RequiredDocuments
		cls.Restrictions = info.Restrictions
		if info.Description != "" {
			cls.Description = info.Description
		}
	case err != nil:
		// Duty context is best-effort: a missing detail record should not
		// discard a good candidate list.
		kind := resilience.Classify(err).Kind
		if kind != model.FailureNotFound && kind != model.FailureNoData {
			return model.ProviderResult{}, err
		}
		zap.L().Debug("code detail lookup returned nothing, using category fallback",
			zap.String("code", best.Code))
	}
	if len(cls.RequiredDocuments) == 0 {
		cls.RequiredDocuments = fallbackDocuments(q.Category)
	}

	return model.ProviderResult{Classification: &cls}, nil
}

// fallbackDocuments lists the customs documents typically required per cargo
// category when the classification API carries no document data for a code.
func fallbackDocuments(category model.CargoCategory) []string {
	base := []string{"Commercial invoice", "Packing list", "Supply contract"}
	switch category {
	case model.CategoryElectronics:
		return append(base, "EAC certificate of conformity", "FSB notification for radio modules")
	case model.CategoryClothing:
		return append(base, "EAC declaration of conformity")
	case model.CategoryMachinery:
		return append(base, "EAC certificate of conformity", "Technical passport")
	case model.CategoryChemicals:
		return append(base, "Safety data sheet", "State registration certificate")
	case model.CategoryFood:
		return append(base, "Phytosanitary certificate", "State registration certificate")
	default:
		return base
	}
}
