package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/pkg/eaeu"
	"github.com/freightwise/logistics-cli/pkg/qichacha"
	"github.com/freightwise/logistics-cli/pkg/tnved"
)

type fakeTNVED struct {
	search []tnved.SearchResult
	info   *tnved.CodeInfo
	err    error
	infoErr error
}

func (f *fakeTNVED) Search(_ context.Context, _ string, _ int) ([]tnved.SearchResult, error) {
	return f.search, f.err
}

func (f *fakeTNVED) CodeInfo(_ context.Context, _ string) (*tnved.CodeInfo, error) {
	return f.info, f.infoErr
}

func TestClassifyAdapter_PrefersCurrentCodes(t *testing.T) {
	t.Parallel()

	client := &fakeTNVED{
		search: []tnved.SearchResult{
			{Code: "8539219800", Probability: 0.9, IsOld: true, Description: "retired code"},
			{Code: "8539500000", Probability: 0.6, Description: "LED lamps"},
			{Code: "8539490000", Probability: 0.8, Description: "UV lamps"},
		},
		info: &tnved.CodeInfo{Code: "8539490000", DutyRate: 5, VATRate: 20},
	}
	a := NewClassifyAdapter(client, 3)

	res, err := a.Fetch(context.Background(), testInquiry())
	require.NoError(t, err)
	require.NotNil(t, res.Classification)

	// Highest-probability current code wins over a better-scored retired one.
	assert.Equal(t, "8539490000", res.Classification.Code)
	assert.Equal(t, 5.0, res.Classification.DutyRatePct)
	assert.Equal(t, 20.0, res.Classification.VATRatePct)
	require.Len(t, res.Classification.Candidates, 3)
	assert.True(t, res.Classification.Candidates[2].IsOld, "retired codes sort last")
}

func TestClassifyAdapter_NoCandidates(t *testing.T) {
	t.Parallel()

	a := NewClassifyAdapter(&fakeTNVED{}, 3)
	_, err := a.Fetch(context.Background(), testInquiry())

	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureNoData, failure.Kind)
}

func TestClassifyAdapter_MalformedCode(t *testing.T) {
	t.Parallel()

	client := &fakeTNVED{
		search: []tnved.SearchResult{{Code: "not-a-code", Probability: 0.9}},
	}
	a := NewClassifyAdapter(client, 3)
	_, err := a.Fetch(context.Background(), testInquiry())

	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureMalformed, failure.Kind)
}

func TestClassifyAdapter_MissingDetailUsesCategoryFallback(t *testing.T) {
	t.Parallel()

	client := &fakeTNVED{
		search:  []tnved.SearchResult{{Code: "8539500000", Probability: 0.9}},
		infoErr: &tnved.APIError{Status: 404},
	}
	a := NewClassifyAdapter(client, 3)

	q := testInquiry()
	q.Category = model.CategoryElectronics
	res, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Contains(t, res.Classification.RequiredDocuments, "EAC certificate of conformity")
}

type fakeEAEU struct {
	rates []eaeu.Rate
	err   error
}

func (f *fakeEAEU) RouteRates(_ context.Context, _ string) ([]eaeu.Rate, error) {
	return f.rates, f.err
}

func TestTariffAdapter_MapsChannelsAndFiltersValidity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-24 * time.Hour)
	client := &fakeEAEU{rates: []eaeu.Rate{
		{ServiceType: "cargo", PricePerKg: 2.8, TransitDays: 12},
		{ServiceType: "white", PricePerKg: 4.9, TransitDays: 18},
		{ServiceType: "express", PricePerKg: 9.0},            // unknown channel, skipped
		{ServiceType: "cargo", PricePerKg: 2.1, ValidTo: &expired}, // expired, skipped
		{ServiceType: "white", PricePerKg: 4.0, ValidFrom: now.Add(time.Hour)}, // not yet valid
	}}
	a := NewTariffAdapter(client, nil)
	a.nowFunc = func() time.Time { return now }

	res, err := a.Fetch(context.Background(), testInquiry())
	require.NoError(t, err)
	require.NotNil(t, res.Tariffs)
	require.Len(t, res.Tariffs.Rates, 2)
	assert.Equal(t, model.ChannelCargo, res.Tariffs.Rates[0].Channel)
	assert.Equal(t, model.ChannelWhite, res.Tariffs.Rates[1].Channel)
}

func TestTariffAdapter_AllFilteredIsNoData(t *testing.T) {
	t.Parallel()

	a := NewTariffAdapter(&fakeEAEU{rates: []eaeu.Rate{
		{ServiceType: "express", PricePerKg: 9.0},
	}}, nil)
	_, err := a.Fetch(context.Background(), testInquiry())

	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureNoData, failure.Kind)
}

func TestTariffAdapter_NonPositivePriceIsMalformed(t *testing.T) {
	t.Parallel()

	a := NewTariffAdapter(&fakeEAEU{rates: []eaeu.Rate{
		{ServiceType: "cargo", PricePerKg: 0},
	}}, nil)
	_, err := a.Fetch(context.Background(), testInquiry())

	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureMalformed, failure.Kind)
}

type fakeRateSource struct {
	rates []model.TariffRate
	err   error
}

func (f *fakeRateSource) GetTariffRates(_ context.Context, _ string) ([]model.TariffRate, error) {
	return f.rates, f.err
}

func TestTariffAdapter_RemoteDownServesImportedRates(t *testing.T) {
	t.Parallel()

	a := NewTariffAdapter(
		&fakeEAEU{err: model.NewFailure(model.FailureUnavailable, "status 503")},
		&fakeRateSource{rates: []model.TariffRate{
			{Route: "guangzhou-moscow", Channel: model.ChannelCargo, PricePerKg: 3.1, TransitDays: 14},
		}},
	)

	res, err := a.Fetch(context.Background(), testInquiry())
	require.NoError(t, err)
	require.NotNil(t, res.Tariffs)
	require.Len(t, res.Tariffs.Rates, 1)
	assert.Equal(t, 3.1, res.Tariffs.Rates[0].PricePerKg)
}

func TestTariffAdapter_NoDataFallsBackToImportedRates(t *testing.T) {
	t.Parallel()

	a := NewTariffAdapter(
		&fakeEAEU{rates: []eaeu.Rate{{ServiceType: "express", PricePerKg: 9.0}}},
		&fakeRateSource{rates: []model.TariffRate{
			{Channel: model.ChannelWhite, PricePerKg: 4.2, TransitDays: 20},
		}},
	)

	res, err := a.Fetch(context.Background(), testInquiry())
	require.NoError(t, err)
	require.NotNil(t, res.Tariffs)
	assert.Equal(t, model.ChannelWhite, res.Tariffs.Rates[0].Channel)
}

func TestTariffAdapter_ExpiredImportedRatesSurfaceCause(t *testing.T) {
	t.Parallel()

	expired := time.Now().Add(-24 * time.Hour)
	a := NewTariffAdapter(
		&fakeEAEU{err: model.NewFailure(model.FailureUnavailable, "status 503")},
		&fakeRateSource{rates: []model.TariffRate{
			{Channel: model.ChannelCargo, PricePerKg: 3.1, ValidTo: &expired},
		}},
	)

	_, err := a.Fetch(context.Background(), testInquiry())
	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureUnavailable, failure.Kind)
}

type fakeQichacha struct {
	check *qichacha.CheckResult
	err   error
}

func (f *fakeQichacha) SearchCompany(_ context.Context, _ string) (*qichacha.Company, error) {
	return nil, f.err
}

func (f *fakeQichacha) CompanyRisks(_ context.Context, _ string) ([]qichacha.RiskRecord, error) {
	return nil, f.err
}

func (f *fakeQichacha) ComprehensiveCheck(_ context.Context, _ string) (*qichacha.CheckResult, error) {
	return f.check, f.err
}

func TestSupplierAdapter_ApplicableOnlyWithSupplier(t *testing.T) {
	t.Parallel()

	a := NewSupplierAdapter(&fakeQichacha{})
	q := testInquiry()
	assert.False(t, a.Applicable(q))
	q.Supplier = "Shenzhen Bright Co"
	assert.True(t, a.Applicable(q))
}

func TestSupplierAdapter_MapsProfile(t *testing.T) {
	t.Parallel()

	a := NewSupplierAdapter(&fakeQichacha{check: &qichacha.CheckResult{
		Company: qichacha.Company{
			Name:   "Shenzhen Bright Co",
			Status: "存续",
		},
		Risks:            []qichacha.RiskRecord{{}, {}},
		ReliabilityScore: 7,
		RiskLevel:        "medium",
	}})

	q := testInquiry()
	q.Supplier = "Shenzhen Bright Co"
	res, err := a.Fetch(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, res.Supplier)
	assert.Equal(t, 2, res.Supplier.RiskCount)
	assert.Equal(t, 7, res.Supplier.ReliabilityScore)
	assert.Equal(t, "medium", res.Supplier.RiskLevel)
}

func TestSupplierAdapter_NotFoundIsNoData(t *testing.T) {
	t.Parallel()

	a := NewSupplierAdapter(&fakeQichacha{err: qichacha.ErrCompanyNotFound})
	q := testInquiry()
	q.Supplier = "Ghost Trading Ltd"
	_, err := a.Fetch(context.Background(), q)

	var failure *model.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, model.FailureNoData, failure.Kind)
}
