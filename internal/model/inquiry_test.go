package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInquiry() Inquiry {
	return Inquiry{
		Description: "LED bulbs, 500 units",
		Category:    CategoryElectronics,
		WeightKg:    120,
		VolumeM3:    0.8,
		Origin:      "Guangzhou",
		Destination: "Moscow",
		Supplier:    "Shenzhen Bright Co",
	}
}

func TestInquiryIDNormalization(t *testing.T) {
	t.Parallel()

	base := validInquiry()

	tests := []struct {
		name   string
		mutate func(*Inquiry)
		same   bool
	}{
		{"identical", func(q *Inquiry) {}, true},
		{"case differs", func(q *Inquiry) { q.Description = "led BULBS, 500 units" }, true},
		{"whitespace collapsed", func(q *Inquiry) { q.Description = "  LED   bulbs,  500 units " }, true},
		{"origin case", func(q *Inquiry) { q.Origin = "GUANGZHOU" }, true},
		{"different weight", func(q *Inquiry) { q.WeightKg = 121 }, false},
		{"different description", func(q *Inquiry) { q.Description = "LED bulbs, 600 units" }, false},
		{"different supplier", func(q *Inquiry) { q.Supplier = "Other Co" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := base
			tt.mutate(&q)
			if tt.same {
				assert.Equal(t, base.ID(), q.ID())
			} else {
				assert.NotEqual(t, base.ID(), q.ID())
			}
		})
	}
}

func TestInquiryIDStable(t *testing.T) {
	t.Parallel()

	q := validInquiry()
	require.Len(t, q.ID(), 64)
	assert.Equal(t, q.ID(), q.ID())
}

func TestInquiryRoute(t *testing.T) {
	t.Parallel()

	q := Inquiry{Origin: " Guangzhou ", Destination: "MOSCOW"}
	assert.Equal(t, "guangzhou-moscow", q.Route())
}

func TestInquiryValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Inquiry)
		wantErr string
	}{
		{"valid", func(q *Inquiry) {}, ""},
		{"empty category allowed", func(q *Inquiry) { q.Category = "" }, ""},
		{"no supplier allowed", func(q *Inquiry) { q.Supplier = "" }, ""},
		{"missing description", func(q *Inquiry) { q.Description = "  " }, "description is required"},
		{"zero weight", func(q *Inquiry) { q.WeightKg = 0 }, "weight must be positive"},
		{"negative volume", func(q *Inquiry) { q.VolumeM3 = -1 }, "volume must not be negative"},
		{"missing origin", func(q *Inquiry) { q.Origin = "" }, "origin is required"},
		{"missing destination", func(q *Inquiry) { q.Destination = "" }, "destination is required"},
		{"same endpoints", func(q *Inquiry) { q.Destination = " guangzhou " }, "must differ"},
		{"unknown category", func(q *Inquiry) { q.Category = "livestock" }, "unknown category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := validInquiry()
			tt.mutate(&q)
			err := q.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCargoCategoryValid(t *testing.T) {
	t.Parallel()

	for _, c := range []CargoCategory{
		CategoryElectronics, CategoryClothing, CategoryMachinery,
		CategoryChemicals, CategoryFood, CategoryOther,
	} {
		assert.True(t, c.Valid(), string(c))
	}
	assert.False(t, CargoCategory("livestock").Valid())
	assert.False(t, CargoCategory("").Valid())
}
