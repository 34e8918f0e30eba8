package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPropertyStub_IDKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields map[string]any
		want   int64
	}{
		{"pin", map[string]any{"i": float64(11)}, 11},
		{"rich", map[string]any{"PropertyId": json.Number("22")}, 22},
		{"camel", map[string]any{"propertyId": "33"}, 33},
		{"none", map[string]any{"City": "Austin"}, 0},
		{"zero id", map[string]any{"i": float64(0)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewPropertyStub(tt.fields)
			assert.Equal(t, tt.want, s.ID)
			assert.Equal(t, tt.want > 0, s.HasID())
		})
	}
}

func TestPropertyDetail_MergeStub(t *testing.T) {
	t.Parallel()

	d := PropertyDetail{
		PropertyID: 9,
		Header: PropertyHeader{
			Address:      "100 Main St",
			PropertyType: "",
		},
		Owner: &TrueOwner{Name: "Owner LLC"},
	}
	stub := NewPropertyStub(map[string]any{
		"PropertyId":    float64(9),
		"Address":       "ignored because header wins",
		"PropertyType":  "Office",
		"City":          "Denver",
		"StateCode":     "CO",
		"BuildingClass": "B",
		"YearBuilt":     float64(1987),
		"TrueOwner":     "Stub Owner",
	})

	d.MergeStub(stub)

	assert.Equal(t, FlexString("100 Main St"), d.Header.Address)
	assert.Equal(t, FlexString("Office"), d.Header.PropertyType)
	assert.Equal(t, FlexString("1987"), d.Header.YearBuilt)
	assert.Equal(t, "Denver", d.Extras.City)
	assert.Equal(t, "CO", d.Extras.State)
	assert.Equal(t, "B", d.Extras.BuildingClass)
	assert.Equal(t, FlexString("Owner LLC"), d.Owner.Name)
}

func TestTrueOwner_DecodeVariants(t *testing.T) {
	t.Parallel()

	raw := `{
		"companyId": 5001,
		"name": "Acme Holdings",
		"address": ["1 Plaza", "Suite 200"],
		"phoneNumbers": ["(555) 010-0000", "(555) 010-0001"],
		"contacts": [
			{"personId": 77, "name": "Jane Roe", "title": "CFO", "email": "jane@acme.com", "phoneNumbers": "(555) 010-1111"},
			{"personId": null, "name": "John Doe", "email": null, "phoneNumbers": null}
		]
	}`

	var owner TrueOwner
	require.NoError(t, json.Unmarshal([]byte(raw), &owner))

	assert.Equal(t, FlexString("5001"), owner.CompanyID)
	assert.Equal(t, FlexString("1 Plaza, Suite 200"), owner.Address)
	assert.Equal(t, "(555) 010-0000", owner.Phones.First())
	require.Len(t, owner.Contacts, 2)
	assert.Equal(t, "(555) 010-1111", owner.Contacts[0].Phones.First())
	assert.Equal(t, FlexString("77"), owner.Contacts[0].PersonID)
	assert.Equal(t, FlexString(""), owner.Contacts[1].Email)
	assert.Equal(t, "", owner.Contacts[1].Phones.First())
}
