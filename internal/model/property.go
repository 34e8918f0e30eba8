package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// stubIDKeys lists the keys a search stub may carry its property id under,
// in lookup order.
var stubIDKeys = []string{"i", "PropertyId", "propertyId", "id"}

// PropertyStub is a minimal search hit. Fields holds the raw record so
// richer search shapes keep their descriptive attributes.
type PropertyStub struct {
	ID     int64          `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// NewPropertyStub builds a stub from a raw search record. ID is zero when no
// id key is present.
func NewPropertyStub(fields map[string]any) PropertyStub {
	s := PropertyStub{Fields: fields}
	for _, key := range stubIDKeys {
		if v, ok := fields[key]; ok {
			if id, ok := ToInt64(v); ok && id > 0 {
				s.ID = id
				break
			}
		}
	}
	return s
}

// HasID reports whether the stub can be looked up.
func (s PropertyStub) HasID() bool { return s.ID > 0 }

// Descriptive holds the descriptive attributes shared by search stubs and
// detail headers.
type Descriptive struct {
	Address       string `json:"address,omitempty"`
	PropertyName  string `json:"property_name,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	County        string `json:"county,omitempty"`
	Submarket     string `json:"submarket,omitempty"`
	Cluster       string `json:"submarket_cluster,omitempty"`
	PropertyType  string `json:"property_type,omitempty"`
	BuildingClass string `json:"building_class,omitempty"`
	BuildingSize  string `json:"building_size,omitempty"`
	LandSize      string `json:"land_size,omitempty"`
	YearBuilt     string `json:"year_built,omitempty"`
}

// Descriptive extracts whatever descriptive attributes the stub carries.
func (s PropertyStub) Descriptive() Descriptive {
	return Descriptive{
		Address:       s.first("Address", "address", "StreetAddress", "AddressHeader"),
		PropertyName:  s.first("PropertyName", "propertyName", "BuildingName"),
		City:          s.first("City", "city"),
		State:         s.first("StateCode", "State", "state"),
		PostalCode:    s.first("Zip", "PostalCode", "ZipCode", "zip"),
		County:        s.first("County", "CountyName", "county"),
		Submarket:     s.first("Submarket", "SubmarketName", "submarket"),
		Cluster:       s.first("SubmarketCluster", "SubmarketClusterName", "submarketCluster"),
		PropertyType:  s.first("PropertyType", "PropertyTypeDesc", "propertyType"),
		BuildingClass: s.first("BuildingClass", "buildingClass"),
		BuildingSize:  s.first("BuildingSize", "RBA", "buildingSize"),
		LandSize:      s.first("LandSize", "LandArea", "landSize"),
		YearBuilt:     s.first("YearBuilt", "yearBuilt"),
	}
}

func (s PropertyStub) first(keys ...string) string {
	for _, key := range keys {
		if v := scalarString(s.Fields[key]); v != "" {
			return v
		}
	}
	return ""
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// PropertyHeader is the detail header returned by the contacts query.
type PropertyHeader struct {
	PropertyID   FlexString `json:"propertyId"`
	Address      FlexString `json:"addressHeader"`
	PropertyType FlexString `json:"propertyType"`
	BuildingSize FlexString `json:"buildingSize"`
	LandSize     FlexString `json:"landSize"`
	YearBuilt    FlexString `json:"yearBuilt"`
}

// PersonContact is a person attached to a true owner.
type PersonContact struct {
	PersonID FlexString `json:"personId"`
	Name     FlexString `json:"name"`
	Title    FlexString `json:"title"`
	Email    FlexString `json:"email"`
	Phones   FlexList   `json:"phoneNumbers"`
}

// TrueOwner is the ultimate owning company of a property.
type TrueOwner struct {
	CompanyID FlexString      `json:"companyId"`
	Name      FlexString      `json:"name"`
	Address   FlexString      `json:"address"`
	Phones    FlexList        `json:"phoneNumbers"`
	Contacts  []PersonContact `json:"contacts"`
}

// PropertyDetail is the authoritative per-property view. Owner is nil when
// the property has no true owner on record.
type PropertyDetail struct {
	PropertyID int64          `json:"property_id"`
	Header     PropertyHeader `json:"header"`
	Owner      *TrueOwner     `json:"owner,omitempty"`
	Extras     Descriptive    `json:"extras"`
}

// MergeStub fills empty header values from the search stub and copies the
// stub-only attributes into Extras. Ownership is never taken from the stub.
func (d *PropertyDetail) MergeStub(s PropertyStub) {
	desc := s.Descriptive()
	fill := func(dst *FlexString, v string) {
		if *dst == "" && v != "" {
			*dst = FlexString(v)
		}
	}
	fill(&d.Header.Address, desc.Address)
	fill(&d.Header.PropertyType, desc.PropertyType)
	fill(&d.Header.BuildingSize, desc.BuildingSize)
	fill(&d.Header.LandSize, desc.LandSize)
	fill(&d.Header.YearBuilt, desc.YearBuilt)

	d.Extras.City = desc.City
	d.Extras.State = desc.State
	d.Extras.PostalCode = desc.PostalCode
	d.Extras.BuildingClass = desc.BuildingClass
	d.Extras.PropertyName = desc.PropertyName
	d.Extras.County = desc.County
	d.Extras.Submarket = desc.Submarket
	d.Extras.Cluster = desc.Cluster
}
