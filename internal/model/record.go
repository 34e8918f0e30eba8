package model

// ExtractedContactRecord is one qualifying contact with its property, owner
// and optional parcel context flattened into a single row.
type ExtractedContactRecord struct {
	PropertyID      string `json:"property_id"`
	PropertyAddress string `json:"property_address"`
	PropertyName    string `json:"property_name,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	County          string `json:"county,omitempty"`
	PropertyType    string `json:"property_type"`
	BuildingClass   string `json:"building_class,omitempty"`
	BuildingSize    string `json:"building_size"`
	LandSize        string `json:"land_size"`
	YearBuilt       string `json:"year_built"`
	MarketID        string `json:"market_id"`
	Submarket       string `json:"submarket,omitempty"`
	Cluster         string `json:"submarket_cluster,omitempty"`

	CompanyID      string `json:"company_id"`
	CompanyName    string `json:"company_name"`
	CompanyAddress string `json:"company_address"`
	CompanyPhone   string `json:"company_phone"`

	ContactID    string `json:"contact_id"`
	ContactName  string `json:"contact_name"`
	ContactTitle string `json:"contact_title"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`

	ParcelEnrichment
}

// ApplyParcel attaches parcel enrichment to the record.
func (r *ExtractedContactRecord) ApplyParcel(p ParcelEnrichment) {
	r.ParcelEnrichment = p
}

type recordColumn struct {
	key string
	get func(*ExtractedContactRecord) string
}

var recordColumns = []recordColumn{
	{"property_id", func(r *ExtractedContactRecord) string { return r.PropertyID }},
	{"property_address", func(r *ExtractedContactRecord) string { return r.PropertyAddress }},
	{"property_name", func(r *ExtractedContactRecord) string { return r.PropertyName }},
	{"city", func(r *ExtractedContactRecord) string { return r.City }},
	{"state", func(r *ExtractedContactRecord) string { return r.State }},
	{"postal_code", func(r *ExtractedContactRecord) string { return r.PostalCode }},
	{"county", func(r *ExtractedContactRecord) string { return r.County }},
	{"property_type", func(r *ExtractedContactRecord) string { return r.PropertyType }},
	{"building_class", func(r *ExtractedContactRecord) string { return r.BuildingClass }},
	{"building_size", func(r *ExtractedContactRecord) string { return r.BuildingSize }},
	{"land_size", func(r *ExtractedContactRecord) string { return r.LandSize }},
	{"year_built", func(r *ExtractedContactRecord) string { return r.YearBuilt }},
	{"market_id", func(r *ExtractedContactRecord) string { return r.MarketID }},
	{"submarket", func(r *ExtractedContactRecord) string { return r.Submarket }},
	{"submarket_cluster", func(r *ExtractedContactRecord) string { return r.Cluster }},
	{"company_id", func(r *ExtractedContactRecord) string { return r.CompanyID }},
	{"company_name", func(r *ExtractedContactRecord) string { return r.CompanyName }},
	{"company_address", func(r *ExtractedContactRecord) string { return r.CompanyAddress }},
	{"company_phone", func(r *ExtractedContactRecord) string { return r.CompanyPhone }},
	{"contact_id", func(r *ExtractedContactRecord) string { return r.ContactID }},
	{"contact_name", func(r *ExtractedContactRecord) string { return r.ContactName }},
	{"contact_title", func(r *ExtractedContactRecord) string { return r.ContactTitle }},
	{"email", func(r *ExtractedContactRecord) string { return r.Email }},
	{"phone", func(r *ExtractedContactRecord) string { return r.Phone }},
	{"apn", func(r *ExtractedContactRecord) string { return r.APN }},
	{"lot_size_sf", func(r *ExtractedContactRecord) string { return r.LotSizeSF }},
	{"zoning", func(r *ExtractedContactRecord) string { return r.Zoning }},
	{"sale_date", func(r *ExtractedContactRecord) string { return r.SaleDate }},
	{"sale_price", func(r *ExtractedContactRecord) string { return r.SalePrice }},
	{"seller", func(r *ExtractedContactRecord) string { return r.Seller }},
	{"ltv", func(r *ExtractedContactRecord) string { return r.LTV }},
	{"lender", func(r *ExtractedContactRecord) string { return r.Lender }},
	{"loan_amount", func(r *ExtractedContactRecord) string { return r.LoanAmount }},
	{"loan_rate", func(r *ExtractedContactRecord) string { return r.LoanRate }},
	{"loan_term_months", func(r *ExtractedContactRecord) string { return r.LoanTermMonths }},
	{"loan_origination", func(r *ExtractedContactRecord) string { return r.LoanOrigination }},
}

// RecordColumns returns the stable export column order.
func RecordColumns() []string {
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		cols[i] = c.key
	}
	return cols
}

// Values returns the record's values in RecordColumns order.
func (r *ExtractedContactRecord) Values() []string {
	vals := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		vals[i] = c.get(r)
	}
	return vals
}

// Map returns the flat string-keyed form consumed by downstream sinks.
// Empty values are omitted.
func (r *ExtractedContactRecord) Map() map[string]string {
	m := make(map[string]string, len(recordColumns))
	for _, c := range recordColumns {
		if v := c.get(r); v != "" {
			m[c.key] = v
		}
	}
	return m
}
