package model

// ParcelEnrichment is the public-record data attached to contacts when
// parcel enrichment is requested. Only the first sale and its first loan
// are kept.
type ParcelEnrichment struct {
	APN             string `json:"apn,omitempty"`
	LotSizeSF       string `json:"lot_size_sf,omitempty"`
	Zoning          string `json:"zoning,omitempty"`
	SaleDate        string `json:"sale_date,omitempty"`
	SalePrice       string `json:"sale_price,omitempty"`
	Seller          string `json:"seller,omitempty"`
	LTV             string `json:"ltv,omitempty"`
	Lender          string `json:"lender,omitempty"`
	LoanAmount      string `json:"loan_amount,omitempty"`
	LoanRate        string `json:"loan_rate,omitempty"`
	LoanTermMonths  string `json:"loan_term_months,omitempty"`
	LoanOrigination string `json:"loan_origination,omitempty"`
}

// IsZero reports whether no parcel attribute is set.
func (p ParcelEnrichment) IsZero() bool {
	return p == ParcelEnrichment{}
}
