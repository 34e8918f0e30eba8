package costar

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/cost"
	"github.com/sells-group/costar-cli/internal/model"
)

// ContactsQuery fetches the detail header and true owner for a property.
const ContactsQuery = `query ContactsDetail($propertyId: Int!) {
  propertyDetail {
    propertyDetailHeader(propertyId: $propertyId) {
      propertyId
      addressHeader
      propertyType
      buildingSize
      landSize
      yearBuilt
    }
    propertyContactDetails_info(propertyId: $propertyId) {
      trueOwner {
        companyId
        name
        address
        phoneNumbers
        contacts {
          personId
          name
          title
          email
          phoneNumbers
        }
      }
    }
  }
}`

// ParcelPinsQuery resolves the parcel ids linked to a property.
const ParcelPinsQuery = `query parcelPinsFromProperty($propertyId: Int!) {
  parcelPinsFromProperty(propertyId: $propertyId) {
    parcelPins { id }
  }
}`

// ParcelDetailsQuery fetches the public record detail and sale history of a
// parcel.
const ParcelDetailsQuery = `query Parcel_Info($parcelId: String!) {
  publicRecordDetailNew {
    parcelDetail(parcelId: $parcelId) {
      apn
      lotSizeSf
      zoning
    }
    parcelSales(parcelId: $parcelId) {
      sales {
        saleDate
        salePriceTotal
        seller
        ltv
        loans {
          lender
          mortgageAmount
          intRate
          mortgageTerm
          originationDate
        }
      }
    }
  }
}`

type contactsData struct {
	PropertyDetail struct {
		Header  model.PropertyHeader `json:"propertyDetailHeader"`
		Contact struct {
			TrueOwner json.RawMessage `json:"trueOwner"`
		} `json:"propertyContactDetails_info"`
	} `json:"propertyDetail"`
}

// PropertyDetail fetches the header and true owner of a property. The owner
// may come back as an object, a list or null; it is normalized to a single
// owner or nil.
func (c *Client) PropertyDetail(ctx context.Context, propertyID int64) (*model.PropertyDetail, error) {
	data, err := c.graphQL(ctx, cost.OpDetail, ContactsQuery, map[string]any{"propertyId": propertyID}, "")
	if err != nil {
		return nil, err
	}

	var out contactsData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrapf(err, "costar: decode property %d", propertyID)
		}
	}

	owner, err := NormalizeOwner(out.PropertyDetail.Contact.TrueOwner)
	if err != nil {
		return nil, eris.Wrapf(err, "costar: decode owner of property %d", propertyID)
	}

	return &model.PropertyDetail{
		PropertyID: propertyID,
		Header:     out.PropertyDetail.Header,
		Owner:      owner,
	}, nil
}

// NormalizeOwner collapses the owner variants into one owner or nil: an
// object is used as is, a list contributes its first element, and null, an
// empty list or an empty object mean no owner.
func NormalizeOwner(raw json.RawMessage) (*model.TrueOwner, error) {
	trimmed := trimJSON(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	var owner model.TrueOwner
	if trimmed[0] == '[' {
		var owners []json.RawMessage
		if err := json.Unmarshal(trimmed, &owners); err != nil {
			return nil, err
		}
		if len(owners) == 0 {
			return nil, nil
		}
		return NormalizeOwner(owners[0])
	}

	if err := json.Unmarshal(trimmed, &owner); err != nil {
		return nil, err
	}
	if owner.Name == "" && owner.CompanyID == "" && len(owner.Contacts) == 0 {
		return nil, nil
	}
	return &owner, nil
}

func trimJSON(raw json.RawMessage) []byte {
	start, end := 0, len(raw)
	for start < end && isSpace(raw[start]) {
		start++
	}
	for end > start && isSpace(raw[end-1]) {
		end--
	}
	return raw[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

type parcelPinsData struct {
	ParcelPinsFromProperty struct {
		ParcelPins []struct {
			ID model.FlexString `json:"id"`
		} `json:"parcelPins"`
	} `json:"parcelPinsFromProperty"`
}

// ParcelPINs returns the parcel ids linked to a property, in platform order.
func (c *Client) ParcelPINs(ctx context.Context, propertyID int64) ([]string, error) {
	data, err := c.graphQL(ctx, cost.OpParcelPins, ParcelPinsQuery, map[string]any{"propertyId": propertyID}, "")
	if err != nil {
		return nil, err
	}

	var out parcelPinsData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrapf(err, "costar: decode parcel pins of property %d", propertyID)
		}
	}

	pins := make([]string, 0, len(out.ParcelPinsFromProperty.ParcelPins))
	for _, p := range out.ParcelPinsFromProperty.ParcelPins {
		if p.ID != "" {
			pins = append(pins, p.ID.String())
		}
	}
	return pins, nil
}

type parcelDetailData struct {
	PublicRecord struct {
		Detail struct {
			APN       model.FlexString `json:"apn"`
			LotSizeSF model.FlexString `json:"lotSizeSf"`
			Zoning    model.FlexString `json:"zoning"`
		} `json:"parcelDetail"`
		Sales struct {
			Sales []struct {
				SaleDate  model.FlexString `json:"saleDate"`
				SalePrice model.FlexString `json:"salePriceTotal"`
				Seller    model.FlexString `json:"seller"`
				LTV       model.FlexString `json:"ltv"`
				Loans     []struct {
					Lender          model.FlexString `json:"lender"`
					MortgageAmount  model.FlexString `json:"mortgageAmount"`
					IntRate         model.FlexString `json:"intRate"`
					MortgageTerm    model.FlexString `json:"mortgageTerm"`
					OriginationDate model.FlexString `json:"originationDate"`
				} `json:"loans"`
			} `json:"sales"`
		} `json:"parcelSales"`
	} `json:"publicRecordDetailNew"`
}

// ParcelDetail fetches the public record of a parcel, keeping the first sale
// and that sale's first loan.
func (c *Client) ParcelDetail(ctx context.Context, parcelID string) (*model.ParcelEnrichment, error) {
	data, err := c.graphQL(ctx, cost.OpParcelDetail, ParcelDetailsQuery, map[string]any{"parcelId": parcelID}, "")
	if err != nil {
		return nil, err
	}

	var out parcelDetailData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrapf(err, "costar: decode parcel %s", parcelID)
		}
	}

	pr := out.PublicRecord
	p := &model.ParcelEnrichment{
		APN:       pr.Detail.APN.String(),
		LotSizeSF: pr.Detail.LotSizeSF.String(),
		Zoning:    pr.Detail.Zoning.String(),
	}
	if len(pr.Sales.Sales) > 0 {
		sale := pr.Sales.Sales[0]
		p.SaleDate = sale.SaleDate.String()
		p.SalePrice = sale.SalePrice.String()
		p.Seller = sale.Seller.String()
		p.LTV = sale.LTV.String()
		if len(sale.Loans) > 0 {
			loan := sale.Loans[0]
			p.Lender = loan.Lender.String()
			p.LoanAmount = loan.MortgageAmount.String()
			p.LoanRate = loan.IntRate.String()
			p.LoanTermMonths = loan.MortgageTerm.String()
			p.LoanOrigination = loan.OriginationDate.String()
		}
	}
	return p, nil
}
