package gateway

import (
	"strings"

	"glgapp.org/internal/offers"
)

// Tables names the warehouse tables the gateway reads and writes. Names come
// from configuration, never from request data.
type Tables struct {
	Contacts        string
	PaymentPlan     string
	PaymentPlanPrev string
	Debts           string
	Offers          string
	OfferPlans      string
	OfferResponses  string
}

// DefaultTables returns the production table names qualified with schema.
func DefaultTables(schema string) Tables {
	schema = strings.Trim(strings.TrimSpace(schema), ".")
	q := func(name string) string {
		if schema == "" {
			return name
		}
		return schema + "." + name
	}
	return Tables{
		Contacts:        q("TBL_CONTACT_ID_LIST"),
		PaymentPlan:     q("TBL_PAYMENT_PLAN2"),
		PaymentPlanPrev: q("TBL_PAYMENT_PLAN_PREV"),
		Debts:           q("TBL_DEBTS"),
		Offers:          q("TBL_SETTLEMENT_OFFERS"),
		OfferPlans:      q("TBL_SETTLEMENT_OFFER_PLAN"),
		OfferResponses:  q("TBL_SETTLEMENT_OFFER_RESPONSES"),
	}
}

func (t Tables) offerTables() offers.Tables {
	return offers.Tables{Offers: t.Offers, Plans: t.OfferPlans, Responses: t.OfferResponses}
}

// lookupColumns maps the get_contact allow-set onto warehouse columns.
var lookupColumns = map[string]string{
	"contact_id": "CONTACT_ID",
	"ssn":        "SSN",
	"hash_value": "HASH_VALUE",
}
