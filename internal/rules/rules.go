// Package rules holds the static per-endpoint request rules and the validator
// that applies them to raw JSON bodies.
package rules

import "strings"

// Kind enumerates the gateway endpoints. The set is closed; unknown names never
// resolve to a Kind.
type Kind int

const (
	GetContact Kind = iota + 1
	GetPaymentPlan
	GetPaymentPlanPrev
	GetDebts
	GetSettlementOffer
	AcceptSettlementOffer
	RejectSettlementOffer
)

var kindNames = map[Kind]string{
	GetContact:            "get_contact",
	GetPaymentPlan:        "get_payment_plan",
	GetPaymentPlanPrev:    "get_payment_plan_prev",
	GetDebts:              "get_debts",
	GetSettlementOffer:    "get_settlement_offer",
	AcceptSettlementOffer: "accept_settlement_offer",
	RejectSettlementOffer: "reject_settlement_offer",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Kinds lists every endpoint in declaration order.
func Kinds() []Kind {
	return []Kind{
		GetContact, GetPaymentPlan, GetPaymentPlanPrev, GetDebts,
		GetSettlementOffer, AcceptSettlementOffer, RejectSettlementOffer,
	}
}

// Parse resolves an endpoint name such as "get_debts".
func Parse(name string) (Kind, bool) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Field names shared by several rules.
const (
	FieldContactID   = "contact_id"
	FieldDebtID      = "debt_id"
	FieldOfferID     = "offer_id"
	FieldReason      = "reason"
	FieldLookupField = "lookup_field"
	FieldLookupValue = "lookup_value"
)

// Check is a custom validator over already-coerced parameters. It runs only
// when every field in Fields is present.
type Check struct {
	Name   string
	Fields []string
	Fn     func(Params) error
}

// Rule describes validation and authorization requirements for one endpoint.
type Rule struct {
	Kind     Kind
	Required []string
	Optional []string
	Coerce   map[string]Coercion
	Checks   []Check

	// RequiresOwnership gates data access on the caller owning the contact
	// named by OwnershipField.
	RequiresOwnership bool
	OwnershipField    string

	// TrustBoundary documents why an endpoint is exempt from the ownership gate.
	TrustBoundary string
}

// Fields returns required then optional field names.
func (r Rule) Fields() []string {
	out := make([]string, 0, len(r.Required)+len(r.Optional))
	out = append(out, r.Required...)
	return append(out, r.Optional...)
}

func contactRule(k Kind) Rule {
	return Rule{
		Kind:              k,
		Required:          []string{FieldContactID},
		Coerce:            map[string]Coercion{FieldContactID: Int64},
		Checks:            []Check{positiveID(FieldContactID)},
		RequiresOwnership: true,
		OwnershipField:    FieldContactID,
	}
}

func offerResponseRule(k Kind) Rule {
	return Rule{
		Kind:     k,
		Required: []string{FieldContactID, FieldDebtID, FieldOfferID},
		Optional: []string{FieldReason},
		Coerce: map[string]Coercion{
			FieldContactID: Int64,
			FieldDebtID:    Int64,
			FieldOfferID:   Int64,
			FieldReason:    String,
		},
		Checks: []Check{
			positiveID(FieldContactID),
			positiveID(FieldDebtID),
			positiveID(FieldOfferID),
			maxLength(FieldReason, MaxReasonLength),
		},
		RequiresOwnership: true,
		OwnershipField:    FieldContactID,
	}
}

var table = map[Kind]Rule{
	GetContact: {
		Kind:     GetContact,
		Required: []string{FieldLookupField, FieldLookupValue},
		Coerce: map[string]Coercion{
			FieldLookupField: StrictString,
			FieldLookupValue: String,
		},
		Checks: []Check{lookupFieldCheck, lookupValueCheck, lookupContactIDCheck},
		// Callers use this endpoint to discover their contact_id, so there is
		// nothing to check ownership against yet. Only token validity is enforced.
		RequiresOwnership: false,
		TrustBoundary:     "lookup precedes contact_id assignment; token validity only",
	},
	GetPaymentPlan:        contactRule(GetPaymentPlan),
	GetPaymentPlanPrev:    contactRule(GetPaymentPlanPrev),
	GetDebts:              contactRule(GetDebts),
	GetSettlementOffer:    contactRule(GetSettlementOffer),
	AcceptSettlementOffer: offerResponseRule(AcceptSettlementOffer),
	RejectSettlementOffer: offerResponseRule(RejectSettlementOffer),
}

// Lookup returns the rule for k.
func Lookup(k Kind) (Rule, bool) {
	r, ok := table[k]
	return r, ok
}

// Table returns every rule in declaration order.
func Table() []Rule {
	out := make([]Rule, 0, len(table))
	for _, k := range Kinds() {
		out = append(out, table[k])
	}
	return out
}
