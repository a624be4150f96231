// Package offers assembles settlement offers from the offer, plan and
// response tables. Each sub-read is bounded by its own retry policy and a
// failed sub-read never drops the offer it belongs to.
package offers

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"glgapp.org/internal/consistent"
	"glgapp.org/internal/obs"
	"glgapp.org/internal/warehouse"
)

// Parts that may be reported in SettlementOffer.Missing.
const (
	PartPaymentPlan = "payment_plan"
	PartResponses   = "responses"
)

// Offer table columns mapped one-to-one onto SettlementOffer.
const (
	ColDebtID           = "DEBT_ID"
	ColOfferID          = "OFFER_ID"
	ColMessage1         = "MESSAGE_1"
	ColMessage2         = "MESSAGE_2"
	ColSettlementAmount = "SETTLEMENT_AMOUNT"
)

// SettlementOffer is one offer joined with its plan rows and prior responses.
type SettlementOffer struct {
	DebtID           any                `json:"debt_id"`
	OfferID          any                `json:"offer_id"`
	Message1         any                `json:"message_1"`
	Message2         any                `json:"message_2"`
	SettlementAmount any                `json:"settlement_amount"`
	PaymentPlan      []warehouse.Record `json:"payment_plan"`
	Responses        []warehouse.Record `json:"responses"`
	Missing          []string           `json:"missing"`
}

// Reader is the consistent read surface the aggregator depends on.
type Reader interface {
	Read(ctx context.Context, q warehouse.Query, p consistent.Policy) (consistent.Outcome, error)
}

// Tables names the three source tables.
type Tables struct {
	Offers    string
	Plans     string
	Responses string
}

// Policies are the retry budgets for the three reads.
type Policies struct {
	Offers    consistent.Policy
	Plan      consistent.Policy
	Responses consistent.Policy
}

// Aggregator fans out per-offer sub-reads.
type Aggregator struct {
	reader      Reader
	tables      Tables
	policies    Policies
	concurrency int
}

// NewAggregator constructs an Aggregator. concurrency bounds in-flight
// sub-reads per request; values below 1 default to 4.
func NewAggregator(r Reader, tables Tables, policies Policies, concurrency int) *Aggregator {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Aggregator{reader: r, tables: tables, policies: policies, concurrency: concurrency}
}

// Aggregate returns every active offer for contactID. An empty offer set is
// consistent.ErrNotFoundAfterRetry; a failed offer read is returned as is.
// Sub-read failures only mark the affected offer.
func (a *Aggregator) Aggregate(ctx context.Context, contactID int64) ([]SettlementOffer, error) {
	out, err := a.reader.Read(ctx, a.offersQuery(contactID), a.policies.Offers)
	if err != nil {
		return nil, err
	}

	offers := make([]SettlementOffer, len(out.Result.Rows))
	planMissing := make([]bool, len(offers))
	respMissing := make([]bool, len(offers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, row := range out.Result.Rows {
		offers[i] = fromRow(row)
		offerID := row[ColOfferID]
		if offerID == nil {
			planMissing[i], respMissing[i] = true, true
			continue
		}
		g.Go(func() error {
			offers[i].PaymentPlan, planMissing[i] = a.sub(gctx, PartPaymentPlan, a.planQuery(contactID, offerID), a.policies.Plan, true)
			return nil
		})
		g.Go(func() error {
			// Most offers have no prior response, so an empty read is a normal answer.
			offers[i].Responses, respMissing[i] = a.sub(gctx, PartResponses, a.responsesQuery(contactID, offerID), a.policies.Responses, false)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range offers {
		if planMissing[i] {
			offers[i].Missing = append(offers[i].Missing, PartPaymentPlan)
			obs.ObserveOfferMissing(PartPaymentPlan)
		}
		if respMissing[i] {
			offers[i].Missing = append(offers[i].Missing, PartResponses)
			obs.ObserveOfferMissing(PartResponses)
		}
	}
	return offers, nil
}

// sub runs one sub-read. It never fails: errors become an empty sequence and
// a true missing flag. An empty result after retry is missing only when
// emptyIsMissing is set.
func (a *Aggregator) sub(ctx context.Context, part string, q warehouse.Query, p consistent.Policy, emptyIsMissing bool) ([]warehouse.Record, bool) {
	out, err := a.reader.Read(ctx, q, p)
	switch {
	case err == nil:
		return out.Result.Rows, false
	case errors.Is(err, consistent.ErrNotFoundAfterRetry):
		return []warehouse.Record{}, emptyIsMissing
	}
	if ctx.Err() == nil {
		obs.Warn("offer sub-read failed", map[string]any{
			"part":  part,
			"query": q.Name,
			"error": err,
		})
	}
	return []warehouse.Record{}, true
}

func fromRow(row warehouse.Record) SettlementOffer {
	return SettlementOffer{
		DebtID:           row[ColDebtID],
		OfferID:          row[ColOfferID],
		Message1:         row[ColMessage1],
		Message2:         row[ColMessage2],
		SettlementAmount: row[ColSettlementAmount],
		PaymentPlan:      []warehouse.Record{},
		Responses:        []warehouse.Record{},
		Missing:          []string{},
	}
}

func (a *Aggregator) offersQuery(contactID int64) warehouse.Query {
	return warehouse.Query{
		Name:      "settlement_offers",
		Statement: "SELECT * FROM " + a.tables.Offers + " WHERE CONTACT_ID = $1 ORDER BY OFFER_ID",
		Args:      []any{contactID},
	}
}

func (a *Aggregator) planQuery(contactID int64, offerID any) warehouse.Query {
	return warehouse.Query{
		Name:      "settlement_offer_plan",
		Statement: "SELECT * FROM " + a.tables.Plans + " WHERE CONTACT_ID = $1 AND OFFER_ID = $2",
		Args:      []any{contactID, offerID},
	}
}

func (a *Aggregator) responsesQuery(contactID int64, offerID any) warehouse.Query {
	return warehouse.Query{
		Name:      "settlement_offer_responses",
		Statement: "SELECT * FROM " + a.tables.Responses + " WHERE CONTACT_ID = $1 AND OFFER_ID = $2 ORDER BY RESPONDED_AT",
		Args:      []any{contactID, offerID},
	}
}
