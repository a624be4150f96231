package offers

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"glgapp.org/internal/consistent"
	"glgapp.org/internal/warehouse"
)

type stubReader struct {
	mu    sync.Mutex
	calls []warehouse.Query
	read  func(q warehouse.Query, p consistent.Policy) (consistent.Outcome, error)
}

func (s *stubReader) Read(_ context.Context, q warehouse.Query, p consistent.Policy) (consistent.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	s.mu.Unlock()
	return s.read(q, p)
}

func found(rows ...warehouse.Record) (consistent.Outcome, error) {
	return consistent.Outcome{Attempts: 1, Result: warehouse.Result{Rows: rows}}, nil
}

var testTables = Tables{Offers: "TBL_SETTLEMENT_OFFERS", Plans: "TBL_SETTLEMENT_OFFER_PLAN", Responses: "TBL_SETTLEMENT_OFFER_RESPONSES"}

var testPolicies = Policies{
	Offers:    consistent.Policy{MaxAttempts: 5, Delay: 500 * time.Millisecond},
	Plan:      consistent.Policy{MaxAttempts: 5, Delay: 500 * time.Millisecond},
	Responses: consistent.Policy{MaxAttempts: 2, Delay: 250 * time.Millisecond},
}

func TestAggregateKeepsOfferWhenPlanMissing(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, p consistent.Policy) (consistent.Outcome, error) {
		switch q.Name {
		case "settlement_offers":
			return found(
				warehouse.Record{ColDebtID: int64(2), ColOfferID: int64(10), ColMessage1: "m1", ColMessage2: "m2", ColSettlementAmount: 150.5},
				warehouse.Record{ColDebtID: int64(3), ColOfferID: int64(11), ColMessage1: "x", ColMessage2: "y", ColSettlementAmount: 99.0},
			)
		case "settlement_offer_plan":
			if q.Args[1] == int64(10) {
				return consistent.Outcome{Attempts: p.MaxAttempts}, consistent.ErrNotFoundAfterRetry
			}
			return found(warehouse.Record{"PAYMENT_DATE": "2024-01-01", "AMOUNT": 49.5}, warehouse.Record{"PAYMENT_DATE": "2024-02-01", "AMOUNT": 49.5})
		case "settlement_offer_responses":
			if q.Args[1] == int64(11) {
				return found(warehouse.Record{"RESPONSE": "NO"})
			}
			return consistent.Outcome{Attempts: p.MaxAttempts}, consistent.ErrNotFoundAfterRetry
		}
		t.Fatalf("unexpected query %q", q.Name)
		return consistent.Outcome{}, nil
	}}

	agg := NewAggregator(r, testTables, testPolicies, 2)
	got, err := agg.Aggregate(context.Background(), 123)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(got))
	}

	a, b := got[0], got[1]
	if a.OfferID != int64(10) || b.OfferID != int64(11) {
		t.Fatalf("offers out of order: %v %v", a.OfferID, b.OfferID)
	}
	if a.PaymentPlan == nil || len(a.PaymentPlan) != 0 {
		t.Fatalf("offer A plan should be an empty sequence, got %#v", a.PaymentPlan)
	}
	if len(b.PaymentPlan) != 2 {
		t.Fatalf("offer B plan should be populated, got %#v", b.PaymentPlan)
	}
	if !reflect.DeepEqual(a.Missing, []string{PartPaymentPlan}) {
		t.Fatalf("unexpected missing for A: %v", a.Missing)
	}
	if a.Responses == nil || len(a.Responses) != 0 {
		t.Fatalf("offer A responses should be an empty sequence, got %#v", a.Responses)
	}
	if len(b.Missing) != 0 || len(b.Responses) != 1 {
		t.Fatalf("unexpected B: missing=%v responses=%v", b.Missing, b.Responses)
	}
	if a.Message1 != "m1" || a.SettlementAmount != 150.5 || a.DebtID != int64(2) {
		t.Fatalf("field mapping broken: %+v", a)
	}
}

func TestAggregateUsesPerPartPolicies(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]consistent.Policy{}
	r := &stubReader{read: func(q warehouse.Query, p consistent.Policy) (consistent.Outcome, error) {
		mu.Lock()
		seen[q.Name] = p
		mu.Unlock()
		if q.Name == "settlement_offers" {
			return found(warehouse.Record{ColOfferID: int64(1)})
		}
		return found(warehouse.Record{"K": 1})
	}}
	if _, err := NewAggregator(r, testTables, testPolicies, 0).Aggregate(context.Background(), 5); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if seen["settlement_offer_plan"] != testPolicies.Plan || seen["settlement_offer_responses"] != testPolicies.Responses || seen["settlement_offers"] != testPolicies.Offers {
		t.Fatalf("unexpected policies: %+v", seen)
	}
}

func TestAggregateSubQueryErrorIsIsolated(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, _ consistent.Policy) (consistent.Outcome, error) {
		switch q.Name {
		case "settlement_offers":
			return found(warehouse.Record{ColOfferID: int64(1)}, warehouse.Record{ColOfferID: int64(2)})
		case "settlement_offer_plan":
			if q.Args[1] == int64(1) {
				return consistent.Outcome{}, warehouse.ErrQuery
			}
		}
		return found(warehouse.Record{"K": "v"})
	}}
	got, err := NewAggregator(r, testTables, testPolicies, 4).Aggregate(context.Background(), 9)
	if err != nil {
		t.Fatalf("sub-read errors must not fail the request: %v", err)
	}
	if len(got) != 2 || !reflect.DeepEqual(got[0].Missing, []string{PartPaymentPlan}) || len(got[1].Missing) != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAggregateResponsesReadErrorIsMissing(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, p consistent.Policy) (consistent.Outcome, error) {
		switch q.Name {
		case "settlement_offers":
			return found(warehouse.Record{ColOfferID: int64(1)}, warehouse.Record{ColOfferID: int64(2)})
		case "settlement_offer_responses":
			if q.Args[1] == int64(1) {
				return consistent.Outcome{Attempts: 1}, warehouse.ErrQuery
			}
			return consistent.Outcome{Attempts: p.MaxAttempts}, consistent.ErrNotFoundAfterRetry
		}
		return found(warehouse.Record{"K": "v"})
	}}
	got, err := NewAggregator(r, testTables, testPolicies, 2).Aggregate(context.Background(), 9)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].Missing, []string{PartResponses}) {
		t.Fatalf("failed responses read must be reported: %v", got[0].Missing)
	}
	if len(got[1].Missing) != 0 || len(got[1].Responses) != 0 {
		t.Fatalf("offer without prior responses is complete: %+v", got[1])
	}
}

func TestAggregateNoOffers(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, p consistent.Policy) (consistent.Outcome, error) {
		return consistent.Outcome{Attempts: p.MaxAttempts}, consistent.ErrNotFoundAfterRetry
	}}
	if _, err := NewAggregator(r, testTables, testPolicies, 1).Aggregate(context.Background(), 1); !errors.Is(err, consistent.ErrNotFoundAfterRetry) {
		t.Fatalf("expected ErrNotFoundAfterRetry, got %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("no sub-reads expected, got %d calls", len(r.calls))
	}
}

func TestAggregateOfferReadError(t *testing.T) {
	r := &stubReader{read: func(warehouse.Query, consistent.Policy) (consistent.Outcome, error) {
		return consistent.Outcome{}, warehouse.ErrQuery
	}}
	if _, err := NewAggregator(r, testTables, testPolicies, 1).Aggregate(context.Background(), 1); !errors.Is(err, warehouse.ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
}

func TestAggregateOfferWithoutID(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, _ consistent.Policy) (consistent.Outcome, error) {
		if q.Name != "settlement_offers" {
			t.Fatalf("sub-read issued for offer without id: %s", q.Name)
		}
		return found(warehouse.Record{ColDebtID: int64(4)})
	}}
	got, err := NewAggregator(r, testTables, testPolicies, 1).Aggregate(context.Background(), 1)
	if err != nil || len(got) != 1 || len(got[0].Missing) != 2 {
		t.Fatalf("unexpected: %+v %v", got, err)
	}
}

func TestAggregateParameterizesStatements(t *testing.T) {
	r := &stubReader{read: func(q warehouse.Query, _ consistent.Policy) (consistent.Outcome, error) {
		if q.Name == "settlement_offers" {
			return found(warehouse.Record{ColOfferID: "7"})
		}
		return found(warehouse.Record{"K": 1})
	}}
	if _, err := NewAggregator(r, testTables, testPolicies, 1).Aggregate(context.Background(), 42); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for _, q := range r.calls {
		if q.Args[0] != int64(42) {
			t.Fatalf("%s: expected contact id arg, got %v", q.Name, q.Args)
		}
		if q.Name != "settlement_offers" && q.Args[1] != "7" {
			t.Fatalf("%s: expected offer id arg, got %v", q.Name, q.Args)
		}
	}
}
