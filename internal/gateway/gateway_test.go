package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"glgapp.org/internal/auth"
	"glgapp.org/internal/consistent"
	"glgapp.org/internal/offers"
	"glgapp.org/internal/rules"
	"glgapp.org/internal/warehouse"
)

type fakeStore struct {
	mu      sync.Mutex
	queries []warehouse.Query
	execs   []warehouse.Query
	query   func(q warehouse.Query) (warehouse.Result, error)
	exec    func(q warehouse.Query) (int64, error)
}

func (f *fakeStore) Query(_ context.Context, q warehouse.Query) (warehouse.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.query == nil {
		return warehouse.Result{}, nil
	}
	return f.query(q)
}

func (f *fakeStore) Exec(_ context.Context, q warehouse.Query) (int64, error) {
	f.mu.Lock()
	f.execs = append(f.execs, q)
	f.mu.Unlock()
	if f.exec == nil {
		return 1, nil
	}
	return f.exec(q)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries) + len(f.execs)
}

// owners maps subject → owned contact id.
func testAuthorizer(owners map[string]int64) *auth.Authorizer {
	verifier := auth.VerifierFunc(func(_ context.Context, token string) (auth.Identity, error) {
		subject, ok := strings.CutPrefix(token, "valid-")
		if !ok {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return auth.Identity{Subject: subject, Token: token}, nil
	})
	ownership := auth.OwnershipFunc(func(_ context.Context, subject string, contactID int64) (bool, error) {
		return owners[subject] == contactID, nil
	})
	return auth.NewAuthorizer(verifier, ownership)
}

func noSleep(context.Context, time.Duration) error { return nil }

func newDispatcher(t *testing.T, store warehouse.Store) *Dispatcher {
	t.Helper()
	d, err := New(Config{
		Store:         store,
		Authorizer:    testAuthorizer(map[string]int64{"alice": 123, "bob": 456, "carol": 1}),
		Tables:        DefaultTables(""),
		Policies:      DefaultPolicies(),
		ReaderOptions: []consistent.Option{consistent.WithSleep(noSleep)},
		Now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewID:         func() string { return "resp-1" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDispatchMissingFieldNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	for _, k := range rules.Kinds() {
		rule, _ := rules.Lookup(k)
		for _, missing := range rule.Required {
			raw := map[string]any{
				"contact_id": 123, "debt_id": 2, "offer_id": 3,
				"lookup_field": "ssn", "lookup_value": "123-45-6789",
			}
			delete(raw, missing)
			resp := d.Dispatch(context.Background(), k.String(), raw, "valid-alice")
			if resp.Status != http.StatusBadRequest {
				t.Fatalf("%s without %s: expected 400, got %d", k, missing, resp.Status)
			}
			if resp.Stage != StageReceived {
				t.Fatalf("%s: expected to stop before validation passed, got %s", k, resp.Stage)
			}
			found := false
			for _, fe := range resp.Details {
				if fe.Field == missing && fe.Reason == "missing field "+missing {
					found = true
				}
			}
			if !found {
				t.Fatalf("%s: missing field %s not reported: %+v", k, missing, resp.Details)
			}
		}
	}
	if store.calls() != 0 {
		t.Fatalf("store must not be touched, got %d calls", store.calls())
	}
}

func TestDispatchUnknownEndpoint(t *testing.T) {
	store := &fakeStore{}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "drop_tables", map[string]any{}, "valid-alice")
	if resp.Status != http.StatusBadRequest || resp.Error != "unknown endpoint" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatchWildcardLookupRejected(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	for _, field := range rules.LookupFields {
		for _, w := range rules.Wildcards {
			resp := d.Dispatch(context.Background(), "get_contact", map[string]any{"lookup_field": field, "lookup_value": w}, "valid-alice")
			if resp.Status != http.StatusBadRequest {
				t.Fatalf("%s=%q: expected 400, got %d", field, w, resp.Status)
			}
		}
	}
	if store.calls() != 0 {
		t.Fatalf("store must not be touched")
	}
}

func TestDispatchInvalidTokenNeverQueries(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	bodies := map[rules.Kind]map[string]any{
		rules.GetContact:            {"lookup_field": "contact_id", "lookup_value": "123"},
		rules.GetPaymentPlan:        {"contact_id": 123},
		rules.GetPaymentPlanPrev:    {"contact_id": 123},
		rules.GetDebts:              {"contact_id": 123},
		rules.GetSettlementOffer:    {"contact_id": 123},
		rules.AcceptSettlementOffer: {"contact_id": 123, "debt_id": 2, "offer_id": 3},
		rules.RejectSettlementOffer: {"contact_id": 123, "debt_id": 2, "offer_id": 3},
	}
	for k, body := range bodies {
		for _, token := range []string{"", "expired-token"} {
			resp := d.Dispatch(context.Background(), k.String(), body, token)
			if resp.Status != http.StatusUnauthorized || resp.Stage != StageValidated {
				t.Fatalf("%s token=%q: expected 401 after validation, got %+v", k, token, resp)
			}
		}
	}
	if store.calls() != 0 {
		t.Fatalf("no data query may be issued, got %d", store.calls())
	}
}

func TestDispatchOwnershipMismatch(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	// bob owns 456, contact 123 belongs to alice.
	resp := d.Dispatch(context.Background(), "get_debts", map[string]any{"contact_id": 123}, "valid-bob")
	if resp.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Status)
	}
	if store.calls() != 0 {
		t.Fatalf("no data query may be issued")
	}
}

func TestDispatchGetContactSkipsOwnership(t *testing.T) {
	store := &fakeStore{query: func(q warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{Rows: []warehouse.Record{{"CONTACT_ID": int64(999), "SSN": "123-45-6789"}}}, nil
	}}
	d := newDispatcher(t, store)
	// dave owns nothing but may still look up by field.
	resp := d.Dispatch(context.Background(), "get_contact", map[string]any{"lookup_field": "ssn", "lookup_value": "123-45-6789"}, "valid-dave")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	q := store.queries[0]
	if q.Statement != "SELECT * FROM TBL_CONTACT_ID_LIST WHERE SSN = $1" {
		t.Fatalf("unexpected statement %q", q.Statement)
	}
	if len(q.Args) != 1 || q.Args[0] != "123-45-6789" {
		t.Fatalf("lookup value must be a bound parameter, got %v", q.Args)
	}
}

func TestDispatchContactIDLookupRequiresInteger(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	resp := d.Dispatch(context.Background(), "get_contact", map[string]any{"lookup_field": "contact_id", "lookup_value": "abc"}, "valid-alice")
	if resp.Status != http.StatusBadRequest || resp.Stage != StageReceived {
		t.Fatalf("expected 400 before validation passed, got %+v", resp)
	}
	if len(resp.Details) != 1 || resp.Details[0].Field != rules.FieldLookupValue {
		t.Fatalf("unexpected details %+v", resp.Details)
	}
	if store.calls() != 0 {
		t.Fatalf("store must not be touched, got %d calls", store.calls())
	}
}

func TestDispatchContactIDLookupBindsInteger(t *testing.T) {
	store := &fakeStore{query: func(q warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{Rows: []warehouse.Record{{"CONTACT_ID": int64(123)}}}, nil
	}}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "get_contact", map[string]any{"lookup_field": "contact_id", "lookup_value": " 123 "}, "valid-alice")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	q := store.queries[0]
	if q.Statement != "SELECT * FROM TBL_CONTACT_ID_LIST WHERE CONTACT_ID = $1" {
		t.Fatalf("unexpected statement %q", q.Statement)
	}
	if len(q.Args) != 1 || q.Args[0] != int64(123) {
		t.Fatalf("contact_id lookup must bind an integer, got %#v", q.Args)
	}
}

func TestDispatchNotFoundAfterRetry(t *testing.T) {
	store := &fakeStore{}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "get_payment_plan", map[string]any{"contact_id": "123"}, "valid-alice")
	if resp.Status != http.StatusNotFound || resp.Stage != StageAuthorized {
		t.Fatalf("expected 404 after authorization, got %+v", resp)
	}
	if got := len(store.queries); got != DefaultPolicies().Read.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultPolicies().Read.MaxAttempts, got)
	}
}

func TestDispatchQueryErrorIsNotRetriedOrLeaked(t *testing.T) {
	store := &fakeStore{query: func(q warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{}, errors.New("dial tcp 10.1.2.3:5432: connection refused")
	}}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "get_payment_plan_prev", map[string]any{"contact_id": 123}, "valid-alice")
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Status)
	}
	if strings.Contains(resp.Error, "10.1.2.3") || resp.Body != nil {
		t.Fatalf("internal detail leaked: %+v", resp)
	}
	if len(store.queries) != 1 {
		t.Fatalf("query errors must not be retried, got %d attempts", len(store.queries))
	}
	if !strings.Contains(store.queries[0].Statement, "TBL_PAYMENT_PLAN_PREV") {
		t.Fatalf("unexpected table: %s", store.queries[0].Statement)
	}
}

func TestDispatchGetDebtsNormalizesFalseAndZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM TBL_DEBTS WHERE CONTACT_ID = \$1`).
		WithArgs(int64(123)).
		WillReturnRows(sqlmock.NewRows([]string{"DEBT_ID", "SETTLEMENT_AMOUNT", "CLIENT_AUTH_OBTAINED", "BALANCE"}).
			AddRow(int64(2), 0.0, false, 120.5))

	d := newDispatcher(t, warehouse.New(db))
	resp := d.Dispatch(context.Background(), "get_debts", map[string]any{"contact_id": 123}, "valid-alice")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	rows, ok := resp.Body.([]warehouse.Record)
	if !ok || len(rows) != 1 {
		t.Fatalf("unexpected body %#v", resp.Body)
	}
	row := rows[0]
	if v, ok := row["SETTLEMENT_AMOUNT"]; !ok || v != nil {
		t.Fatalf("SETTLEMENT_AMOUNT should be null, got %v", v)
	}
	if v, ok := row["CLIENT_AUTH_OBTAINED"]; !ok || v != nil {
		t.Fatalf("CLIENT_AUTH_OBTAINED should be null, got %v", v)
	}
	if row["DEBT_ID"] != int64(2) || row["BALANCE"] != 120.5 {
		t.Fatalf("other columns must be untouched: %v", row)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDispatchGetDebtsNormalizesNumericStrings(t *testing.T) {
	store := &fakeStore{query: func(q warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{Rows: []warehouse.Record{{
			"DEBT_ID":              int64(2),
			"SETTLEMENT_AMOUNT":    "0.00",
			"CLIENT_AUTH_OBTAINED": false,
			"BALANCE":              "120.50",
			"ACCOUNT_REF":          "ACC-0",
		}}}, nil
	}}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "get_debts", map[string]any{"contact_id": 123}, "valid-alice")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	rows, ok := resp.Body.([]warehouse.Record)
	if !ok || len(rows) != 1 {
		t.Fatalf("unexpected body %#v", resp.Body)
	}
	row := rows[0]
	if v, ok := row["SETTLEMENT_AMOUNT"]; !ok || v != nil {
		t.Fatalf("SETTLEMENT_AMOUNT should be null, got %v", v)
	}
	if v, ok := row["CLIENT_AUTH_OBTAINED"]; !ok || v != nil {
		t.Fatalf("CLIENT_AUTH_OBTAINED should be null, got %v", v)
	}
	if row["BALANCE"] != "120.50" || row["ACCOUNT_REF"] != "ACC-0" || row["DEBT_ID"] != int64(2) {
		t.Fatalf("other columns must be untouched: %v", row)
	}
}

func TestIsZeroNumeric(t *testing.T) {
	cases := map[string]bool{
		"0": true, "0.00": true, "-0.0": true, " 0.000 ": true,
		"": false, "0.01": false, "abc": false, "NaN": false, "0x0": false, "ACC-0": false,
	}
	for in, want := range cases {
		if got := isZeroNumeric(in); got != want {
			t.Fatalf("isZeroNumeric(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDispatchAcceptWithoutReasonWritesOneRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO TBL_SETTLEMENT_OFFER_RESPONSES \(RESPONSE_ID, CONTACT_ID, DEBT_ID, OFFER_ID, RESPONSE, REASON, RESPONDED_AT\)`).
		WithArgs("resp-1", int64(1), int64(2), int64(3), "YES", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := newDispatcher(t, warehouse.New(db))
	resp := d.Dispatch(context.Background(), "accept_settlement_offer", map[string]any{"contact_id": 1, "debt_id": 2, "offer_id": 3}, "valid-carol")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	ack, ok := resp.Body.(WriteAck)
	if !ok || ack.RowsWritten != 1 || ack.Status != "recorded" || ack.ResponseID != "resp-1" {
		t.Fatalf("unexpected ack %#v", resp.Body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDispatchRejectRecordsReason(t *testing.T) {
	store := &fakeStore{}
	d := newDispatcher(t, store)
	resp := d.Dispatch(context.Background(), "reject_settlement_offer", map[string]any{
		"contact_id": "1", "debt_id": 2, "offer_id": 3, "reason": "too expensive",
	}, "valid-carol")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	if len(store.execs) != 1 || len(store.queries) != 0 {
		t.Fatalf("expected exactly one write, got execs=%d queries=%d", len(store.execs), len(store.queries))
	}
	args := store.execs[0].Args
	if args[4] != ResponseReject || args[5] != "too expensive" {
		t.Fatalf("unexpected write args %v", args)
	}
	if args[6] != time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("unexpected timestamp %v", args[6])
	}
}

func TestDispatchWriteFailures(t *testing.T) {
	cases := map[string]func(warehouse.Query) (int64, error){
		"exec error": func(warehouse.Query) (int64, error) { return 0, warehouse.ErrQuery },
		"no rows":    func(warehouse.Query) (int64, error) { return 0, nil },
	}
	for name, exec := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{exec: exec}
			resp := newDispatcher(t, store).Dispatch(context.Background(), "accept_settlement_offer", map[string]any{"contact_id": 1, "debt_id": 2, "offer_id": 3}, "valid-carol")
			if resp.Status != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Status)
			}
			if len(store.execs) != 1 {
				t.Fatalf("writes must not be retried, got %d", len(store.execs))
			}
		})
	}
}

func TestDispatchSettlementOffer(t *testing.T) {
	store := &fakeStore{query: func(q warehouse.Query) (warehouse.Result, error) {
		switch {
		case strings.Contains(q.Statement, "TBL_SETTLEMENT_OFFERS "):
			return warehouse.Result{Rows: []warehouse.Record{
				{"DEBT_ID": int64(2), "OFFER_ID": int64(10), "MESSAGE_1": "a", "MESSAGE_2": "b", "SETTLEMENT_AMOUNT": 300.0},
				{"DEBT_ID": int64(3), "OFFER_ID": int64(11), "MESSAGE_1": "c", "MESSAGE_2": "d", "SETTLEMENT_AMOUNT": 150.0},
			}}, nil
		case strings.Contains(q.Statement, "TBL_SETTLEMENT_OFFER_PLAN"):
			if q.Args[1] == int64(10) {
				return warehouse.Result{}, nil
			}
			return warehouse.Result{Rows: []warehouse.Record{{"AMOUNT": 75.0}, {"AMOUNT": 75.0}}}, nil
		default:
			return warehouse.Result{}, nil
		}
	}}
	resp := newDispatcher(t, store).Dispatch(context.Background(), "get_settlement_offer", map[string]any{"contact_id": 123}, "valid-alice")
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %+v", resp)
	}
	got, ok := resp.Body.([]offers.SettlementOffer)
	if !ok || len(got) != 2 {
		t.Fatalf("unexpected body %#v", resp.Body)
	}
	if len(got[0].PaymentPlan) != 0 || len(got[1].PaymentPlan) != 2 {
		t.Fatalf("unexpected plans: %v / %v", got[0].PaymentPlan, got[1].PaymentPlan)
	}

	// 1 offers read, 5 empty plan attempts for offer 10, 1 for offer 11,
	// 2 empty response attempts per offer.
	if n := len(store.queries); n != 1+5+1+2+2 {
		t.Fatalf("unexpected number of queries: %d", n)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Authorizer: testAuthorizer(nil)}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New(Config{Store: &fakeStore{}}); err == nil {
		t.Fatal("expected error without authorizer")
	}
}

func TestDefaultTablesQualifiesSchema(t *testing.T) {
	tbl := DefaultTables("KORE_AI.DATA.")
	if tbl.Debts != "KORE_AI.DATA.TBL_DEBTS" || tbl.Contacts != "KORE_AI.DATA.TBL_CONTACT_ID_LIST" {
		t.Fatalf("unexpected tables: %+v", tbl)
	}
}
