// Package gateway runs one request through the fixed pipeline
// Received → Validated → Authorized → DataFetched → Responded. Every path ends
// in exactly one Response, and data access only happens after both the
// validation and the authorization gate passed.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"glgapp.org/internal/audit"
	"glgapp.org/internal/auth"
	"glgapp.org/internal/consistent"
	"glgapp.org/internal/ids"
	"glgapp.org/internal/obs"
	"glgapp.org/internal/offers"
	"glgapp.org/internal/rules"
	"glgapp.org/internal/warehouse"
)

// Stage is the last state a request reached.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageAuthorized
	StageDataFetched
	StageResponded
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageAuthorized:
		return "authorized"
	case StageDataFetched:
		return "data_fetched"
	case StageResponded:
		return "responded"
	}
	return "unknown"
}

// Response is the outcome of one dispatch. Body is set on success; Error and
// Details on failure. Stage is StageResponded on success, otherwise the last
// state passed before the failing step.
type Response struct {
	Status  int
	Body    any
	Error   string
	Details []rules.FieldError
	Stage   Stage
}

// Authorizer is the authentication and ownership gate.
type Authorizer interface {
	Authorize(ctx context.Context, token string, contactID int64, requireOwnership bool) (auth.Identity, error)
}

// Policies are the retry budgets per read class.
type Policies struct {
	Contact        consistent.Policy
	Read           consistent.Policy
	OfferPlan      consistent.Policy
	OfferResponses consistent.Policy
}

// DefaultPolicies returns the production retry budgets.
func DefaultPolicies() Policies {
	return Policies{
		Contact:        consistent.Policy{MaxAttempts: 5, Delay: time.Second},
		Read:           consistent.Policy{MaxAttempts: 5, Delay: 500 * time.Millisecond},
		OfferPlan:      consistent.Policy{MaxAttempts: 5, Delay: 500 * time.Millisecond},
		OfferResponses: consistent.Policy{MaxAttempts: 2, Delay: 250 * time.Millisecond},
	}
}

// Config wires a Dispatcher.
type Config struct {
	Store            warehouse.Store
	Authorizer       Authorizer
	Tables           Tables
	Policies         Policies
	OfferConcurrency int
	// ReaderOptions are passed to the consistent reader (tests inject a sleep).
	ReaderOptions []consistent.Option
	Now           func() time.Time
	NewID         func() string
}

// Dispatcher resolves every endpoint kind to its strategy once, at construction.
type Dispatcher struct {
	authz      Authorizer
	strategies map[rules.Kind]strategy
}

// New builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if cfg.Authorizer == nil {
		return nil, errors.New("gateway: authorizer is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = ids.RecordID
	}
	t := cfg.Tables
	p := cfg.Policies
	reader := consistent.NewReader(cfg.Store, cfg.ReaderOptions...)
	agg := offers.NewAggregator(reader, t.offerTables(), offers.Policies{
		Offers:    p.Read,
		Plan:      p.OfferPlan,
		Responses: p.OfferResponses,
	}, cfg.OfferConcurrency)
	accept := responseWriteStrategy{exec: cfg.Store, table: t.OfferResponses, response: ResponseAccept, now: cfg.Now, newID: cfg.NewID}
	reject := accept
	reject.response = ResponseReject

	d := &Dispatcher{
		authz: cfg.Authorizer,
		strategies: map[rules.Kind]strategy{
			rules.GetContact:            readStrategy{reader: reader, policy: p.Contact, build: contactQuery(t.Contacts)},
			rules.GetPaymentPlan:        readStrategy{reader: reader, policy: p.Read, build: byContact("payment_plan", t.PaymentPlan)},
			rules.GetPaymentPlanPrev:    readStrategy{reader: reader, policy: p.Read, build: byContact("payment_plan_prev", t.PaymentPlanPrev)},
			rules.GetDebts:              readStrategy{reader: reader, policy: p.Read, build: byContact("debts", t.Debts), shape: normalizeDebts},
			rules.GetSettlementOffer:    offerStrategy{agg: agg},
			rules.AcceptSettlementOffer: accept,
			rules.RejectSettlementOffer: reject,
		},
	}
	for _, k := range rules.Kinds() {
		if _, ok := d.strategies[k]; !ok {
			return nil, errors.New("gateway: no strategy for " + k.String())
		}
	}
	return d, nil
}

// Dispatch runs endpoint with the decoded JSON body and bearer token.
func (d *Dispatcher) Dispatch(ctx context.Context, endpoint string, raw map[string]any, token string) Response {
	stage := StageReceived

	req, err := rules.Validate(endpoint, raw, token)
	if err != nil {
		return d.fail(ctx, endpoint, stage, err)
	}
	stage = StageValidated

	rule, _ := rules.Lookup(req.Kind)
	var contactID int64
	if rule.OwnershipField != "" {
		contactID, _ = req.Params.Int64(rule.OwnershipField)
	}
	id, err := d.authz.Authorize(ctx, req.Token, contactID, rule.RequiresOwnership)
	if err != nil {
		_ = audit.LogEvent(ctx, audit.EventAccessDenied, map[string]any{
			"endpoint":   endpoint,
			"contact_id": contactID,
			"reason":     denialReason(err),
		})
		return d.fail(ctx, endpoint, stage, err)
	}
	ctx = auth.ContextWithIdentity(ctx, id)
	stage = StageAuthorized

	body, err := d.strategies[req.Kind].fetch(ctx, req)
	if err != nil {
		return d.fail(ctx, endpoint, stage, err)
	}
	d.auditSuccess(ctx, req, body)

	return Response{Status: http.StatusOK, Body: body, Stage: StageResponded}
}

func (d *Dispatcher) auditSuccess(ctx context.Context, req rules.ValidatedRequest, body any) {
	var event string
	switch req.Kind {
	case rules.AcceptSettlementOffer:
		event = audit.EventOfferAccepted
	case rules.RejectSettlementOffer:
		event = audit.EventOfferRejected
	case rules.GetContact:
		event = audit.EventContactLookup
	default:
		return
	}
	fields := map[string]any{"endpoint": req.Kind.String()}
	for _, f := range []string{rules.FieldContactID, rules.FieldDebtID, rules.FieldOfferID, rules.FieldLookupField} {
		if v, ok := req.Params[f]; ok {
			fields[f] = v
		}
	}
	if ack, ok := body.(WriteAck); ok {
		fields["response_id"] = ack.ResponseID
	}
	_ = audit.LogEvent(ctx, event, fields)
}

// fail maps err onto the error taxonomy. Internal detail is logged, never
// returned.
func (d *Dispatcher) fail(ctx context.Context, endpoint string, stage Stage, err error) Response {
	resp := Response{Stage: stage}
	var verrs rules.ValidationErrors
	switch {
	case errors.Is(err, rules.ErrUnknownEndpoint):
		resp.Status, resp.Error = http.StatusBadRequest, "unknown endpoint"
	case errors.As(err, &verrs):
		resp.Status, resp.Error, resp.Details = http.StatusBadRequest, "invalid request", verrs
	case errors.Is(err, auth.ErrUnauthorized):
		resp.Status, resp.Error = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, consistent.ErrNotFoundAfterRetry):
		resp.Status, resp.Error = http.StatusNotFound, "record not found"
	default:
		resp.Status, resp.Error = http.StatusInternalServerError, "internal error"
		obs.Error("dispatch failed", map[string]any{
			"request_id": audit.RequestIDFromContext(ctx),
			"endpoint":   endpoint,
			"stage":      stage.String(),
			"error":      err,
		})
	}
	return resp
}

func denialReason(err error) string {
	if errors.Is(err, auth.ErrNotOwner) {
		return "not_owner"
	}
	return "invalid_token"
}
