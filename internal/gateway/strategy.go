package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"glgapp.org/internal/consistent"
	"glgapp.org/internal/offers"
	"glgapp.org/internal/rules"
	"glgapp.org/internal/warehouse"
)

// strategy fetches and shapes the data for one endpoint kind.
type strategy interface {
	fetch(ctx context.Context, req rules.ValidatedRequest) (any, error)
}

// readStrategy runs one statement through the consistent reader and returns
// the rows as a plain list.
type readStrategy struct {
	reader *consistent.Reader
	policy consistent.Policy
	build  func(rules.Params) (warehouse.Query, error)
	shape  func([]warehouse.Record) []warehouse.Record
}

func (s readStrategy) fetch(ctx context.Context, req rules.ValidatedRequest) (any, error) {
	q, err := s.build(req.Params)
	if err != nil {
		return nil, err
	}
	out, err := s.reader.Read(ctx, q, s.policy)
	if err != nil {
		return nil, err
	}
	rows := out.Result.Rows
	if s.shape != nil {
		rows = s.shape(rows)
	}
	return rows, nil
}

type offerStrategy struct {
	agg *offers.Aggregator
}

func (s offerStrategy) fetch(ctx context.Context, req rules.ValidatedRequest) (any, error) {
	contactID, _ := req.Params.Int64(rules.FieldContactID)
	return s.agg.Aggregate(ctx, contactID)
}

// Offer response values written to the RESPONSE column.
const (
	ResponseAccept = "YES"
	ResponseReject = "NO"
)

// WriteAck acknowledges a recorded offer response.
type WriteAck struct {
	Status      string `json:"status"`
	RowsWritten int64  `json:"rows_written"`
	ResponseID  string `json:"response_id"`
}

// responseWriteStrategy records an accept or reject. Writes are not retried.
type responseWriteStrategy struct {
	exec     warehouse.Execer
	table    string
	response string
	now      func() time.Time
	newID    func() string
}

func (s responseWriteStrategy) fetch(ctx context.Context, req rules.ValidatedRequest) (any, error) {
	contactID, _ := req.Params.Int64(rules.FieldContactID)
	debtID, _ := req.Params.Int64(rules.FieldDebtID)
	offerID, _ := req.Params.Int64(rules.FieldOfferID)
	var reason any
	if v, ok := req.Params.String(rules.FieldReason); ok {
		reason = v
	}

	id := s.newID()
	n, err := s.exec.Exec(ctx, warehouse.Query{
		Name: "settlement_offer_response_insert",
		Statement: "INSERT INTO " + s.table +
			" (RESPONSE_ID, CONTACT_ID, DEBT_ID, OFFER_ID, RESPONSE, REASON, RESPONDED_AT)" +
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		Args: []any{id, contactID, debtID, offerID, s.response, reason, s.now().UTC()},
	})
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: settlement_offer_response_insert: no rows written", warehouse.ErrQuery)
	}
	return WriteAck{Status: "recorded", RowsWritten: n, ResponseID: id}, nil
}

func contactQuery(table string) func(rules.Params) (warehouse.Query, error) {
	return func(p rules.Params) (warehouse.Query, error) {
		field, _ := p.String(rules.FieldLookupField)
		value, _ := p.String(rules.FieldLookupValue)
		column, ok := lookupColumns[field]
		if !ok {
			return warehouse.Query{}, rules.ValidationErrors{{
				Field:  rules.FieldLookupField,
				Reason: "lookup_field is not supported",
			}}
		}
		var arg any = value
		if field == rules.FieldContactID {
			id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return warehouse.Query{}, rules.ValidationErrors{{
					Field:  rules.FieldLookupValue,
					Reason: "lookup_value must be an integer when lookup_field is contact_id",
				}}
			}
			arg = id
		}
		return warehouse.Query{
			Name:      "contact_lookup",
			Statement: "SELECT * FROM " + table + " WHERE " + column + " = $1",
			Args:      []any{arg},
		}, nil
	}
}

func byContact(name, table string) func(rules.Params) (warehouse.Query, error) {
	return func(p rules.Params) (warehouse.Query, error) {
		contactID, _ := p.Int64(rules.FieldContactID)
		return warehouse.Query{
			Name:      name,
			Statement: "SELECT * FROM " + table + " WHERE CONTACT_ID = $1",
			Args:      []any{contactID},
		}, nil
	}
}

// normalizeDebts replaces boolean false and zero amounts with null so clients
// treat them as "not set". Integer columns such as ids are left untouched.
// NUMERIC columns arrive from the pgx driver as decimal strings.
func normalizeDebts(rows []warehouse.Record) []warehouse.Record {
	out := make([]warehouse.Record, len(rows))
	for i, row := range rows {
		norm := make(warehouse.Record, len(row))
		for k, v := range row {
			switch t := v.(type) {
			case bool:
				if !t {
					v = nil
				}
			case float64:
				if t == 0 {
					v = nil
				}
			case float32:
				if t == 0 {
					v = nil
				}
			case string:
				if isZeroNumeric(t) {
					v = nil
				}
			}
			norm[k] = v
		}
		out[i] = norm
	}
	return out
}

// isZeroNumeric reports whether s is a decimal literal equal to zero, such as
// "0", "0.00" or "-0.0". Other text, including "", is never zero.
func isZeroNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "xXpPnN_") {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && f == 0
}
