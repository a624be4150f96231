package audit

// Audit event names emitted by the gateway.
const (
	EventAccessDenied  = "gateway.access_denied"
	EventOfferAccepted = "gateway.offer_accepted"
	EventOfferRejected = "gateway.offer_rejected"
	EventContactLookup = "gateway.contact_lookup"
)

func outcome(event string) string {
	if event == EventAccessDenied {
		return "denied"
	}
	return "ok"
}
