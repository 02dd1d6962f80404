package mercadopago

import "confianza-backend/internal/models"

// Processor payment statuses consumed by the webhook flow.
const (
	StatusApproved  = "approved"
	StatusPending   = "pending"
	StatusInProcess = "in_process"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// MapStatus translates a processor payment status into the request's payment
// sub-state. ok is false for statuses the app does not act on; payment
// metadata is still persisted for those, but the request status is left
// untouched.
func MapStatus(status string) (string, bool) {
	switch status {
	case StatusApproved:
		return models.PaymentPaid, true
	case StatusPending, StatusInProcess:
		return models.PaymentPending, true
	case StatusRejected, StatusCancelled:
		return models.PaymentFailed, true
	default:
		return "", false
	}
}

// statusDetailReasons maps known status_detail codes to the message shown on
// the payment failure page.
var statusDetailReasons = map[string]string{
	"cc_rejected_insufficient_amount":      "La tarjeta no tiene fondos suficientes.",
	"cc_rejected_bad_filled_card_number":   "El número de tarjeta es incorrecto.",
	"cc_rejected_bad_filled_date":          "La fecha de vencimiento es incorrecta.",
	"cc_rejected_bad_filled_security_code": "El código de seguridad es incorrecto.",
	"cc_rejected_bad_filled_other":         "Algún dato de la tarjeta es incorrecto.",
	"cc_rejected_call_for_authorize":       "Debés autorizar el pago con tu banco.",
	"cc_rejected_card_disabled":            "La tarjeta está deshabilitada. Comunicate con tu banco.",
	"cc_rejected_duplicated_payment":       "Ya realizaste un pago por ese valor.",
	"cc_rejected_high_risk":                "El pago fue rechazado por seguridad. Probá con otro medio de pago.",
	"cc_rejected_max_attempts":             "Alcanzaste el límite de intentos permitidos.",
	"cc_rejected_blacklist":                "El pago no pudo procesarse. Probá con otro medio de pago.",
	"insufficient_amount":                  "El medio de pago no tiene fondos suficientes.",
	"expired":                              "El pago expiró antes de completarse.",
}

const genericRejectionReason = "El pago fue rechazado. Intentá nuevamente o usá otro medio de pago."

// StatusDetailReason returns a human-readable reason for a status_detail
// code, defaulting to a generic rejection message for unrecognized codes.
func StatusDetailReason(statusDetail string) string {
	if reason, ok := statusDetailReasons[statusDetail]; ok {
		return reason
	}
	return genericRejectionReason
}
