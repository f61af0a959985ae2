package guards

import "fmt"

// Decision is the outcome of a guard check. It is recomputed on every
// render and never stored.
type Decision int

const (
	Loading Decision = iota
	Granted
	DeniedUnauthenticated
	DeniedForbidden
	PaymentRequired
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Granted:
		return "granted"
	case DeniedUnauthenticated:
		return "denied_unauthenticated"
	case DeniedForbidden:
		return "denied_forbidden"
	case PaymentRequired:
		return "payment_required"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}
