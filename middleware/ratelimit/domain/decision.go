package domain

import "time"

type Outcome uint8

const (
	OutcomeAllow Outcome = iota
	OutcomeDeny
	OutcomeBan
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allowed"
	case OutcomeDeny:
		return "denied"
	case OutcomeBan:
		return "banned"
	default:
		return "unknown"
	}
}

// Decision é o resultado de uma avaliação. Quem consome (camada HTTP) decide
// status e headers; o domínio só entrega os valores.
type Decision struct {
	Outcome   Outcome
	Max       int64
	Remaining int64
	TTL       time.Duration
	// After é o TTL em formato legível ("1 second"), preenchido em Deny.
	After string
	// Exempt marca chaves da allow-list: não foram contadas.
	Exempt bool
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

func Allow(max, remaining int64, ttl time.Duration) Decision {
	return Decision{Outcome: OutcomeAllow, Max: max, Remaining: remaining, TTL: ttl}
}

// Exempted é o Allow de uma chave isenta (allow-list).
func Exempted(max int64) Decision {
	return Decision{Outcome: OutcomeAllow, Max: max, Remaining: max, Exempt: true}
}

func Deny(max int64, ttl time.Duration, after string) Decision {
	return Decision{Outcome: OutcomeDeny, Max: max, TTL: ttl, After: after}
}

func Ban() Decision { return Decision{Outcome: OutcomeBan} }
