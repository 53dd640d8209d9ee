// Package occ renders and parses 21-character OCC option symbols
// (underlying, expiration, right, strike) — pure string formatting with no
// I/O.
package occ

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Right is the option side, Call or Put.
type Right byte

const (
	Call Right = 'C'
	Put  Right = 'P'
)

func ParseRight(s string) (Right, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return Call, nil
	case "PUT", "P":
		return Put, nil
	default:
		return 0, fmt.Errorf("occ: unknown option type %q", s)
	}
}

func (r Right) String() string {
	if r == Call {
		return "Call"
	}
	return "Put"
}

// Symbol is the decoded form of a 21-character OCC identifier.
type Symbol struct {
	Underlying string
	Expiration time.Time
	Right      Right
	Strike     float64
}

// Render produces the bit-exact 21-character OCC symbol:
// {underlying padded right with spaces to 6}{YYMMDD}{C|P}{strikeCents padded left with zeros to 8}.
func Render(underlying string, expiration time.Time, right Right, strike float64) string {
	u := strings.ToUpper(underlying)
	if len(u) > 6 {
		u = u[:6]
	}
	underlyingField := u + strings.Repeat(" ", 6-len(u))
	dateField := expiration.Format("060102")
	strikeCents := int64(strike*1000 + 0.5)
	if strikeCents < 0 {
		strikeCents = 0
	}
	strikeField := fmt.Sprintf("%08d", strikeCents)
	return fmt.Sprintf("%s%s%c%s", underlyingField, dateField, byte(right), strikeField)
}

// Parse reverses Render. It requires a symbol of exactly 21 characters in
// the underlying(6)+YYMMDD(6)+right(1)+strikeCents(8) layout.
func Parse(symbol string) (Symbol, error) {
	if len(symbol) != 21 {
		return Symbol{}, fmt.Errorf("occ: symbol %q is not 21 characters", symbol)
	}
	underlying := strings.TrimRight(symbol[0:6], " ")
	dateField := symbol[6:12]
	rightByte := symbol[12]
	strikeField := symbol[13:21]

	expiration, err := time.Parse("060102", dateField)
	if err != nil {
		return Symbol{}, fmt.Errorf("occ: invalid expiration %q: %w", dateField, err)
	}

	var right Right
	switch rightByte {
	case 'C':
		right = Call
	case 'P':
		right = Put
	default:
		return Symbol{}, fmt.Errorf("occ: invalid option right %q", string(rightByte))
	}

	cents, err := strconv.ParseInt(strikeField, 10, 64)
	if err != nil {
		return Symbol{}, fmt.Errorf("occ: invalid strike field %q: %w", strikeField, err)
	}

	return Symbol{
		Underlying: underlying,
		Expiration: expiration,
		Right:      right,
		Strike:     float64(cents) / 1000,
	}, nil
}

// ParseExpiration accepts YYYY-MM-DD, MM/DD, MM/DD/YY, MM/DD/YYYY, YYMMDD.
// MM/DD assumes the current year relative to now.
func ParseExpiration(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"2006-01-02", "01/02/2006", "01/02/06", "060102"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// MM/DD with no year: assume current year.
	if parts := strings.Split(s, "/"); len(parts) == 2 {
		candidate := fmt.Sprintf("%s/%s/%d", parts[0], parts[1], now.Year())
		if t, err := time.Parse("01/02/2006", candidate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("occ: unrecognised expiration format %q", s)
}
