// Package signalparser canonicalises external chat payloads — a structured
// "embed" record or free text — into domain.Signal. Grounded on the
// raw-map pre-decode-then-typed-redecode pattern used for polymorphic
// broker stream messages elsewhere in the stack.
package signalparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var actionTable = map[string]string{
	"BUY": "BuyToOpen",
	"BTO": "BuyToOpen",
	"SELL": "SellToOpen",
	"STO": "SellToOpen",
	"BTC": "BuyToClose",
	"STC": "SellToClose",
}

// NormaliseAction is a total function: BUY/BTO -> BuyToOpen, SELL/STO ->
// SellToOpen, BTC -> BuyToClose, STC -> SellToClose; anything unrecognised
// passes through unchanged.
func NormaliseAction(raw string) string {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if v, ok := actionTable[key]; ok {
		return v
	}
	return raw
}

var symbolRun = regexp.MustCompile(`[A-Z]{1,5}`)

// ExtractSymbolFallback returns the first contiguous run of 1-5 uppercase
// letters in s, or "" if none is present.
func ExtractSymbolFallback(s string) string {
	return symbolRun.FindString(s)
}

// Field is one titled embed field.
type Field struct {
	Name  string
	Value string
}

// Embed is a structured signal record with titled fields and an optional
// footer, as delivered by the chat transport.
type Embed struct {
	Title       string
	Description string
	Fields      []Field
	Footer      string
}

// idFooter matches a footer of the form "ID: <x>".
var idFooter = regexp.MustCompile(`(?i)ID:\s*(\S+)`)

// IsSignalEmbed recognises an embed carrying a signal when its title or
// description mentions SIGNAL, case-insensitively.
func IsSignalEmbed(e Embed) bool {
	upperTitle := strings.ToUpper(e.Title)
	upperDesc := strings.ToUpper(e.Description)
	return strings.Contains(upperTitle, "SIGNAL") || strings.Contains(upperDesc, "SIGNAL")
}

// Signal is the canonical parsed signal. ParseEmbed fills Strike,
// Expiration and OptionType from the embed's own fields when present; the
// instrument type is not resolved here, callers infer it from Strike.
type Signal struct {
	ID        string
	Symbol    string
	Action    string
	Quantity  int
	OrderType string
	Source    string

	Strike     *float64
	Expiration string
	OptionType string
}

var errNotSignal = fmt.Errorf("signalparser: input does not contain a recognisable signal")

// ParseEmbed canonicalises a structured embed. Returns errNotSignal if the
// embed is not recognised as a signal.
func ParseEmbed(e Embed, monotonic func() string) (Signal, error) {
	if !IsSignalEmbed(e) {
		return Signal{}, errNotSignal
	}

	sig := Signal{
		OrderType: "Market",
		Source:    "embed",
	}

	for _, f := range e.Fields {
		switch strings.ToUpper(strings.TrimSpace(f.Name)) {
		case "SYMBOL", "TICKER":
			sig.Symbol = strings.ToUpper(strings.TrimSpace(f.Value))
		case "ACTION", "SIDE":
			sig.Action = NormaliseAction(f.Value)
		case "QUANTITY", "QTY", "SIZE":
			if n, err := strconv.Atoi(strings.TrimSpace(f.Value)); err == nil {
				sig.Quantity = n
			}
		case "ORDER TYPE", "ORDERTYPE":
			sig.OrderType = strings.TrimSpace(f.Value)
		case "PRICE":
			// ignored: Signal here has no Price field.
		case "STRIKE":
			if v, err := strconv.ParseFloat(strings.TrimSpace(f.Value), 64); err == nil {
				sig.Strike = &v
			}
		case "EXPIRATION", "EXPIRY":
			sig.Expiration = strings.TrimSpace(f.Value)
		case "OPTION TYPE", "OPTIONTYPE", "RIGHT":
			sig.OptionType = NormaliseOptionType(f.Value)
		}
	}

	if sig.Symbol == "" {
		sig.Symbol = ExtractSymbolFallback(e.Description)
	}

	if m := idFooter.FindStringSubmatch(e.Footer); len(m) == 2 {
		sig.ID = m[1]
	} else if monotonic != nil {
		sig.ID = monotonic()
	}

	return sig, nil
}

// NormaliseOptionType maps call/put aliases to Call/Put.
func NormaliseOptionType(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "C", "CALL":
		return "Call"
	case "P", "PUT":
		return "Put"
	default:
		return raw
	}
}

// textSignal matches "(signal|trade)[:\s]*(buy|sell|bto|sto|btc|stc)\s+(\d+)\s+([A-Z]+)"
// case-insensitively.
var textSignal = regexp.MustCompile(`(?i)(signal|trade)[:\s]*(buy|sell|bto|sto|btc|stc)\s+(\d+)\s+([A-Z]+)`)

// ParseText canonicalises a free-text chat message. Returns errNotSignal if
// the message does not match the recognised pattern.
func ParseText(msg string, monotonic func() string) (Signal, error) {
	m := textSignal.FindStringSubmatch(msg)
	if m == nil {
		return Signal{}, errNotSignal
	}

	qty, _ := strconv.Atoi(m[3])
	sig := Signal{
		Symbol:    strings.ToUpper(m[4]),
		Action:    NormaliseAction(m[2]),
		Quantity:  qty,
		OrderType: "Market",
		Source:    "text",
	}
	if id := monotonic; id != nil {
		sig.ID = id()
	}
	return sig, nil
}

// MonotonicID returns a generator producing "signal_<n>" ids counting from
// the provided start, for callers that don't otherwise assign an ID.
func MonotonicID(start int64) func() string {
	n := start
	return func() string {
		n++
		return fmt.Sprintf("signal_%d", n)
	}
}
