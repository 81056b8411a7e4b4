package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMissingID = errors.New("response carries no invoice id")

type field string

const (
	fieldID      field = "id"
	fieldAddress field = "address"
	fieldMemo    field = "memo"
	fieldCoins   field = "coins"
)

// createdAliases lists, per logical field, every name the gateway or the
// proxy may use for it, in order of preference. This table is the only
// place field names are sniffed.
var createdAliases = map[field][]string{
	fieldID:      {"payment_id", "id"},
	fieldAddress: {"address", "pay_address", "invoice_url"},
	fieldMemo:    {"memo", "pay_memo"},
	fieldCoins:   {"coins"},
}

// NormalizeCreated maps a create-operation body onto Created. Ids may be
// JSON strings or numbers; null and empty values fall through to the next
// alias.
func NormalizeCreated(body map[string]json.RawMessage) (Created, error) {
	var out Created

	id, ok, err := firstText(body, createdAliases[fieldID])
	if err != nil {
		return Created{}, fmt.Errorf("field %s: %w", fieldID, err)
	}
	if !ok {
		return Created{}, ErrMissingID
	}
	out.ID = id

	out.Address, _, err = firstText(body, createdAliases[fieldAddress])
	if err != nil {
		return Created{}, fmt.Errorf("field %s: %w", fieldAddress, err)
	}

	out.Memo, _, err = firstText(body, createdAliases[fieldMemo])
	if err != nil {
		return Created{}, fmt.Errorf("field %s: %w", fieldMemo, err)
	}

	for _, name := range createdAliases[fieldCoins] {
		raw, ok := body[name]
		if !ok || isNull(raw) {
			continue
		}

		var n int64
		err = json.Unmarshal(raw, &n)
		if err != nil {
			return Created{}, fmt.Errorf("field %s: %w", fieldCoins, err)
		}
		out.Coins = &n

		break
	}

	return out, nil
}

func firstText(body map[string]json.RawMessage, names []string) (string, bool, error) {
	for _, name := range names {
		raw, ok := body[name]
		if !ok || isNull(raw) {
			continue
		}

		s, err := textValue(raw)
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", name, err)
		}
		if s == "" {
			continue
		}

		return s, true, nil
	}

	return "", false, nil
}

func textValue(raw json.RawMessage) (string, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s), nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	err := dec.Decode(&n)
	if err != nil {
		return "", fmt.Errorf("want string or number, got %s", raw)
	}

	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// paymentStatuses maps NOWPayments payment_status words onto a State.
// NOWPayments' own "confirmed" precedes "sending" and "finished", so only
// "finished" settles. Words not listed are pending.
var paymentStatuses = map[string]State{
	"finished": StateConfirmed,
	"failed":   StateFailed,
	"expired":  StateFailed,
}

// MapPaymentStatus maps a raw NOWPayments payment_status.
func MapPaymentStatus(raw string) State {
	s, ok := paymentStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return StatePending
	}

	return s
}

// ParseState reads a State as the payment proxy reports it. Anything
// other than a terminal state is pending.
func ParseState(raw string) State {
	switch s := State(strings.ToLower(strings.TrimSpace(raw))); s {
	case StateConfirmed, StateFailed:
		return s
	default:
		return StatePending
	}
}
