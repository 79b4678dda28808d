package mcpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	apperrors "github.com/pipeboard-co/meta-ads-mcp/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Account fields the Graph API reports in the currency's minor units.
var minorUnitFields = []string{"amount_spent", "balance", "spend_cap"}

// withAccountDisplay adds a _display object holding the account's money
// fields formatted in its own currency. The raw fields are left as Meta
// sent them.
func withAccountDisplay(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var account map[string]any
	if err := dec.Decode(&account); err != nil {
		return nil, fmt.Errorf("decoding account: %w", errors.Join(apperrors.ErrAPIResponse, err))
	}

	unit, err := currency.ParseISO(gjson.GetBytes(body, "currency").String())
	if err != nil {
		return account, nil
	}

	display := make(map[string]string)
	for _, field := range minorUnitFields {
		v := gjson.GetBytes(body, field)
		if !v.Exists() {
			continue
		}
		minor, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			continue
		}
		display[field] = formatMinorUnits(unit, minor)
	}
	if len(display) > 0 {
		account["_display"] = display
	}

	return account, nil
}

// formatMinorUnits renders an amount given in minor units, e.g. cents.
func formatMinorUnits(unit currency.Unit, minor int64) string {
	scale, _ := currency.Standard.Rounding(unit)
	amount := float64(minor) / math.Pow10(scale)

	p := message.NewPrinter(language.English)
	return p.Sprint(currency.Symbol(unit.Amount(amount)))
}
