// Package publicid generates the opaque identifiers exposed in URLs and to
// payment providers ("ord_01j...", "pay_01j...").
package publicid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	PrefixOrder        = "ord"
	PrefixPayment      = "pay"
	PrefixRegistration = "reg"
)

func New(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}

// HasPrefix reports whether value looks like an id minted by New(prefix).
func HasPrefix(value, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), prefix+"_")
}
