// Package phone normalizes carrier-supplied numbers so tenant lookups can match exactly.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number arrives without a country prefix.
const DefaultRegion = "US"

// Normalize formats input as E.164 using region for national numbers.
// Numbers that cannot be parsed (for example "anonymous") are returned trimmed.
func Normalize(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return trimmed
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return trimmed
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// NormalizeDefault is Normalize with DefaultRegion.
func NormalizeDefault(input string) string { return Normalize(input, DefaultRegion) }
