package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// Phone number normalization
var phoneRegex = regexp.MustCompile(`^([71]\d)(\d{7})$`)

// PhoneDetails contains normalized phone information
type PhoneDetails struct {
	NormalizedNumber string
	Network          string // "SAFARICOM", "AIRTEL", "TELKOM" or "UNKNOWN"
}

// NormalizePhoneNumber validates and normalizes Kenyan mobile numbers.
// Returns phone in 254XXXXXXXXX format and detects the network.
func NormalizePhoneNumber(phone string) (*PhoneDetails, error) {
	phone = strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	phone = strings.TrimPrefix(phone, "+")

	var localPart string
	switch {
	case strings.HasPrefix(phone, "254"):
		localPart = phone[3:]
	case strings.HasPrefix(phone, "0"):
		localPart = phone[1:]
	default:
		localPart = phone
	}

	match := phoneRegex.FindStringSubmatch(localPart)
	if match == nil {
		return nil, fmt.Errorf("invalid phone number format: %s", phone)
	}

	var network string
	switch match[1] {
	case "70", "71", "72", "74", "79", "11":
		network = "SAFARICOM"
	case "73", "78", "10":
		network = "AIRTEL"
	case "77":
		network = "TELKOM"
	default:
		network = "UNKNOWN"
	}

	return &PhoneDetails{
		NormalizedNumber: "254" + localPart,
		Network:          network,
	}, nil
}

// Request id prefixes. Ids are derived from the challenge and the user so a
// retried settlement reuses the same id and the unique index rejects it.
const (
	PrefixRefund  = "REF"
	PrefixPayout  = "PAY"
	PrefixBalance = "BAL"
	PrefixDeposit = "DEP"
)

// RequestID builds the gateway originatorRequestId for one transfer.
func RequestID(prefix string, challengeID, userID int64) string {
	return fmt.Sprintf("%s_%d_%d", prefix, challengeID, userID)
}
