package email

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// ContactResolver looks up addresses in the user's address book.
// Implementations wrap a CardDAV client without the email package
// importing it.
type ContactResolver interface {
	// LookupEmail returns the preferred address for a contact name.
	LookupEmail(ctx context.Context, name string) (addr string, found bool, err error)
	// KnownAddress reports whether any contact carries addr.
	KnownAddress(ctx context.Context, addr string) (bool, error)
}

// RecipientCheck is the outcome of resolving and vetting the "to"
// entries of an outbound message.
type RecipientCheck struct {
	// Allowed holds bare addresses that may be sent to.
	Allowed []string
	// Blocked holds one human-readable reason per rejected entry.
	Blocked []string
}

// HasIssues reports whether any entry was rejected.
func (rc RecipientCheck) HasIssues() bool {
	return len(rc.Blocked) > 0
}

// FormatIssues summarizes every rejected entry.
func (rc RecipientCheck) FormatIssues() string {
	return "Email not sent: " + strings.Join(rc.Blocked, "; ")
}

// CheckRecipients resolves each entry and applies the allow-list. An
// entry containing "@" is an address; anything else is a contact name
// looked up through cr. Addresses are allowed when listed in allowed
// or present in the address book. A nil resolver restricts sending to
// the allow-list.
func CheckRecipients(ctx context.Context, cr ContactResolver, allowed []string, entries []string) RecipientCheck {
	var result RecipientCheck

	allowSet := make([]string, 0, len(allowed))
	for _, a := range allowed {
		allowSet = append(allowSet, strings.ToLower(extractAddress(a)))
	}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "@") {
			if cr == nil {
				result.Blocked = append(result.Blocked,
					fmt.Sprintf("%q is not an email address and no address book is configured", entry))
				continue
			}
			addr, found, err := cr.LookupEmail(ctx, entry)
			switch {
			case err != nil:
				result.Blocked = append(result.Blocked,
					fmt.Sprintf("contact lookup for %q failed: %v", entry, err))
			case !found:
				result.Blocked = append(result.Blocked,
					fmt.Sprintf("no contact named %q with an email address", entry))
			default:
				result.Allowed = append(result.Allowed, strings.ToLower(addr))
			}
			continue
		}

		bare := strings.ToLower(extractAddress(entry))
		if slices.Contains(allowSet, bare) {
			result.Allowed = append(result.Allowed, bare)
			continue
		}
		if cr != nil {
			known, err := cr.KnownAddress(ctx, bare)
			if err != nil {
				result.Blocked = append(result.Blocked,
					fmt.Sprintf("contact lookup for %s failed: %v", bare, err))
				continue
			}
			if known {
				result.Allowed = append(result.Allowed, bare)
				continue
			}
		}
		result.Blocked = append(result.Blocked,
			fmt.Sprintf("%s is not an approved recipient", bare))
	}

	return result
}
