package dav

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav/carddav"
)

// Contacts resolves email addresses from a CardDAV address book. It
// satisfies email.ContactResolver.
type Contacts struct {
	client *carddav.Client
	book   discovery
}

// NewContacts creates a CardDAV resolver. No request is made until
// the first lookup.
func NewContacts(opts Options) (*Contacts, error) {
	client, err := carddav.NewClient(newHTTPClient(opts), opts.URL)
	if err != nil {
		return nil, fmt.Errorf("carddav client: %w", err)
	}
	c := &Contacts{client: client}
	c.book.path = opts.AddressBookPath
	c.book.find = c.discover
	return c, nil
}

func (c *Contacts) discover(ctx context.Context) (string, error) {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindAddressBookHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find address book home: %w", err)
	}
	books, err := c.client.FindAddressBooks(ctx, home)
	if err != nil {
		return "", fmt.Errorf("list address books: %w", err)
	}
	if len(books) == 0 {
		return "", errNoCollection("address book", home)
	}
	return books[0].Path, nil
}

func (c *Contacts) query(ctx context.Context, field, text string) ([]vcard.Card, error) {
	path, err := c.book.get(ctx)
	if err != nil {
		return nil, err
	}
	objs, err := c.client.QueryAddressBook(ctx, path, &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{
			Props: []string{vcard.FieldFormattedName, vcard.FieldName, vcard.FieldNickname, vcard.FieldEmail},
		},
		PropFilters: []carddav.PropFilter{{
			Name:        field,
			TextMatches: []carddav.TextMatch{{Text: text, MatchType: carddav.MatchContains}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("query address book: %w", err)
	}
	cards := make([]vcard.Card, 0, len(objs))
	for _, o := range objs {
		cards = append(cards, o.Card)
	}
	return cards, nil
}

// LookupEmail returns the preferred address of the contact best
// matching name.
func (c *Contacts) LookupEmail(ctx context.Context, name string) (string, bool, error) {
	cards, err := c.query(ctx, vcard.FieldFormattedName, name)
	if err != nil {
		return "", false, err
	}
	addr := bestEmail(cards, name)
	return addr, addr != "", nil
}

// KnownAddress reports whether any contact carries addr.
func (c *Contacts) KnownAddress(ctx context.Context, addr string) (bool, error) {
	cards, err := c.query(ctx, vcard.FieldEmail, addr)
	if err != nil {
		return false, err
	}
	return hasEmail(cards, addr), nil
}

// bestEmail prefers an exact (case-insensitive) name match over a
// substring match, and skips cards without an address.
func bestEmail(cards []vcard.Card, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var fallback string
	for _, card := range cards {
		addr := card.PreferredValue(vcard.FieldEmail)
		if addr == "" {
			continue
		}
		fn := strings.ToLower(card.PreferredValue(vcard.FieldFormattedName))
		nick := strings.ToLower(card.PreferredValue(vcard.FieldNickname))
		if fn == name || nick == name {
			return addr
		}
		if fallback == "" && strings.Contains(fn, name) {
			fallback = addr
		}
	}
	return fallback
}

func hasEmail(cards []vcard.Card, addr string) bool {
	for _, card := range cards {
		for _, v := range card.Values(vcard.FieldEmail) {
			if strings.EqualFold(strings.TrimSpace(v), addr) {
				return true
			}
		}
	}
	return false
}
