// Package dav reads the user's calendar over CalDAV and resolves
// contact addresses over CardDAV. Both share one server and set of
// credentials.
package dav

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-webdav"

	"github.com/nugget/hearth/internal/httpkit"
)

// Options locate the DAV server. CalendarPath and AddressBookPath skip
// discovery when set.
type Options struct {
	URL             string
	Username        string
	Password        string
	CalendarPath    string
	AddressBookPath string
}

func newHTTPClient(opts Options) webdav.HTTPClient {
	var c webdav.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
	if opts.Username != "" {
		c = webdav.HTTPClientWithBasicAuth(c, opts.Username, opts.Password)
	}
	return c
}

// discovery resolves a collection path once and caches it. Failures
// are not cached so a server that was down can recover.
type discovery struct {
	mu   sync.Mutex
	path string
	find func(ctx context.Context) (string, error)
}

func (d *discovery) get(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path != "" {
		return d.path, nil
	}
	p, err := d.find(ctx)
	if err != nil {
		return "", err
	}
	d.path = p
	return p, nil
}

// errNoCollection is returned when discovery finds a home set with no
// usable collection in it.
func errNoCollection(kind, home string) error {
	return fmt.Errorf("no %s found under %s", kind, home)
}
