package mailbox

import (
	"context"
	"errors"
	"io"
	"sync"
)

// StoreFactory opens the store of a user.
type StoreFactory func(ctx context.Context, username string) (Store, error)

// Directory hands out the registry of each user. Sessions of the same user
// share a registry, so they see each other's changes.
type Directory struct {
	factory StoreFactory
	options *Options

	mutex      sync.Mutex
	registries map[string]*Registry
}

// NewDirectory creates a directory. Registries are created lazily with the
// provided options.
func NewDirectory(factory StoreFactory, options *Options) *Directory {
	return &Directory{
		factory:    factory,
		options:    options,
		registries: make(map[string]*Registry),
	}
}

// Registry returns the registry of a user, opening its store if necessary.
func (d *Directory) Registry(ctx context.Context, username string) (*Registry, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if r, ok := d.registries[username]; ok {
		return r, nil
	}

	store, err := d.factory(ctx, username)
	if err != nil {
		return nil, err
	}
	r := NewRegistry(store, d.options)
	d.registries[username] = r
	return r, nil
}

// Close closes the stores which implement io.Closer.
func (d *Directory) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var errs []error
	for username, r := range d.registries {
		if closer, ok := r.store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(d.registries, username)
	}
	return errors.Join(errs...)
}
