package ai

import (
	"errors"
	"io"
)

// composite pairs an embedder and a generator that may come from different vendors.
type composite struct {
	embedder  Embedder
	generator Generator
	closers   []io.Closer
}

// NewProvider combines an embedder and a generator into a Provider. Closers
// are released by Close in the given order.
func NewProvider(embedder Embedder, generator Generator, closers ...io.Closer) Provider {
	return &composite{
		embedder:  embedder,
		generator: generator,
		closers:   closers,
	}
}

func (c *composite) Embedder() Embedder {
	return c.embedder
}

func (c *composite) Generator() Generator {
	return c.generator
}

func (c *composite) Close() error {
	var errs []error
	for _, closer := range c.closers {
		if closer == nil {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
