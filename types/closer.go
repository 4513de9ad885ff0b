package types

import (
	"context"
	"errors"
	"fmt"
)

// Closer is a component that is shut down once; Close on a closed
// component is a no-op.
type Closer interface {
	Close(context.Context) error
	IsClosed() bool
}

// CloseAll closes every component not closed yet and joins the errors.
func CloseAll[T Closer](ctx context.Context, closers ...T) error {
	var errs []error
	for _, c := range closers {
		if c.IsClosed() {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close %v: %w", c, err))
		}
	}
	return errors.Join(errs...)
}
