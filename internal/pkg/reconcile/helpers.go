package reconcile

import (
	"errors"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
)

func isNotFound(err error) bool {
	return errors.Is(err, entitlements.ErrNotFound)
}
