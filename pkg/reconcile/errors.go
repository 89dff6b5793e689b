// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package reconcile

import (
	"errors"
	"fmt"

	"github.com/execguard/agent/pkg/rule"
)

// ErrSurfaceDisabled is reported when a rule targets a module that is not
// running.
var ErrSurfaceDisabled = errors.New("enforcement surface disabled")

func errSurfaceDisabled(k rule.ModuleKind) error {
	return fmt.Errorf("%w: %s", ErrSurfaceDisabled, k)
}
