package compiler

import (
	"fmt"
	"strings"

	"github.com/openfroyo/crateplan/pkg/core"
)

// UnitCycleError is returned when unit expansion finds a unit that depends on
// itself. Cycle[i] depends on Cycle[i+1] and the last unit depends on
// Cycle[0].
type UnitCycleError struct {
	Cycle []*Unit
}

func (e *UnitCycleError) Code() core.ErrorCode { return core.ErrCodeUnitCycle }

func (e *UnitCycleError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, u := range e.Cycle {
		parts = append(parts, u.String())
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, e.Cycle[0].String())
	}
	return "dependency cycle detected between units:\n    " + strings.Join(parts, "\n    -> ")
}

// NoLinkableTargetError is returned when a unit needs to link a dependency
// that has no library target.
type NoLinkableTargetError struct {
	Package   core.PackageId
	Dependent core.PackageId
}

func (e *NoLinkableTargetError) Code() core.ErrorCode { return core.ErrCodeNoLinkableTarget }

func (e *NoLinkableTargetError) Error() string {
	return fmt.Sprintf("package `%s` has no library target, but `%s` depends on it", e.Package, e.Dependent)
}

func noLinkableWarning(dep, dependent core.PackageId, reason string) core.Warning {
	return core.Warning{
		Code:    core.ErrCodeNoLinkableTarget,
		Package: dep.String(),
		Message: fmt.Sprintf("The package `%s` provides no linkable target. The compiler might raise an error while compiling `%s`. %s",
			dep.Name, dependent.Name, reason),
	}
}
