package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/crateplan/pkg/core"
)

// registryFile is a workspace-format file read for its registry entries
// only.
type registryFile struct {
	Registry []PackageSpec `validate:"required,min=1,dive"`
}

// ReadRegistry reads the registry entries of a workspace-format file, the
// input of `crateplan index import`. Members are ignored and may be absent.
func ReadRegistry(ctx context.Context, path string) ([]core.Summary, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	ws, err := decode(ctx, format, path, data)
	if err != nil {
		return nil, err
	}
	return registrySummaries(ws.Registry)
}

func registrySummaries(entries []PackageSpec) ([]core.Summary, error) {
	if err := defaultValidator.Struct(registryFile{Registry: entries}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, core.NewError(core.ErrCodeValidation, "invalid registry: "+describe(verrs), err)
		}
		return nil, core.NewError(core.ErrCodeValidation, "invalid registry", err)
	}

	out := make([]core.Summary, 0, len(entries))
	seen := make(map[core.PackageId]bool, len(entries))
	for _, r := range entries {
		if err := validatePackage(r); err != nil {
			return nil, err
		}
		pkg, err := registryPackage(r)
		if err != nil {
			return nil, err
		}
		if seen[pkg.ID()] {
			return nil, core.NewValidationError("package `%s` is declared twice", pkg.ID())
		}
		seen[pkg.ID()] = true
		out = append(out, pkg.Summary)
	}
	return out, nil
}
