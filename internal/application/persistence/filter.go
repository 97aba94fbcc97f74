package persistence

import (
	"fmt"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	domain "github.com/bryanwahyu/annoscope/internal/domain/annotations"
)

// Predicate selects annotations for export.
type Predicate func(a *domain.Annotation) bool

// filterEnv is the variable set visible to filter expressions.
type filterEnv struct {
	Tool    string `expr:"tool"`
	Image   string `expr:"image"`
	Surface string `expr:"surface"`
	Group   string `expr:"group"`
	UID     string `expr:"uid"`
}

func envFor(a *domain.Annotation) filterEnv {
	return filterEnv{
		Tool:    a.Kind(),
		Image:   a.ImageID(),
		Surface: string(a.Owner.Surface),
		Group:   a.Owner.Group,
		UID:     a.UID,
	}
}

// CompileFilter compiles a boolean expr-lang expression over tool, image,
// surface, group and uid, e.g. `group == "compare" && image contains "vp=left"`.
// An empty expression selects everything.
func CompileFilter(expression string) (Predicate, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	program, err := exprlang.Compile(expression, exprlang.Env(filterEnv{}), exprlang.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return programPredicate(program), nil
}

func programPredicate(program *exprvm.Program) Predicate {
	return func(a *domain.Annotation) bool {
		out, err := exprlang.Run(program, envFor(a))
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}
}

// SurfacePredicate selects annotations pinned to, or grouped with, one
// surface.
func SurfacePredicate(h domain.SurfaceHandle, group string) Predicate {
	return func(a *domain.Annotation) bool {
		if a.Owner.Surface != "" {
			return a.Owner.Surface == h
		}
		return group != "" && a.Owner.Group == group
	}
}
