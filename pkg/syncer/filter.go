package syncer

import (
	"github.com/google/cel-go/cel"

	"github.com/skeinhq/skein/pkg/apierror"
	"github.com/skeinhq/skein/pkg/entity"
)

// EntityFilter evaluates the job's optional CEL expression against each
// incoming entity before resolution. Entities evaluating to false are
// skipped and counted.
type EntityFilter struct {
	program cel.Program
}

// CompileEntityFilter compiles the expression. The expression sees
// entity_id, entity_definition_id, shape, and deleted.
func CompileEntityFilter(expr string) (*EntityFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("entity_id", cel.StringType),
		cel.Variable("entity_definition_id", cel.StringType),
		cel.Variable("shape", cel.StringType),
		cel.Variable("deleted", cel.BoolType),
	)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "failed to build filter environment", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "invalid entity filter", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, apierror.New(apierror.KindBadRequest, "entity filter must evaluate to a boolean")
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "failed to plan entity filter", err)
	}
	return &EntityFilter{program: program}, nil
}

// Admit reports whether the entity passes the filter.
func (f *EntityFilter) Admit(ent *entity.Entity) (bool, error) {
	out, _, err := f.program.Eval(map[string]any{
		"entity_id":            ent.EntityID,
		"entity_definition_id": ent.DefinitionID,
		"shape":                string(ent.Metadata.Shape),
		"deleted":              ent.IsDeletion(),
	})
	if err != nil {
		return false, apierror.Wrap(apierror.KindSyncFailure, "entity filter evaluation failed", err)
	}
	pass, ok := out.Value().(bool)
	if !ok {
		return false, apierror.New(apierror.KindSyncFailure, "entity filter produced a non-boolean")
	}
	return pass, nil
}
