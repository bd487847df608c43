package runtime

import (
	"fmt"

	"nx/internal/runtime/builtins"
	// Import builtin packages to trigger their init() functions for self-registration
	_ "nx/internal/runtime/builtins/io"
	"nx/internal/value"
)

// CallBuiltin executes a builtin identified by builtins.ID with given args,
// using the host services from env.
func CallBuiltin(env *Env, id builtins.ID, args []value.Value) (value.Value, error) {
	builtin := builtins.LookupByID(id)
	if builtin == nil {
		return value.Void(), fmt.Errorf("unknown builtin id %d", id)
	}
	if len(args) != builtin.Meta.Arity {
		return value.Void(), fmt.Errorf("%s expects %d arguments, got %d", builtin.Meta.Name, builtin.Meta.Arity, len(args))
	}
	return builtin.Call(env, args)
}
