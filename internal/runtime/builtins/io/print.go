package io

import (
	"fmt"

	"nx/internal/runtime/builtins"
	"nx/internal/value"
)

func init() {
	builtins.Register(builtins.Builtin{
		Meta: builtins.Meta{
			ID:    builtins.Print,
			Name:  "print",
			Arity: 1,
		},
		Call: func(env builtins.Env, args []value.Value) (value.Value, error) {
			if len(args) != 1 {
				return value.Void(), fmt.Errorf("print expects 1 argument, got %d", len(args))
			}
			if env == nil || env.IO() == nil {
				return value.Void(), fmt.Errorf("runtime env IO is nil")
			}
			env.IO().Println(args[0].String())
			return value.Void(), nil
		},
	})
}
