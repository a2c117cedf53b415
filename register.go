package chronos

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seantiz/chronos/internal/stepctx"
)

// RegisterTask registers a typed handler under name: params are decoded into
// P before the call and the handler's R result is marshaled back to JSON for
// storage as the run's result/checkpoint payload.
//
// RegisterTask is a free function, not a Facade method, because Go methods
// cannot carry their own type parameters.
func RegisterTask[P, R any](f *Facade, name string, handler func(ctx context.Context, params P, sc *stepctx.Context) (R, error), opts TaskOptions) {
	f.RegisterTask(name, func(ctx context.Context, raw json.RawMessage, sc *stepctx.Context) (any, error) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("chronos: decode params for task %q: %w", name, err)
			}
		}
		return handler(ctx, p, sc)
	}, opts)
}
