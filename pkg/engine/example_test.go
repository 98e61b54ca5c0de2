package engine_test

import (
	"context"
	"fmt"
	"strings"

	"github.com/wpkernel/wpkernel-sub000/pkg/engine"
)

type exampleContext struct{}

func (exampleContext) Reporter() engine.Reporter { return engine.NopReporter{} }

// Example_pipeline shows fragments building a draft in dependency order and a
// builder reading the finalized artifact.
func Example_pipeline() {
	p, err := engine.NewPipeline(engine.Config[exampleContext, string, *[]string, string]{
		CreateContext: func(context.Context, string) (exampleContext, error) { return exampleContext{}, nil },
		CreateDraft:   func(exampleContext, string) *[]string { return &[]string{} },
		Finalize: func(_ exampleContext, _ string, draft *[]string) string {
			return strings.Join(*draft, " ")
		},
	})
	if err != nil {
		panic(err)
	}

	// Registered out of order; DependsOn decides.
	_ = p.RegisterFragment(engine.Helper[exampleContext, string, *[]string]{
		Key:       "greeting.name",
		DependsOn: []string{"greeting.salutation"},
		Apply: func(_ context.Context, args engine.ApplyArgs[exampleContext, string, *[]string]) engine.Maybe[struct{}] {
			*args.Output = append(*args.Output, args.Input)
			return engine.Done()
		},
	})
	_ = p.RegisterFragment(engine.Helper[exampleContext, string, *[]string]{
		Key: "greeting.salutation",
		Apply: func(_ context.Context, args engine.ApplyArgs[exampleContext, string, *[]string]) engine.Maybe[struct{}] {
			*args.Output = append(*args.Output, "hello")
			return engine.Done()
		},
	})
	_ = p.RegisterBuilder(engine.Helper[exampleContext, string, string]{
		Key: "greeting.print",
		Apply: func(_ context.Context, args engine.ApplyArgs[exampleContext, string, string]) engine.Maybe[struct{}] {
			// Builders may complete later; the run waits for them.
			return engine.Async(func() error {
				fmt.Println(args.Output)
				return nil
			})
		},
	})

	result, err := p.Run(context.Background(), "wpk").Await(context.Background())
	if err != nil {
		panic(err)
	}
	for _, step := range result.Steps {
		fmt.Println(step.Kind, step.Key)
	}
	// Output:
	// hello wpk
	// fragment greeting.salutation
	// fragment greeting.name
	// builder greeting.print
}
