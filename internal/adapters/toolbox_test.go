package adapters

import (
	"context"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/stepwise"
)

func echo(_ context.Context, args stepwise.Kwargs) (any, error) {
	return args["value"], nil
}

func TestToolbox_RegisterAndLookup(t *testing.T) {
	tb := NewToolbox()
	if err := tb.RegisterFunc("echo", echo, WithDescription("returns value")); err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}
	if err := tb.RegisterFunc("Echo", echo); err != nil {
		t.Fatalf("names are case-sensitive, got %v", err)
	}

	tool, ok := tb.Lookup("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	got, err := tool.Call(context.Background(), stepwise.Kwargs{"value": 3})
	if err != nil || got != 3 {
		t.Errorf("expected 3, got %v (%v)", got, err)
	}

	if _, ok := tb.Lookup("missing"); ok {
		t.Error("expected missing tool lookup to fail")
	}
}

func TestToolbox_RegisterErrors(t *testing.T) {
	tb := NewToolbox()
	_ = tb.RegisterFunc("echo", echo)

	tests := []struct {
		name string
		tool DescribedTool
	}{
		{"duplicate", NewGoToolAdapter("echo", echo)},
		{"empty name", NewGoToolAdapter(" ", echo)},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tb.Register(tt.tool)
			if !stepwise.HasCode(err, stepwise.ErrCodeValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestToolbox_DescriptorsKeepRegistrationOrder(t *testing.T) {
	tb := NewToolbox()
	for _, name := range []string{"sum", "divide", "calculate"} {
		if err := tb.RegisterFunc(name, echo); err != nil {
			t.Fatal(err)
		}
	}

	names := stepwise.ToolNames(tb.Descriptors())
	want := []string{"sum", "divide", "calculate"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
	if sorted := tb.Names(); sorted[0] != "calculate" || tb.Len() != 3 {
		t.Errorf("unexpected sorted names %v", sorted)
	}
}

func TestToolbox_MustRegisterPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewToolbox().MustRegister(NewGoToolAdapter("a", echo), NewGoToolAdapter("a", echo))
}

func TestToolbox_ConcurrentLookup(t *testing.T) {
	tb := NewToolbox().MustRegister(NewGoToolAdapter("echo", echo))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tb.Lookup("echo"); !ok {
				t.Error("lookup failed")
			}
			_ = tb.Descriptors()
		}()
	}
	wg.Wait()
}
