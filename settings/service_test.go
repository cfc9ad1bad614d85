package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/queuectl"
	"github.com/xraph/queuectl/settings"
	"github.com/xraph/queuectl/store/memory"
)

func TestService_GetDefaults(t *testing.T) {
	svc := settings.NewService(memory.New(), nil)
	ctx := context.Background()

	v, ok, err := svc.Get(ctx, settings.KeyMaxRetries)
	if err != nil || !ok || v != "3" {
		t.Errorf("Get(max_retries) = %q, %v, %v; want 3, true, nil", v, ok, err)
	}
	v, ok, err = svc.Get(ctx, settings.KeyBackoffBase)
	if err != nil || !ok || v != "2" {
		t.Errorf("Get(backoff_base) = %q, %v, %v; want 2, true, nil", v, ok, err)
	}
	if _, ok, err := svc.Get(ctx, "nope"); err != nil || ok {
		t.Errorf("Get(nope) ok = %v, err = %v; want false, nil", ok, err)
	}
}

func TestService_SetOverridesDefault(t *testing.T) {
	svc := settings.NewService(memory.New(), nil)
	ctx := context.Background()

	if err := svc.Set(ctx, settings.KeyBackoffBase, "3"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	base, err := svc.BackoffBase(ctx)
	if err != nil {
		t.Fatalf("BackoffBase: %v", err)
	}
	if base != 3 {
		t.Errorf("BackoffBase = %v, want 3", base)
	}

	if err := svc.Set(ctx, settings.KeyMaxRetries, "5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	n, err := svc.MaxRetries(ctx)
	if err != nil || n != 5 {
		t.Errorf("MaxRetries = %d, %v; want 5, nil", n, err)
	}
}

func TestService_SetValidatesRecognizedKeys(t *testing.T) {
	svc := settings.NewService(memory.New(), nil)
	ctx := context.Background()

	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{settings.KeyMaxRetries, "0", false},
		{settings.KeyMaxRetries, "-1", true},
		{settings.KeyMaxRetries, "three", true},
		{settings.KeyBackoffBase, "1.5", false},
		{settings.KeyBackoffBase, "0", true},
		{settings.KeyBackoffBase, "abc", true},
		{"anything", "goes here", false},
		{"", "x", true},
	}
	for _, tt := range tests {
		err := svc.Set(ctx, tt.key, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("Set(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, queuectl.ErrInvalidSetting) {
			t.Errorf("Set(%q, %q) error = %v, want ErrInvalidSetting", tt.key, tt.value, err)
		}
	}
}

func TestService_UnknownKeyVerbatim(t *testing.T) {
	svc := settings.NewService(memory.New(), nil)
	ctx := context.Background()

	if err := svc.Set(ctx, "greeting", "hello world"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := svc.Get(ctx, "greeting")
	if err != nil || !ok || v != "hello world" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestService_All(t *testing.T) {
	svc := settings.NewService(memory.New(), nil)
	ctx := context.Background()

	if err := svc.Set(ctx, settings.KeyMaxRetries, "7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Set(ctx, "extra", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	all, err := svc.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	want := map[string]string{"max_retries": "7", "backoff_base": "2", "extra": "x"}
	if len(all) != len(want) {
		t.Fatalf("All = %v, want %v", all, want)
	}
	for k, v := range want {
		if all[k] != v {
			t.Errorf("All[%q] = %q, want %q", k, all[k], v)
		}
	}
}

func TestService_InvalidStoredValueFallsBack(t *testing.T) {
	s := memory.New()
	svc := settings.NewService(s, nil)
	ctx := context.Background()

	// Written directly, bypassing validation.
	if err := s.SetSetting(ctx, settings.KeyBackoffBase, "bogus"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	base, err := svc.BackoffBase(ctx)
	if err != nil || base != settings.DefaultBackoffBase {
		t.Errorf("BackoffBase = %v, %v; want default", base, err)
	}
}

func TestService_StoreErrorPropagates(t *testing.T) {
	s := memory.New()
	svc := settings.NewService(s, nil)

	s.FailNext(errors.New("down"))
	if _, err := svc.MaxRetries(context.Background()); !errors.Is(err, queuectl.ErrStoreUnavailable) {
		t.Fatalf("MaxRetries error = %v, want ErrStoreUnavailable", err)
	}
}
