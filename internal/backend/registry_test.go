package backend_test

import (
	"context"
	"testing"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/model"
)

// stubBackend is a minimal Backend for registry tests.
type stubBackend struct {
	name model.Backend
}

func (s *stubBackend) Submit(context.Context, backend.GenerationRequest) (string, error) {
	return "task", nil
}

func (s *stubBackend) Poll(context.Context, string) (backend.TaskStatus, error) {
	return backend.TaskStatus{State: backend.StateSuccess}, nil
}

func (s *stubBackend) Result(backend.TaskStatus) (backend.Result, error) {
	return backend.Result{VideoURL: "https://example.com/v.mp4"}, nil
}

func (s *stubBackend) EstimateCost(int) float64 { return 0 }

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: s.name}
}

// Compile-time check that stubBackend satisfies the Backend interface.
var _ backend.Backend = (*stubBackend)(nil)

func TestRegistryResolve(t *testing.T) {
	reg := backend.NewRegistry()
	sora := &stubBackend{name: model.BackendSora2}
	reg.Register(model.BackendSora2, sora)

	got, err := reg.Resolve(model.BackendSora2)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != sora {
		t.Error("Resolve returned a different backend")
	}
}

func TestRegistryResolveUnregistered(t *testing.T) {
	reg := backend.NewRegistry()

	if _, err := reg.Resolve(model.BackendRunway); err == nil {
		t.Error("expected error for unregistered backend")
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	reg := backend.NewRegistry()
	first := &stubBackend{name: model.BackendRunway}
	second := &stubBackend{name: model.BackendRunway}
	reg.Register(model.BackendRunway, first)
	reg.Register(model.BackendRunway, second)

	got, _ := reg.Resolve(model.BackendRunway)
	if got != second {
		t.Error("Register did not replace the earlier backend")
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(model.BackendSora2, &stubBackend{name: model.BackendSora2})
	reg.Register(model.BackendRunway, &stubBackend{name: model.BackendRunway})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d backends, want 2", len(list))
	}
	if list[0].Name != model.BackendRunway || list[1].Name != model.BackendSora2 {
		t.Errorf("List() order = %s, %s", list[0].Name, list[1].Name)
	}
}
