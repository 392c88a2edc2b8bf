package params_test

import (
	"errors"
	"testing"

	"github.com/e7canasta/pulse-bridge/internal/params"
)

func newTree(t *testing.T) *params.Memory {
	t.Helper()
	m := params.NewMemory()
	specs := []params.NodeSpec{
		{Path: "application.pulse.enable", Kind: params.KindToken, Initial: "false"},
		{Path: "application.pulse.threshold", Kind: params.KindInt, Initial: "100"},
	}
	for _, s := range specs {
		if err := m.Define(s); err != nil {
			t.Fatalf("Define(%s) failed: %v", s.Path, err)
		}
	}
	return m
}

func TestMemoryGetSet(t *testing.T) {
	m := newTree(t)
	if err := m.Connect("application.pulse.enable", "application.pulse.threshold"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	tok, err := m.GetToken("application.pulse.enable")
	if err != nil || tok != "false" {
		t.Fatalf("GetToken: got %q, %v", tok, err)
	}
	if err := m.SetToken("application.pulse.enable", "true"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if tok, _ := m.GetToken("application.pulse.enable"); tok != "true" {
		t.Errorf("token after set: got %q, want true", tok)
	}

	v, err := m.GetInt("application.pulse.threshold")
	if err != nil || v != 100 {
		t.Fatalf("GetInt: got %d, %v", v, err)
	}
	if err := m.SetInt("application.pulse.threshold", -5); err != nil {
		t.Fatalf("SetInt failed: %v", err)
	}
	if v, _ := m.GetInt("application.pulse.threshold"); v != -5 {
		t.Errorf("threshold after set: got %d, want -5", v)
	}

	gets, sets := m.Stats()
	if gets != 4 || sets != 2 {
		t.Errorf("Stats: got gets=%d sets=%d, want 4/2", gets, sets)
	}
}

func TestMemoryErrors(t *testing.T) {
	m := newTree(t)

	// Not connected yet
	if _, err := m.GetInt("application.pulse.threshold"); !errors.Is(err, params.ErrUnavailable) {
		t.Errorf("offline GetInt: expected ErrUnavailable, got %v", err)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	if _, err := m.GetInt("application.pulse.missing"); !errors.Is(err, params.ErrNodeNotFound) {
		t.Errorf("missing node: expected ErrNodeNotFound, got %v", err)
	}
	if _, err := m.GetInt("application.pulse.enable"); !errors.Is(err, params.ErrWrongType) {
		t.Errorf("token node as int: expected ErrWrongType, got %v", err)
	}
	if err := m.SetToken("application.pulse.threshold", "x"); !errors.Is(err, params.ErrWrongType) {
		t.Errorf("int node as token: expected ErrWrongType, got %v", err)
	}

	m.SetOnline(false)
	if err := m.SetToken("application.pulse.enable", "true"); !errors.Is(err, params.ErrUnavailable) {
		t.Errorf("offline SetToken: expected ErrUnavailable, got %v", err)
	}
	m.SetOnline(true)
	if _, err := m.GetToken("application.pulse.enable"); err != nil {
		t.Errorf("GetToken after reconnect failed: %v", err)
	}
}

func TestMemoryConnectRequiresNodes(t *testing.T) {
	m := newTree(t)
	err := m.Connect("application.pulse.enable", "application.pulse.gain")
	if !errors.Is(err, params.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
	if m.Online() {
		t.Error("tree online after failed Connect()")
	}
}

func TestMemoryDefineValidation(t *testing.T) {
	m := params.NewMemory()

	tests := []struct {
		name string
		spec params.NodeSpec
	}{
		{"empty path", params.NodeSpec{Kind: params.KindInt}},
		{"bad int", params.NodeSpec{Path: "a", Kind: params.KindInt, Initial: "ten"}},
		{"int overflow", params.NodeSpec{Path: "b", Kind: params.KindInt, Initial: "3000000000"}},
		{"unknown kind", params.NodeSpec{Path: "c", Kind: params.Kind(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Define(tt.spec); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := m.Define(params.NodeSpec{Path: "d", Kind: params.KindToken}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := m.Define(params.NodeSpec{Path: "d", Kind: params.KindToken}); err == nil {
		t.Error("expected duplicate path error")
	}
	if got := m.Paths(); len(got) != 1 || got[0] != "d" {
		t.Errorf("Paths(): got %v", got)
	}
}
