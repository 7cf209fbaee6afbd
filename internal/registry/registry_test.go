package registry

import (
	"testing"

	"modelarena/internal/config"
)

func TestNewPreservesConfigurationOrder(t *testing.T) {
	reg, err := New([]config.ModelEntry{
		{ID: "nova", Provider: "p", Model: "m"},
		{ID: "orion", Provider: "p", Model: "m"},
		{ID: "lyra", Provider: "p", Model: "m"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ids := reg.IDs()
	want := []string{"nova", "orion", "lyra"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if !reg.Has("orion") || reg.Has("ghost") {
		t.Fatal("membership lookup wrong")
	}
	if e, ok := reg.Get("lyra"); !ok || e.ID != "lyra" {
		t.Fatalf("get = %+v %v", e, ok)
	}
}

func TestNewRejectsDuplicateIDs(t *testing.T) {
	_, err := New([]config.ModelEntry{
		{ID: "nova", Provider: "p", Model: "m"},
		{ID: "nova", Provider: "p", Model: "m2"},
	})
	if err == nil {
		t.Fatal("duplicate id accepted")
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("empty registry accepted")
	}
}
