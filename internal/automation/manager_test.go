//go:build !no_automation

package automation

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir, newTestLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta: ScriptMeta{
			Name:        "Night Dimmer",
			Description: "Dim after ten",
			Enabled:     true,
		},
		LuaCode: `bulb.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "night_dimmer" {
		t.Errorf("id = %q, want night_dimmer", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Night Dimmer" {
		t.Errorf("name = %q, want Night Dimmer", got.Meta.Name)
	}
	if got.Meta.Description != "Dim after ten" {
		t.Errorf("description = %q", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if strings.TrimSpace(got.LuaCode) != `bulb.log("hello")` {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
	if got.FilePath == "" {
		t.Error("file path not set")
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		ID:      "my_script",
		Meta:    ScriptMeta{Name: "My Script", Enabled: true},
		LuaCode: `bulb.log("v1")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	saved.LuaCode = `bulb.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `bulb.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerListOrdered(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name}, LuaCode: `bulb.log("x")`}); err != nil {
			t.Fatal(err)
		}
	}
	// not a script
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "alpha,beta,gamma" {
		t.Errorf("ids = %v", ids)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "ToDelete"}, LuaCode: `bulb.log("bye")`})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("get after delete: %v, want ErrScriptNotFound", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second delete: %v, want ErrScriptNotFound", err)
	}
}

func TestManagerInvalidID(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"..", "a/b", `a\b`, "x..y"} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q): expected error", id)
		}
		if _, err := m.Save(&Script{ID: id}); err == nil {
			t.Errorf("Save(%q): expected error", id)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `bulb.log("1")`})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `bulb.log("2")`})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != "dup" || s2.ID != "dup_1" {
		t.Errorf("ids = %q, %q; want dup, dup_1", s1.ID, s2.ID)
	}

	s3, err := m.Save(&Script{Meta: ScriptMeta{Name: "!!!"}})
	if err != nil {
		t.Fatal(err)
	}
	if s3.ID != "script" {
		t.Errorf("id for unsluggable name = %q, want script", s3.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `-- {"name":"Wake Up","description":"Ramp in the morning","enabled":true}

bulb.on("button", {event=3}, function(event)
    bulb.set_level(1, 200)
end)
`
	path := filepath.Join(dir, "wake.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: newTestLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "wake" {
		t.Errorf("id = %q, want wake", s.ID)
	}
	if s.Meta.Name != "Wake Up" || !s.Meta.Enabled {
		t.Errorf("meta = %+v", s.Meta)
	}
	if !strings.HasPrefix(s.LuaCode, `bulb.on("button"`) {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestParseScriptFileWithoutHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.lua")
	if err := os.WriteFile(path, []byte("bulb.log('x')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: newTestLogger()}
	s, err := m.parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Name != "" || s.Meta.Enabled {
		t.Errorf("meta = %+v, want zero", s.Meta)
	}
	if s.LuaCode != "bulb.log('x')\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestSerializeScript(t *testing.T) {
	content := serializeScript(&Script{
		ID:      "test",
		Meta:    ScriptMeta{Name: "Test", Enabled: true},
		LuaCode: `bulb.log("hi")`,
	})

	want := "-- {\"name\":\"Test\",\"enabled\":true}\n\nbulb.log(\"hi\")\n"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Night Dimmer", "night_dimmer"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
