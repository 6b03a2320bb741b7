package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestNewManagerFromMap_Get(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{"system": "You are a gateway assistant"})

	prompt, err := mgr.Get("system")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if prompt != "You are a gateway assistant" {
		t.Errorf("Expected 'You are a gateway assistant', got '%s'", prompt)
	}

	if _, err := mgr.Get("nonexistent"); err == nil {
		t.Fatal("Expected error for non-existent prompt, got nil")
	}
}

func TestManager_Render_WithVars(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{
		"system": "Provider: {{.Provider}}, session {{.SessionID}}, root {{.Workspace}}",
	})

	result, err := mgr.Render("system", Vars{Provider: "anthropic", SessionID: "s1", Workspace: "/srv/repo"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	expected := "Provider: anthropic, session s1, root /srv/repo"
	if result != expected {
		t.Errorf("Expected '%s', got '%s'", expected, result)
	}
}

func TestManager_Render_MissingVariable(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{"template": "Path: {{.RepoPath}}"})

	if _, err := mgr.Render("template", map[string]interface{}{}); err == nil {
		t.Fatal("Expected error for missing variable, got nil")
	}
	if _, err := mgr.Render("template", Vars{}); err == nil {
		t.Fatal("Expected error for unknown field, got nil")
	}
}

func TestManager_SystemPrompt_ProviderOverride(t *testing.T) {
	mgr := NewManagerFromMap(map[string]string{
		"system":           "Be concise.",
		"system_anthropic": "Be concise, {{.Provider}}.",
	})

	got, err := mgr.SystemPrompt(Vars{Provider: "anthropic"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "Be concise, anthropic." {
		t.Errorf("Expected provider prompt, got '%s'", got)
	}

	got, err = mgr.SystemPrompt(Vars{Provider: "openai"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "Be concise." {
		t.Errorf("Expected fallback prompt, got '%s'", got)
	}
}

func TestManager_SystemPrompt_None(t *testing.T) {
	got, err := NewManagerFromMap(map[string]string{"other": "x"}).SystemPrompt(NewVars("openai", "s1", ""))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "" {
		t.Errorf("Expected empty prompt, got '%s'", got)
	}
}

func TestNewVars_Date(t *testing.T) {
	v := NewVars("openai", "s1", "/tmp")
	if len(v.Date) != len("2006-01-02") {
		t.Errorf("Expected ISO date, got '%s'", v.Date)
	}
}

func TestNewManager_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "system: \"Base prompt\"\nsystem_openai: \"OpenAI prompt\"\n")
	writeFile(t, dir, "notes.txt", "system: ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested.yaml"), 0755); err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if mgr.CountPrompts() != 2 {
		t.Errorf("Expected 2 prompts, got %d", mgr.CountPrompts())
	}
	if got := mgr.GetSource("system"); got != "system:base.yaml" {
		t.Errorf("Expected source 'system:base.yaml', got '%s'", got)
	}
	if got := mgr.GetSource("missing"); got != "unknown" {
		t.Errorf("Expected 'unknown', got '%s'", got)
	}
}

func TestNewManager_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "system: [unclosed")

	if _, err := NewManager(dir); err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestNewManager_InvalidTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "system: \"Hello {{.Provider\"\n")

	_, err := NewManager(dir)
	if err == nil {
		t.Fatal("Expected error for unparseable template, got nil")
	}
	if !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("Expected error to name the file, got %v", err)
	}
}

func TestNewManager_DirectoryNotExists(t *testing.T) {
	if _, err := NewManager("/nonexistent/prompts/dir"); err == nil {
		t.Fatal("Expected error for missing directory, got nil")
	}
}

func TestNewManagerWithOverrides(t *testing.T) {
	systemDir := t.TempDir()
	projectDir := t.TempDir()
	writeFile(t, systemDir, "base.yaml", "system: \"Base\"\nsystem_openai: \"OpenAI base\"\n")
	writeFile(t, projectDir, "local.yaml", "system: \"Project\"\n")

	mgr, err := NewManagerWithOverrides(systemDir, projectDir)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	got, _ := mgr.Get("system")
	if got != "Project" {
		t.Errorf("Expected project override, got '%s'", got)
	}
	overrides := mgr.ListOverrides()
	if len(overrides) != 1 || overrides[0] != "system" {
		t.Errorf("Expected [system] overrides, got %v", overrides)
	}

	mgr, err = NewManagerWithOverrides(systemDir, filepath.Join(projectDir, "absent"))
	if err != nil {
		t.Fatalf("Expected missing project dir to be ignored, got %v", err)
	}
	if len(mgr.ListOverrides()) != 0 {
		t.Errorf("Expected no overrides, got %v", mgr.ListOverrides())
	}
}

func TestManager_MultilinePrompt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "multi.yaml", "system: |\n  Line one for {{.Provider}}.\n  Line two.\n")

	mgr, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	got, err := mgr.SystemPrompt(Vars{Provider: "openai"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "Line one for openai.\nLine two." {
		t.Errorf("Expected trimmed two-line prompt, got %q", got)
	}
}
