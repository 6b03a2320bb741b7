// Package prompts loads the system prompt templates sent ahead of each chat turn.
package prompts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	textTemplate "text/template"
	"time"

	"gopkg.in/yaml.v3"
)

// SystemPromptName is the fallback template; "system_<provider id>" takes precedence
const SystemPromptName = "system"

// Vars are the values available to prompt templates
type Vars struct {
	Provider  string
	SessionID string
	Workspace string
	Date      string
}

// NewVars fills Date with today's date
func NewVars(provider, sessionID, workspace string) Vars {
	return Vars{
		Provider:  provider,
		SessionID: sessionID,
		Workspace: workspace,
		Date:      time.Now().Format("2006-01-02"),
	}
}

// Manager handles loading and rendering prompt templates
type Manager struct {
	prompts map[string]string
	sources map[string]string // file that provided each prompt
}

// NewManager loads every YAML file in promptsDir. Each file maps prompt names to templates.
func NewManager(promptsDir string) (*Manager, error) {
	pm := newManager()
	if err := pm.loadDirectory(promptsDir, "system"); err != nil {
		return nil, err
	}
	return pm, nil
}

// NewManagerWithOverrides loads systemDir, then projectDir on top of it when that exists
func NewManagerWithOverrides(systemDir, projectDir string) (*Manager, error) {
	pm := newManager()
	if err := pm.loadDirectory(systemDir, "system"); err != nil {
		return nil, fmt.Errorf("failed to load system prompts: %w", err)
	}

	if projectDir != "" {
		if _, err := os.Stat(projectDir); err == nil {
			if err := pm.loadDirectory(projectDir, "project"); err != nil {
				return nil, fmt.Errorf("failed to load project prompts: %w", err)
			}
		}
	}
	return pm, nil
}

// NewManagerFromMap creates a prompt manager from a map (useful for testing)
func NewManagerFromMap(prompts map[string]string) *Manager {
	pm := newManager()
	for key, value := range prompts {
		pm.prompts[key] = value
		pm.sources[key] = "test:map"
	}
	return pm
}

func newManager() *Manager {
	return &Manager{
		prompts: make(map[string]string),
		sources: make(map[string]string),
	}
}

// loadDirectory loads all YAML files from a directory; later files override earlier ones
func (pm *Manager) loadDirectory(dir, source string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", filePath, err)
		}

		var prompts map[string]string
		if err := yaml.Unmarshal(data, &prompts); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filePath, err)
		}
		for key, value := range prompts {
			if _, err := parse(key, value); err != nil {
				return fmt.Errorf("%s: %w", filePath, err)
			}
			pm.prompts[key] = value
			pm.sources[key] = fmt.Sprintf("%s:%s", source, entry.Name())
		}
	}
	return nil
}

func parse(name, text string) (*textTemplate.Template, error) {
	tmpl, err := textTemplate.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", name, err)
	}
	return tmpl, nil
}

// Get returns a raw prompt by name
func (pm *Manager) Get(name string) (string, error) {
	prompt, ok := pm.prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt '%s' not found (available: %v)", name, pm.names())
	}
	return prompt, nil
}

// Render renders a prompt template with vars, which may be a Vars or a map
func (pm *Manager) Render(name string, vars interface{}) (string, error) {
	text, err := pm.Get(name)
	if err != nil {
		return "", err
	}
	tmpl, err := parse(name, text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SystemPrompt renders system_<provider> or, failing that, system.
// It returns "" when neither is defined.
func (pm *Manager) SystemPrompt(vars Vars) (string, error) {
	if vars.Provider != "" {
		if name := SystemPromptName + "_" + vars.Provider; pm.HasPrompt(name) {
			return pm.Render(name, vars)
		}
	}
	if pm.HasPrompt(SystemPromptName) {
		return pm.Render(SystemPromptName, vars)
	}
	return "", nil
}

func (pm *Manager) names() []string {
	names := make([]string, 0, len(pm.prompts))
	for name := range pm.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasPrompt checks if a prompt exists
func (pm *Manager) HasPrompt(name string) bool {
	_, ok := pm.prompts[name]
	return ok
}

// GetSource returns which file provided a prompt (for debugging)
func (pm *Manager) GetSource(name string) string {
	if source, ok := pm.sources[name]; ok {
		return source
	}
	return "unknown"
}

// ListOverrides returns the prompts that came from the project directory
func (pm *Manager) ListOverrides() []string {
	var overrides []string
	for key, source := range pm.sources {
		if strings.HasPrefix(source, "project:") {
			overrides = append(overrides, key)
		}
	}
	sort.Strings(overrides)
	return overrides
}

// CountPrompts returns the total number of loaded prompts
func (pm *Manager) CountPrompts() int {
	return len(pm.prompts)
}
