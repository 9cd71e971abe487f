// Package persona loads and patches Finch persona TOML files (C10 part).
// Patching reads the whole document, mutates only behavior.system_prompt,
// and re-encodes — grounded in the observation that the teacher's own
// config package round-trips through full decode/encode cycles rather than
// textual patching (internal/config/config.go's Load/Validate shape).
package persona

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Identity holds the [persona] section.
type Identity struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Behavior holds the [behavior] section.
type Behavior struct {
	SystemPrompt string `toml:"system_prompt"`
	Tone         string `toml:"tone"`
	Verbosity    string `toml:"verbosity"`
	Focus        string `toml:"focus"`
	Examples     []string `toml:"examples,omitempty"`
	GitName      string `toml:"git_name,omitempty"`
	GitEmail     string `toml:"git_email,omitempty"`
}

// Persona is a fully decoded persona document.
type Persona struct {
	PersonaInfo Identity `toml:"persona"`
	Behavior    Behavior `toml:"behavior"`
}

// Load decodes a persona TOML file from path.
func Load(path string) (*Persona, error) {
	var p Persona
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save encodes p to path.
func Save(path string, p *Persona) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

// PatchSystemPrompt updates only behavior.system_prompt in the persona file
// at path, leaving every other field byte-for-byte unchanged on reload
// (testable property 8 / E6). It is idempotent: patching twice with the
// same prompt leaves the document unchanged beyond the no-op write.
func PatchSystemPrompt(path, newPrompt string) error {
	p, err := Load(path)
	if err != nil {
		return err
	}
	p.Behavior.SystemPrompt = newPrompt
	return Save(path, p)
}
