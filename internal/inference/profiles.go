package inference

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profileYAML is the YAML representation of a Profile.
type profileYAML struct {
	Name          string `yaml:"name"`
	ModelID       string `yaml:"model_id"`
	Format        string `yaml:"format,omitempty"` // "json" | "text"
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
	CaptionPrompt string `yaml:"caption_prompt"`
	TagsPrompt    string `yaml:"tags_prompt"`
}

// profilesFile is the top-level YAML structure for a profiles file.
type profilesFile struct {
	Profiles []profileYAML `yaml:"profiles"`
}

// LoadProfilesFile loads variant profiles from a YAML file.
func LoadProfilesFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profiles: reading %s: %w", path, err)
	}
	return ParseProfilesYAML(data)
}

// ParseProfilesYAML parses variant profiles from YAML bytes.
func ParseProfilesYAML(data []byte) ([]Profile, error) {
	var file profilesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("profiles: parsing YAML: %w", err)
	}

	if len(file.Profiles) == 0 {
		return nil, errors.New("profiles: no profiles defined")
	}

	seen := make(map[string]bool, len(file.Profiles))
	profiles := make([]Profile, len(file.Profiles))
	for i, py := range file.Profiles {
		p, err := convertProfileYAML(py)
		if err != nil {
			return nil, fmt.Errorf("profiles[%d] %q: %w", i, py.Name, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("profiles: duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		profiles[i] = p
	}
	return profiles, nil
}

func convertProfileYAML(py profileYAML) (Profile, error) {
	if py.Name == "" {
		return Profile{}, errors.New("name is required")
	}
	if py.ModelID == "" {
		return Profile{}, errors.New("model_id is required")
	}
	if py.CaptionPrompt == "" || py.TagsPrompt == "" {
		return Profile{}, errors.New("caption_prompt and tags_prompt are required")
	}

	p := Profile{
		Name:          py.Name,
		ModelID:       py.ModelID,
		SystemPrompt:  py.SystemPrompt,
		CaptionPrompt: py.CaptionPrompt,
		TagsPrompt:    py.TagsPrompt,
	}
	switch py.Format {
	case "json":
		p.Format = FormatJSON
	case "text", "":
		p.Format = FormatText
	default:
		return Profile{}, fmt.Errorf("invalid format %q (must be json or text)", py.Format)
	}
	return p, nil
}
