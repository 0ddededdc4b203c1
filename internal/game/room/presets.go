package room

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type presetFile struct {
	Rooms []preset `yaml:"rooms"`
}

type preset struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	MaxPlayers int    `yaml:"max_players"`
	GameMode   string `yaml:"game_mode"`
	Private    bool   `yaml:"private"`
}

// LoadPresets reads room definitions that are created at startup.
//
// Precondition: path must name a readable YAML file.
// Postcondition: every returned Config has an id; ids are unique.
func LoadPresets(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading room presets %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes room definitions from YAML.
func ParsePresets(data []byte) ([]Config, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing room presets: %w", err)
	}
	seen := make(map[string]bool, len(f.Rooms))
	out := make([]Config, 0, len(f.Rooms))
	for i, p := range f.Rooms {
		if p.ID == "" {
			return nil, fmt.Errorf("room preset %d: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("room preset %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
		out = append(out, Config{
			ID:         p.ID,
			Name:       p.Name,
			MaxPlayers: p.MaxPlayers,
			GameMode:   p.GameMode,
			IsPrivate:  p.Private,
		})
	}
	return out, nil
}
