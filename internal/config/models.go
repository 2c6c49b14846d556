package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fallback profile used for deployments missing from the model table.
const (
	FallbackModel         = "gpt-4o-mini-2024-07-18"
	FallbackContextLimit  = 128000
	FallbackOutputReserve = 16384
)

// ErrModelsFileNotFound is returned when the model profile file does not exist.
var ErrModelsFileNotFound = errors.New("model config file not found")

// ModelProfile maps a deployment name to its model family and token budget.
type ModelProfile struct {
	DeploymentName string `yaml:"deployment_name" json:"deployment_name"`
	ModelName      string `yaml:"model_name" json:"model_name"`
	ContextLimit   int    `yaml:"model_token_limit" json:"model_token_limit"`
	OutputReserve  int    `yaml:"output_token_limit" json:"output_token_limit"`
}

// FallbackProfile returns the profile applied to unknown deployments.
func FallbackProfile() ModelProfile {
	return ModelProfile{
		ModelName:     FallbackModel,
		ContextLimit:  FallbackContextLimit,
		OutputReserve: FallbackOutputReserve,
	}
}

type modelsFile struct {
	Models []ModelProfile `yaml:"models"`
}

// ModelTable is the immutable deployment → profile lookup built at startup.
type ModelTable struct {
	profiles map[string]ModelProfile
}

// NewModelTable builds a table from profiles. Later duplicates win.
func NewModelTable(profiles []ModelProfile) *ModelTable {
	t := &ModelTable{profiles: make(map[string]ModelProfile, len(profiles))}
	for _, p := range profiles {
		if p.DeploymentName == "" {
			continue
		}
		p.ModelName = strings.ToLower(p.ModelName)
		t.profiles[p.DeploymentName] = p
	}
	return t
}

// LoadModelProfiles reads the model table from path. A missing or malformed
// file yields an empty table and a warning; every lookup then falls back.
func LoadModelProfiles(path string, logger *slog.Logger) *ModelTable {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("model config unavailable, using fallback profile", "path", path, "error", err)
		return NewModelTable(nil)
	}
	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		logger.Warn("model config malformed, using fallback profile", "path", path, "error", err)
		return NewModelTable(nil)
	}
	for i, p := range file.Models {
		if p.DeploymentName == "" || p.ContextLimit <= 0 || p.OutputReserve < 0 {
			logger.Warn("model config entry invalid, using fallback profile", "path", path, "index", i)
			return NewModelTable(nil)
		}
	}
	return NewModelTable(file.Models)
}

// Lookup returns the profile for deployment, or the fallback profile.
func (t *ModelTable) Lookup(deployment string) ModelProfile {
	if t != nil {
		if p, ok := t.profiles[deployment]; ok {
			return p
		}
	}
	return FallbackProfile()
}

// Profiles returns all known profiles ordered by deployment name.
func (t *ModelTable) Profiles() []ModelProfile {
	if t == nil {
		return nil
	}
	out := make([]ModelProfile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeploymentName < out[j].DeploymentName })
	return out
}

// Len reports the number of configured deployments.
func (t *ModelTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.profiles)
}

// LoadModelsRaw returns the model file decoded as-is, for clients that
// render the deployment picker.
func LoadModelsRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModelsFileNotFound
		}
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
