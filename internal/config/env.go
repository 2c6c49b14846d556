package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileName is the dotenv file read from the config directory.
const EnvFileName = ".env.local"

// LoadEnvFiles loads .env.local from the directory of configPath into the
// process environment. Variables already set in the environment win. A
// missing file is not an error.
func LoadEnvFiles(configPath string) error {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	envPath := filepath.Join(dir, EnvFileName)
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", envPath, err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}
