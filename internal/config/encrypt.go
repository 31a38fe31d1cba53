package config

import (
	"fmt"
	"os"

	"github.com/rowjay/savekeep/internal/cryptoutil"
)

// EncryptConfigFile seals a config file so it can be loaded with SAVEKEEP_CONFIG_KEY.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return err
	}
	ciphertext, err := cryptoutil.EncryptConfig(plain, parsed)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, ciphertext, 0o600)
}
