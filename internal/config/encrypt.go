package config

import (
	"os"

	"github.com/calder-ops/tradevault/internal/cryptoutil"
)

// EncryptConfigFile encrypts a config file with the provided key so database
// and S3 credentials are not stored in the clear on the host.
func EncryptConfigFile(inputPath, outputPath, key string) error {
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
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
