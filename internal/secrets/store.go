package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound reports a secret that is absent from the store.
var ErrNotFound = errors.New("secret not found")

// Store provides named secret material.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvStore resolves secrets from the environment, honoring the Docker
// convention of <NAME>_FILE indirection: if NAME is unset but NAME_FILE
// points at a readable file, the file content is the secret.
type EnvStore struct{}

func NewEnvStore() EnvStore {
	return EnvStore{}
}

func (EnvStore) Get(_ context.Context, name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if path := os.Getenv(name + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file for %s: %w", name, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
