// Package seed provisions the first identities of an empty store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// File is the YAML seed document.
type File struct {
	Identities []Identity `yaml:"identities" validate:"required,min=1,unique=Username,dive"`
}

// Identity is one seeded identity.
type Identity struct {
	ID          string `yaml:"id" validate:"omitempty,max=64"`
	Username    string `yaml:"username" validate:"required,min=3,max=32"`
	Password    string `yaml:"password" validate:"required,min=6"`
	DisplayName string `yaml:"display_name" validate:"max=64"`
	Avatar      string `yaml:"avatar" validate:"omitempty,uri"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &f, nil
}

// Provisioner creates identities with credentials.
type Provisioner interface {
	Provision(ctx context.Context, username, password string, profile auth.Profile) (*store.Identity, error)
}

// Apply provisions every identity in f when the store holds none yet.
// It returns how many identities were created.
func Apply(ctx context.Context, f *File, identities store.IdentityStore, p Provisioner, logger *zerolog.Logger) (int, error) {
	existing, err := identities.ListIdentities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list identities: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug().Int("identities", len(existing)).Msg("store not empty, skipping seed")
		return 0, nil
	}

	logger.Info().Int("identities", len(f.Identities)).Msg("no identities found, seeding")
	created := 0
	for _, entry := range f.Identities {
		profile := auth.Profile{ID: entry.ID, DisplayName: entry.DisplayName, AvatarURI: entry.Avatar}
		identity, err := p.Provision(ctx, entry.Username, entry.Password, profile)
		if err != nil {
			if errors.Is(err, auth.ErrUserExists) {
				continue
			}
			return created, fmt.Errorf("seed %s: %w", entry.Username, err)
		}
		logger.Info().Str("username", identity.Username).Str("identity_id", identity.ID).Msg("seeded identity")
		created++
	}
	return created, nil
}

// FromFile loads path and applies it. An empty path is a no-op.
func FromFile(ctx context.Context, path string, identities store.IdentityStore, p Provisioner, logger *zerolog.Logger) (int, error) {
	if path == "" {
		return 0, nil
	}
	f, err := Load(path)
	if err != nil {
		return 0, err
	}
	return Apply(ctx, f, identities, p, logger)
}
