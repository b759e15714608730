package directory

import (
	"context"
	"errors"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/rs/zerolog/log"
)

type SeedChannel struct {
	Name    string
	OwnerID domain.UserID
}

// Seed creates every channel whose name is still free.
func Seed(ctx context.Context, d Directory, seeds []SeedChannel) error {
	for _, s := range seeds {
		info, err := d.Create(ctx, s.Name, s.OwnerID)
		switch {
		case errors.Is(err, ErrNameTaken):
			log.Debug().Str("module", "directory").Str("name", s.Name).Msg("seed exists")
		case err != nil:
			return err
		default:
			log.Info().Str("module", "directory").Str("channel", string(info.ID)).Str("name", info.Name).Msg("seeded channel")
		}
	}
	return nil
}
