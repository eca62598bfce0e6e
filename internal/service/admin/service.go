// Package admin implements guild configuration: settings edits and the
// prize catalogue.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/common/validation"
	"github.com/open-builders/knock-backend/internal/domain/contest"
)

type Service struct {
	store contest.Store
	loc   *time.Location
	log   zerolog.Logger
}

func NewService(store contest.Store, loc *time.Location, log zerolog.Logger) *Service {
	return &Service{store: store, loc: loc, log: log}
}

// Location is the contest timezone used for dates and reset times.
func (s *Service) Location() *time.Location { return s.loc }

// Settings returns the guild's settings, creating defaults when missing.
func (s *Service) Settings(ctx context.Context, guildID string) (*contest.GuildSettings, error) {
	var gs *contest.GuildSettings
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		var err error
		gs, err = tx.EnsureGuildSettings(ctx, guildID)
		if err != nil {
			return apperrors.NewDatabaseError("ensure guild settings", err)
		}
		return nil
	})
	return gs, err
}

// Set validates and stores one setting. Settings are created with defaults
// first when the guild has none.
func (s *Service) Set(ctx context.Context, guildID, name, value string) (*contest.GuildSettings, error) {
	var gs *contest.GuildSettings
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		var err error
		gs, err = tx.EnsureGuildSettings(ctx, guildID)
		if err != nil {
			return apperrors.NewDatabaseError("ensure guild settings", err)
		}
		if err := applySetting(gs, name, value, s.loc); err != nil {
			return err
		}
		if err := tx.SaveGuildSettings(ctx, gs); err != nil {
			return apperrors.NewDatabaseError("save guild settings", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("guild_id", guildID).Str("setting", name).Str("value", value).Msg("guild setting updated")
	return gs, nil
}

// Prizes lists the guild's catalogue.
func (s *Service) Prizes(ctx context.Context, guildID string) ([]contest.Prize, error) {
	var prizes []contest.Prize
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		var err error
		prizes, err = tx.ListPrizes(ctx, guildID)
		if err != nil {
			return apperrors.NewDatabaseError("list prizes", err)
		}
		return nil
	})
	return prizes, err
}

// NewPrize is the input of AddPrize. A nil Weight takes the default.
type NewPrize struct {
	ID     string
	Name   string
	Stock  int
	Weight *int
	Image  string
}

func (n NewPrize) prize(guildID string) contest.Prize {
	weight := contest.DefaultPrizeWeight
	if n.Weight != nil {
		weight = *n.Weight
	}
	return contest.Prize{
		ID:           n.ID,
		GuildID:      guildID,
		Name:         n.Name,
		InitialStock: n.Stock,
		CurrentStock: n.Stock,
		Weight:       weight,
		Image:        n.Image,
	}
}

// AddPrize inserts a new prize with its full stock available.
func (s *Service) AddPrize(ctx context.Context, guildID string, n NewPrize) (*contest.Prize, error) {
	p := n.prize(guildID)
	if err := validation.Struct(&p); err != nil {
		return nil, err
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		return insertPrize(ctx, tx, &p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("guild_id", guildID).Str("prize_id", p.ID).Int("stock", p.InitialStock).Int("weight", p.Weight).Msg("prize added")
	return &p, nil
}

func insertPrize(ctx context.Context, tx contest.Tx, p *contest.Prize) error {
	err := tx.InsertPrize(ctx, p)
	if errors.Is(err, contest.ErrDuplicate) {
		return apperrors.NewConflictError("prize", fmt.Sprintf("a prize with id %s already exists", p.ID))
	}
	if err != nil {
		return apperrors.NewDatabaseError("insert prize", err)
	}
	return nil
}

// PrizeEdit changes selected fields of an existing prize.
type PrizeEdit struct {
	Name   *string
	Stock  *int
	Weight *int
	Image  *string
}

func (e PrizeEdit) empty() bool {
	return e.Name == nil && e.Stock == nil && e.Weight == nil && e.Image == nil
}

// apply changes p in place. A new stock replaces the initial stock and keeps
// the number of units already awarded.
func (e PrizeEdit) apply(p *contest.Prize) error {
	if e.Name != nil {
		p.Name = *e.Name
	}
	if e.Weight != nil {
		p.Weight = *e.Weight
	}
	if e.Image != nil {
		p.Image = *e.Image
	}
	if e.Stock != nil {
		awarded := p.InitialStock - p.CurrentStock
		if *e.Stock < awarded {
			return apperrors.NewValidationError("stock", fmt.Sprintf("must be at least %d, the units already awarded", awarded))
		}
		p.InitialStock = *e.Stock
		p.CurrentStock = *e.Stock - awarded
	}
	return validation.Struct(p)
}

// EditPrize applies edit to the prize under a row lock.
func (s *Service) EditPrize(ctx context.Context, guildID, prizeID string, edit PrizeEdit) (*contest.Prize, error) {
	if edit.empty() {
		return nil, apperrors.NewValidationError("prize", "nothing to change")
	}
	var p *contest.Prize
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		var err error
		p, err = tx.PrizeForUpdate(ctx, guildID, prizeID)
		if errors.Is(err, contest.ErrNotFound) {
			return apperrors.NewValidationError("id", fmt.Sprintf("no prize with id %s", prizeID))
		}
		if err != nil {
			return apperrors.NewDatabaseError("load prize", err)
		}
		if err := edit.apply(p); err != nil {
			return err
		}
		return updatePrize(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("guild_id", guildID).Str("prize_id", prizeID).Msg("prize updated")
	return p, nil
}

func updatePrize(ctx context.Context, tx contest.Tx, p *contest.Prize) error {
	ok, err := tx.UpdatePrize(ctx, p)
	if err != nil {
		return apperrors.NewDatabaseError("update prize", err)
	}
	if !ok {
		return apperrors.NewConflictError("prize", "prize changed concurrently")
	}
	return nil
}

// Catalogue is the YAML prize file format.
type Catalogue struct {
	Prizes []CatalogueEntry `yaml:"prizes"`
}

type CatalogueEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Stock  int    `yaml:"stock"`
	Weight *int   `yaml:"weight"`
	Image  string `yaml:"image"`
}

// ImportReport lists the prize ids an import touched.
type ImportReport struct {
	Added   []string
	Updated []string
}

// ImportPrizes loads a YAML catalogue into the guild in one transaction.
// Unknown ids are added; existing ids are edited like EditPrize.
func (s *Service) ImportPrizes(ctx context.Context, guildID string, r io.Reader) (*ImportReport, error) {
	var cat Catalogue
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "Invalid prize catalogue")
	}
	if len(cat.Prizes) == 0 {
		return nil, apperrors.NewValidationError("prizes", "catalogue is empty")
	}
	seen := make(map[string]bool, len(cat.Prizes))
	for _, e := range cat.Prizes {
		if seen[e.ID] {
			return nil, apperrors.NewValidationError("id", fmt.Sprintf("%s appears more than once", e.ID))
		}
		seen[e.ID] = true
	}

	var report *ImportReport
	err := s.store.InTx(ctx, func(ctx context.Context, tx contest.Tx) error {
		report = &ImportReport{}
		for _, e := range cat.Prizes {
			existing, err := tx.PrizeForUpdate(ctx, guildID, e.ID)
			if errors.Is(err, contest.ErrNotFound) {
				p := NewPrize{ID: e.ID, Name: e.Name, Stock: e.Stock, Weight: e.Weight, Image: e.Image}.prize(guildID)
				if err := validation.Struct(&p); err != nil {
					return apperrors.ToAppError(err).WithDetail("prize_id", e.ID)
				}
				if err := insertPrize(ctx, tx, &p); err != nil {
					return err
				}
				report.Added = append(report.Added, e.ID)
				continue
			}
			if err != nil {
				return apperrors.NewDatabaseError("load prize", err)
			}
			edit := PrizeEdit{Name: &e.Name, Stock: &e.Stock, Weight: e.Weight, Image: &e.Image}
			if err := edit.apply(existing); err != nil {
				return apperrors.ToAppError(err).WithDetail("prize_id", e.ID)
			}
			if err := updatePrize(ctx, tx, existing); err != nil {
				return err
			}
			report.Updated = append(report.Updated, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("guild_id", guildID).Int("added", len(report.Added)).Int("updated", len(report.Updated)).Msg("prize catalogue imported")
	return report, nil
}
