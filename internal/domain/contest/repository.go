package contest

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups that matched nothing.
var ErrNotFound = errors.New("contest: not found")

// ErrDuplicate is returned when an insert collides with an existing key.
var ErrDuplicate = errors.New("contest: duplicate key")

// Store runs units of work against the relational store.
type Store interface {
	// InTx runs fn inside one transaction. A non-nil return rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// Guild settings
	GuildSettings(ctx context.Context, guildID string) (*GuildSettings, error)
	EnsureGuildSettings(ctx context.Context, guildID string) (*GuildSettings, error)
	SaveGuildSettings(ctx context.Context, s *GuildSettings) error

	// Knock events
	LockUserKnocks(ctx context.Context, guildID, userID string) error
	CountKnocksSince(ctx context.Context, guildID, userID string, since time.Time) (int, error)
	// CountKnocksThrough counts the user's knocks after since whose id is at
	// most throughID, i.e. the position of that knock within its period.
	CountKnocksThrough(ctx context.Context, guildID, userID string, since time.Time, throughID int64) (int, error)
	InsertKnockEvent(ctx context.Context, e *KnockEvent) error
	KnockEventForUpdate(ctx context.Context, id int64) (*KnockEvent, error)
	ResolveKnockEvent(ctx context.Context, id int64, prizeID *string) (bool, error)
	DeletePendingKnockEvent(ctx context.Context, id int64) (bool, error)

	// Gifties
	ClaimNextGifty(ctx context.Context, guildID, toUserID string) (*Gifty, error)
	SpendGifty(ctx context.Context, giftyID, knockEventID int64) (bool, error)
	GiftyForKnockEvent(ctx context.Context, knockEventID int64) (*Gifty, error)
	ReleaseGifties(ctx context.Context, knockEventID int64) error
	CountUnspentGifties(ctx context.Context, guildID, toUserID string) (int, error)
	// LockGiftySender serialises gifty sends by one sender until the
	// transaction ends.
	LockGiftySender(ctx context.Context, guildID, fromUserID string) error
	LastSentGifty(ctx context.Context, guildID, fromUserID string) (*Gifty, error)
	InsertGifty(ctx context.Context, g *Gifty) error

	// Prizes
	InStockPrizesForUpdate(ctx context.Context, guildID string) ([]Prize, error)
	DecrementPrizeStock(ctx context.Context, guildID, prizeID string) (bool, error)
	InsertPrize(ctx context.Context, p *Prize) error
	UpdatePrize(ctx context.Context, p *Prize) (bool, error)
	ListPrizes(ctx context.Context, guildID string) ([]Prize, error)
	PrizeForUpdate(ctx context.Context, guildID, prizeID string) (*Prize, error)

	// DeviantArt accounts
	SaveDeviantArtUser(ctx context.Context, u *DeviantArtUser) error
	DeviantArtUser(ctx context.Context, guildID, userID string) (*DeviantArtUser, error)

	// Winners lists resolved wins in the guild, oldest first.
	Winners(ctx context.Context, guildID string) ([]Winner, error)
}
