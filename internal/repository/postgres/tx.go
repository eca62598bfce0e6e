package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/open-builders/knock-backend/internal/domain/contest"
)

// Tx implements contest.Tx over a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

const settingsColumns = `guild_id, reset_time, knocks_per_day, win_rate, start_date, end_date, win_channel`

func scanSettings(row *sql.Row) (*contest.GuildSettings, error) {
	var (
		gs         contest.GuildSettings
		start, end sql.NullTime
		channel    sql.NullString
	)
	if err := row.Scan(&gs.GuildID, &gs.ResetHour, &gs.KnocksPerDay, &gs.WinRate, &start, &end, &channel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contest.ErrNotFound
		}
		return nil, err
	}
	if start.Valid {
		gs.StartDate = &start.Time
	}
	if end.Valid {
		gs.EndDate = &end.Time
	}
	if channel.Valid {
		gs.WinChannelID = &channel.String
	}
	return &gs, nil
}

func (t *Tx) GuildSettings(ctx context.Context, guildID string) (*contest.GuildSettings, error) {
	q := `SELECT ` + settingsColumns + ` FROM guild_settings WHERE guild_id = $1`
	return scanSettings(t.tx.QueryRowContext(ctx, q, guildID))
}

// EnsureGuildSettings creates the default row if missing and returns it locked.
func (t *Tx) EnsureGuildSettings(ctx context.Context, guildID string) (*contest.GuildSettings, error) {
	d := contest.NewGuildSettings(guildID)
	const ins = `
	INSERT INTO guild_settings (guild_id, reset_time, knocks_per_day, win_rate)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (guild_id) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, ins, d.GuildID, d.ResetHour, d.KnocksPerDay, d.WinRate); err != nil {
		return nil, fmt.Errorf("insert default settings: %w", err)
	}
	q := `SELECT ` + settingsColumns + ` FROM guild_settings WHERE guild_id = $1 FOR UPDATE`
	return scanSettings(t.tx.QueryRowContext(ctx, q, guildID))
}

func (t *Tx) SaveGuildSettings(ctx context.Context, gs *contest.GuildSettings) error {
	const q = `
	INSERT INTO guild_settings (guild_id, reset_time, knocks_per_day, win_rate, start_date, end_date, win_channel)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (guild_id) DO UPDATE SET
		reset_time = EXCLUDED.reset_time,
		knocks_per_day = EXCLUDED.knocks_per_day,
		win_rate = EXCLUDED.win_rate,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date,
		win_channel = EXCLUDED.win_channel`
	_, err := t.tx.ExecContext(ctx, q,
		gs.GuildID, gs.ResetHour, gs.KnocksPerDay, gs.WinRate, nullTime(gs.StartDate), nullTime(gs.EndDate), nullString(gs.WinChannelID),
	)
	return err
}

// LockUserKnocks takes a transaction-scoped advisory lock on (guild, user)
// so concurrent knocks by the same user count sequentially.
func (t *Tx) LockUserKnocks(ctx context.Context, guildID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, guildID, userID)
	return err
}

func (t *Tx) CountKnocksSince(ctx context.Context, guildID, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM knock_events WHERE guild_id = $1 AND user_id = $2 AND created_at > $3`
	var n int
	if err := t.tx.QueryRowContext(ctx, q, guildID, userID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Tx) CountKnocksThrough(ctx context.Context, guildID, userID string, since time.Time, throughID int64) (int, error) {
	const q = `
	SELECT COUNT(*) FROM knock_events
	WHERE guild_id = $1 AND user_id = $2 AND created_at > $3 AND id <= $4`
	var n int
	if err := t.tx.QueryRowContext(ctx, q, guildID, userID, since, throughID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Tx) InsertKnockEvent(ctx context.Context, e *contest.KnockEvent) error {
	const q = `
	INSERT INTO knock_events (guild_id, user_id, created_at, prize_id, is_pending)
	VALUES ($1,$2,$3,$4,$5)
	RETURNING id`
	return t.tx.QueryRowContext(ctx, q, e.GuildID, e.UserID, e.CreatedAt, nullString(e.PrizeID), e.Pending).Scan(&e.ID)
}

func (t *Tx) KnockEventForUpdate(ctx context.Context, id int64) (*contest.KnockEvent, error) {
	const q = `
	SELECT id, guild_id, user_id, created_at, prize_id, is_pending
	FROM knock_events WHERE id = $1 FOR UPDATE`
	var (
		e     contest.KnockEvent
		prize sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, q, id).Scan(&e.ID, &e.GuildID, &e.UserID, &e.CreatedAt, &prize, &e.Pending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contest.ErrNotFound
		}
		return nil, err
	}
	if prize.Valid {
		e.PrizeID = &prize.String
	}
	return &e, nil
}

// ResolveKnockEvent moves a pending event to its terminal state. It reports
// false when the event was not pending.
func (t *Tx) ResolveKnockEvent(ctx context.Context, id int64, prizeID *string) (bool, error) {
	const q = `UPDATE knock_events SET prize_id = $2, is_pending = FALSE WHERE id = $1 AND is_pending`
	return affected(t.tx.ExecContext(ctx, q, id, nullString(prizeID)))
}

func (t *Tx) DeletePendingKnockEvent(ctx context.Context, id int64) (bool, error) {
	return affected(t.tx.ExecContext(ctx, `DELETE FROM knock_events WHERE id = $1 AND is_pending`, id))
}

const giftyColumns = `id, guild_id, from_user_id, to_user_id, created_at, knock_event_id`

func scanGifty(row *sql.Row) (*contest.Gifty, error) {
	var (
		g  contest.Gifty
		ke sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.GuildID, &g.FromUserID, &g.ToUserID, &g.CreatedAt, &ke); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contest.ErrNotFound
		}
		return nil, err
	}
	if ke.Valid {
		g.KnockEventID = &ke.Int64
	}
	return &g, nil
}

// ClaimNextGifty locks the recipient's oldest unspent gifty. Rows locked by
// another transaction are skipped so two knocks never claim the same one.
func (t *Tx) ClaimNextGifty(ctx context.Context, guildID, toUserID string) (*contest.Gifty, error) {
	q := `SELECT ` + giftyColumns + ` FROM gifties
	WHERE guild_id = $1 AND to_user_id = $2 AND knock_event_id IS NULL
	ORDER BY created_at, id
	LIMIT 1
	FOR UPDATE SKIP LOCKED`
	return scanGifty(t.tx.QueryRowContext(ctx, q, guildID, toUserID))
}

func (t *Tx) SpendGifty(ctx context.Context, giftyID, knockEventID int64) (bool, error) {
	const q = `UPDATE gifties SET knock_event_id = $2 WHERE id = $1 AND knock_event_id IS NULL`
	ok, err := affected(t.tx.ExecContext(ctx, q, giftyID, knockEventID))
	if err != nil && isUniqueViolation(err) {
		return false, contest.ErrDuplicate
	}
	return ok, err
}

func (t *Tx) GiftyForKnockEvent(ctx context.Context, knockEventID int64) (*contest.Gifty, error) {
	q := `SELECT ` + giftyColumns + ` FROM gifties WHERE knock_event_id = $1`
	return scanGifty(t.tx.QueryRowContext(ctx, q, knockEventID))
}

func (t *Tx) ReleaseGifties(ctx context.Context, knockEventID int64) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE gifties SET knock_event_id = NULL WHERE knock_event_id = $1`, knockEventID)
	return err
}

func (t *Tx) CountUnspentGifties(ctx context.Context, guildID, toUserID string) (int, error) {
	const q = `SELECT COUNT(*) FROM gifties WHERE guild_id = $1 AND to_user_id = $2 AND knock_event_id IS NULL`
	var n int
	if err := t.tx.QueryRowContext(ctx, q, guildID, toUserID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LockGiftySender takes a transaction-scoped advisory lock on the sender.
// The key is prefixed so it never collides with LockUserKnocks.
func (t *Tx) LockGiftySender(ctx context.Context, guildID, fromUserID string) error {
	_, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext('gifty:' || $2))`, guildID, fromUserID)
	return err
}

func (t *Tx) LastSentGifty(ctx context.Context, guildID, fromUserID string) (*contest.Gifty, error) {
	q := `SELECT ` + giftyColumns + ` FROM gifties
	WHERE guild_id = $1 AND from_user_id = $2
	ORDER BY created_at DESC, id DESC
	LIMIT 1`
	return scanGifty(t.tx.QueryRowContext(ctx, q, guildID, fromUserID))
}

func (t *Tx) InsertGifty(ctx context.Context, g *contest.Gifty) error {
	const q = `
	INSERT INTO gifties (guild_id, from_user_id, to_user_id, created_at)
	VALUES ($1,$2,$3,$4)
	RETURNING id`
	return t.tx.QueryRowContext(ctx, q, g.GuildID, g.FromUserID, g.ToUserID, g.CreatedAt).Scan(&g.ID)
}

const prizeColumns = `guild_id, id, name, initial_stock, current_stock, weight, image`

func (t *Tx) queryPrizes(ctx context.Context, q string, args ...interface{}) ([]contest.Prize, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contest.Prize
	for rows.Next() {
		var p contest.Prize
		if err := rows.Scan(&p.GuildID, &p.ID, &p.Name, &p.InitialStock, &p.CurrentStock, &p.Weight, &p.Image); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InStockPrizesForUpdate locks every prize of the guild that still has stock.
func (t *Tx) InStockPrizesForUpdate(ctx context.Context, guildID string) ([]contest.Prize, error) {
	q := `SELECT ` + prizeColumns + ` FROM prizes
	WHERE guild_id = $1 AND current_stock > 0
	ORDER BY id
	FOR UPDATE`
	return t.queryPrizes(ctx, q, guildID)
}

// DecrementPrizeStock takes one unit of stock. It reports false when the
// prize had none left.
func (t *Tx) DecrementPrizeStock(ctx context.Context, guildID, prizeID string) (bool, error) {
	const q = `
	UPDATE prizes SET current_stock = current_stock - 1
	WHERE guild_id = $1 AND id = $2 AND current_stock > 0`
	return affected(t.tx.ExecContext(ctx, q, guildID, prizeID))
}

func (t *Tx) InsertPrize(ctx context.Context, p *contest.Prize) error {
	q := `INSERT INTO prizes (` + prizeColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := t.tx.ExecContext(ctx, q, p.GuildID, p.ID, p.Name, p.InitialStock, p.CurrentStock, p.Weight, p.Image)
	if isUniqueViolation(err) {
		return contest.ErrDuplicate
	}
	return err
}

func (t *Tx) UpdatePrize(ctx context.Context, p *contest.Prize) (bool, error) {
	const q = `
	UPDATE prizes SET name = $3, initial_stock = $4, current_stock = $5, weight = $6, image = $7
	WHERE guild_id = $1 AND id = $2`
	return affected(t.tx.ExecContext(ctx, q, p.GuildID, p.ID, p.Name, p.InitialStock, p.CurrentStock, p.Weight, p.Image))
}

func (t *Tx) ListPrizes(ctx context.Context, guildID string) ([]contest.Prize, error) {
	q := `SELECT ` + prizeColumns + ` FROM prizes WHERE guild_id = $1 ORDER BY id`
	return t.queryPrizes(ctx, q, guildID)
}

// PrizeForUpdate row-locks the prize so a read-modify-write cannot lose a
// concurrent stock decrement.
func (t *Tx) PrizeForUpdate(ctx context.Context, guildID, prizeID string) (*contest.Prize, error) {
	q := `SELECT ` + prizeColumns + ` FROM prizes WHERE guild_id = $1 AND id = $2 FOR UPDATE`
	var p contest.Prize
	err := t.tx.QueryRowContext(ctx, q, guildID, prizeID).
		Scan(&p.GuildID, &p.ID, &p.Name, &p.InitialStock, &p.CurrentStock, &p.Weight, &p.Image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contest.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Tx) SaveDeviantArtUser(ctx context.Context, u *contest.DeviantArtUser) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO deviantart_users (guild_id, user_id, deviantart_name)
	VALUES ($1, $2, $3)
	ON CONFLICT (guild_id, user_id) DO UPDATE
	SET deviantart_name = EXCLUDED.deviantart_name, updated_at = now()`,
		u.GuildID, u.UserID, u.Username)
	return err
}

func (t *Tx) DeviantArtUser(ctx context.Context, guildID, userID string) (*contest.DeviantArtUser, error) {
	u := contest.DeviantArtUser{GuildID: guildID, UserID: userID}
	err := t.tx.QueryRowContext(ctx,
		`SELECT deviantart_name FROM deviantart_users WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID).Scan(&u.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contest.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *Tx) Winners(ctx context.Context, guildID string) ([]contest.Winner, error) {
	q := `SELECT e.id, e.user_id, e.created_at, e.prize_id, COALESCE(p.name, ''), d.deviantart_name
	FROM knock_events e
	LEFT JOIN prizes p ON p.guild_id = e.guild_id AND p.id = e.prize_id
	LEFT JOIN deviantart_users d ON d.guild_id = e.guild_id AND d.user_id = e.user_id
	WHERE e.guild_id = $1 AND e.prize_id IS NOT NULL AND NOT e.is_pending
	ORDER BY e.created_at, e.id`
	rows, err := t.tx.QueryContext(ctx, q, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]contest.Winner, 0)
	for rows.Next() {
		var (
			w  contest.Winner
			da sql.NullString
		)
		if err := rows.Scan(&w.KnockEventID, &w.UserID, &w.CreatedAt, &w.PrizeID, &w.PrizeName, &da); err != nil {
			return nil, err
		}
		if da.Valid {
			w.DeviantArtName = &da.String
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ contest.Tx = (*Tx)(nil)
