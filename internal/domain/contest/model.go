package contest

import "time"

// Defaults applied when a guild's settings row is created lazily.
const (
	DefaultResetHour    = 6
	DefaultKnocksPerDay = 2
	DefaultWinRate      = 0.5
	DefaultPrizeWeight  = 10
)

// GuildSettings configures the contest for one guild.
type GuildSettings struct {
	GuildID      string     `json:"guild_id"`
	ResetHour    int        `json:"reset_time"`
	KnocksPerDay int        `json:"knocks_per_day"`
	WinRate      float64    `json:"win_rate"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	// WinChannelID receives public win announcements when set.
	WinChannelID *string `json:"win_channel,omitempty"`
}

// NewGuildSettings returns the defaults for a guild.
func NewGuildSettings(guildID string) *GuildSettings {
	return &GuildSettings{
		GuildID:      guildID,
		ResetHour:    DefaultResetHour,
		KnocksPerDay: DefaultKnocksPerDay,
		WinRate:      DefaultWinRate,
	}
}

// Started reports whether knocking is open at now.
func (s *GuildSettings) Started(now time.Time) bool {
	return s.StartDate != nil && !s.StartDate.After(now)
}

// Ended reports whether the end date has passed.
func (s *GuildSettings) Ended(now time.Time) bool {
	return s.EndDate != nil && s.EndDate.Before(now)
}

// KnockEvent is one knock attempt.
//
//	attempted-loss: PrizeID nil, Pending false
//	pending-win:    PrizeID nil, Pending true
//	resolved-win:   PrizeID set, Pending false
type KnockEvent struct {
	ID        int64     `json:"id"`
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	PrizeID   *string   `json:"prize_id,omitempty"`
	Pending   bool      `json:"is_pending"`
}

// Resolved reports whether the event reached a terminal state.
func (e *KnockEvent) Resolved() bool { return !e.Pending }

// Prize is a stocked reward in a guild's inventory.
type Prize struct {
	ID           string `json:"id" validate:"required,prizeid"`
	GuildID      string `json:"guild_id" validate:"required,snowflake"`
	Name         string `json:"name" validate:"required,max=100"`
	InitialStock int    `json:"initial_stock" validate:"min=1,max=999"`
	CurrentStock int    `json:"current_stock" validate:"gte=0,ltefield=InitialStock"`
	Weight       int    `json:"weight" validate:"min=0,max=1000"`
	Image        string `json:"image" validate:"required,imageurl"`
}

// DrawWeight is the prize's effective weight in the weighted draw.
func (p *Prize) DrawWeight() int64 {
	if p.CurrentStock <= 0 || p.Weight <= 0 {
		return 0
	}
	return int64(p.CurrentStock) * int64(p.Weight)
}

// Gifty is a transferable bonus knock.
type Gifty struct {
	ID         int64     `json:"id"`
	GuildID    string    `json:"guild_id" validate:"required,snowflake"`
	FromUserID string    `json:"from_user_id" validate:"required,snowflake"`
	ToUserID   string    `json:"to_user_id" validate:"required,snowflake"`
	CreatedAt  time.Time `json:"created_at"`
	// KnockEventID is set once the gifty has been spent.
	KnockEventID *int64 `json:"knock_event_id,omitempty"`
}

// Spent reports whether the gifty is already associated with a knock.
func (g *Gifty) Spent() bool { return g.KnockEventID != nil }

// DeviantArtUser links a member to the DeviantArt account prizes are
// delivered to.
type DeviantArtUser struct {
	GuildID  string `json:"guild_id" validate:"required,snowflake"`
	UserID   string `json:"user_id" validate:"required,snowflake"`
	Username string `json:"deviantart_name" validate:"required,deviantart"`
}

// Winner is one resolved win in the winners report.
type Winner struct {
	KnockEventID int64     `json:"knock_event_id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	PrizeID      string    `json:"prize_id"`
	PrizeName    string    `json:"prize_name"`
	// DeviantArtName is nil when the winner never linked an account.
	DeviantArtName *string `json:"deviantart_name,omitempty"`
}
