package admin

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/open-builders/knock-backend/internal/common/errors"
	"github.com/open-builders/knock-backend/internal/common/validation"
	"github.com/open-builders/knock-backend/internal/domain/contest"
)

const dateLayout = "2006-01-02"

var (
	knocksPerDayRegex = regexp.MustCompile(`^1[0-9]?$`)
	resetTimeRegex    = regexp.MustCompile(`^([0-9]|1[0-9]|2[0-3])$`)
	dateRegex         = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
)

// setting is one editable GuildSettings field: a format check plus a parser
// that applies the value.
type setting struct {
	format string
	valid  func(value string) bool
	apply  func(gs *contest.GuildSettings, value string, loc *time.Location) error
}

var settingsTable = map[string]setting{
	"reset_time": {
		format: "an hour from 0 to 23",
		valid:  resetTimeRegex.MatchString,
		apply: func(gs *contest.GuildSettings, v string, _ *time.Location) error {
			n, err := strconv.Atoi(v)
			gs.ResetHour = n
			return err
		},
	},
	"knocks_per_day": {
		format: "a number from 1 to 19",
		valid:  knocksPerDayRegex.MatchString,
		apply: func(gs *contest.GuildSettings, v string, _ *time.Location) error {
			n, err := strconv.Atoi(v)
			gs.KnocksPerDay = n
			return err
		},
	},
	"win_rate": {
		format: "a decimal from 0 to 1",
		valid: func(v string) bool {
			f, err := strconv.ParseFloat(v, 64)
			return err == nil && f >= 0 && f <= 1
		},
		apply: func(gs *contest.GuildSettings, v string, _ *time.Location) error {
			f, err := strconv.ParseFloat(v, 64)
			gs.WinRate = f
			return err
		},
	},
	"start_date": {
		format: "a date as YYYY-MM-DD",
		valid:  dateRegex.MatchString,
		apply: func(gs *contest.GuildSettings, v string, loc *time.Location) error {
			t, err := time.ParseInLocation(dateLayout, v, loc)
			gs.StartDate = &t
			return err
		},
	},
	"end_date": {
		format: "a date as YYYY-MM-DD",
		valid:  dateRegex.MatchString,
		apply: func(gs *contest.GuildSettings, v string, loc *time.Location) error {
			t, err := time.ParseInLocation(dateLayout, v, loc)
			gs.EndDate = &t
			return err
		},
	},
	"win_channel": {
		format: "a channel id or none",
		valid: func(v string) bool {
			return strings.EqualFold(v, "none") || validation.IsSnowflake(v)
		},
		apply: func(gs *contest.GuildSettings, v string, _ *time.Location) error {
			if strings.EqualFold(v, "none") {
				gs.WinChannelID = nil
				return nil
			}
			gs.WinChannelID = &v
			return nil
		},
	},
}

// SettingNames lists the editable settings in a stable order.
func SettingNames() []string {
	names := make([]string, 0, len(settingsTable))
	for name := range settingsTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applySetting validates and applies one edit to gs, then checks the
// cross-field invariants.
func applySetting(gs *contest.GuildSettings, name, value string, loc *time.Location) error {
	s, ok := settingsTable[name]
	if !ok {
		return apperrors.NewValidationError("setting", "must be one of "+strings.Join(SettingNames(), ", "))
	}
	value = strings.TrimSpace(value)
	// channel mentions arrive as <#id>
	if name == "win_channel" {
		value = strings.TrimSuffix(strings.TrimPrefix(value, "<#"), ">")
	}
	if !s.valid(value) {
		return apperrors.NewValidationError(name, "must be "+s.format)
	}
	if err := s.apply(gs, value, loc); err != nil {
		return apperrors.NewValidationError(name, fmt.Sprintf("must be %s (%v)", s.format, err))
	}
	if gs.StartDate != nil && gs.EndDate != nil && !gs.StartDate.Before(*gs.EndDate) {
		return apperrors.NewValidationError(name, "start_date must be before end_date")
	}
	return nil
}
