package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule reduced to a cron expression or a fixed interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// CronSpec returns the spec robfig/cron understands.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var errEmptySchedule = errors.New("schedule required")

// ParseSchedule accepts:
//
//	cron:<expr>     any robfig/cron expression, e.g. "cron:0 3 * * *"
//	every:<iv>      fixed interval; interval:<iv> is an alias
//	daily:HH:MM     once a day at HH:MM in the scheduler timezone
//	<expr>          a bare value with spaces or a leading '@' is cron
//	<iv>            a bare interval
//
// An interval is a Go duration ("55m", "2h30m") or H:MM ("02:30" is two and
// a half hours).
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errEmptySchedule
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(prefix) {
		case "cron":
			if rest == "" {
				return ParsedSpec{}, errEmptySchedule
			}
			return ParsedSpec{Kind: SpecCron, Cron: rest}, nil
		case "every", "interval":
			d, err := parseInterval(rest)
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d}, nil
		case "daily":
			h, m, err := splitClock(rest)
			if err != nil || h > 23 {
				return ParsedSpec{}, fmt.Errorf("daily: want HH:MM between 00:00 and 23:59, got %q", rest)
			}
			return ParsedSpec{Kind: SpecCron, Cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	d, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q: want a cron expression, H:MM or a duration like 55m", raw)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("interval required")
	}
	var d time.Duration
	if h, m, err := splitClock(v); err == nil {
		d = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	} else if d, err = time.ParseDuration(v); err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}

// splitClock reads H:MM with up to three hour digits and minutes 00-59.
func splitClock(v string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(hs) == 0 || len(hs) > 3 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, 0, fmt.Errorf("invalid clock %q", v)
	}
	hour, _ = strconv.Atoi(hs)
	minute, _ = strconv.Atoi(ms)
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return hour, minute, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
