package gamify

import "time"

// Badge identifiers. Badges are permanent: once earned they are never
// removed from an agent's set.
const (
	BadgeFirstTask        = "first-task"
	BadgeTenTasks         = "ten-tasks"
	BadgeFiftyTasks       = "fifty-tasks"
	BadgeHundredTasks     = "hundred-tasks"
	BadgeFiveHundredTasks = "five-hundred-tasks"
	BadgeLevel5           = "level-5"
	BadgeLevel10          = "level-10"
	BadgeLevel25          = "level-25"
	BadgeWeekStreak       = "week-streak"
	BadgeMonthStreak      = "month-streak"
	BadgeNightOwl         = "night-owl"
	BadgeEarlyBird        = "early-bird"
)

var taskCountBadges = []struct {
	count int
	badge string
}{
	{1, BadgeFirstTask},
	{10, BadgeTenTasks},
	{50, BadgeFiftyTasks},
	{100, BadgeHundredTasks},
	{500, BadgeFiveHundredTasks},
}

var levelBadges = []struct {
	level int
	badge string
}{
	{5, BadgeLevel5},
	{10, BadgeLevel10},
	{25, BadgeLevel25},
}

// awardBadges returns existing plus any badges whose thresholds the updated
// stats now meet. Thresholds are evaluated against the post-update counters.
func awardBadges(existing []string, s Stats, now time.Time) []string {
	badges := existing
	add := func(b string) {
		for _, have := range badges {
			if have == b {
				return
			}
		}
		badges = append(badges, b)
	}

	for _, tb := range taskCountBadges {
		if s.TotalTasksDone >= tb.count {
			add(tb.badge)
		}
	}
	for _, lb := range levelBadges {
		if s.Level >= lb.level {
			add(lb.badge)
		}
	}
	if s.CurrentStreak >= 7 {
		add(BadgeWeekStreak)
	}
	if s.CurrentStreak >= 30 {
		add(BadgeMonthStreak)
	}

	// Time-of-day badges use the UTC completion hour. The ranges overlap:
	// any completion before 05:00 earns both night-owl and early-bird.
	// Kept as-is from the dashboard's original scoring rules.
	hour := now.UTC().Hour()
	if hour < 5 {
		add(BadgeNightOwl)
	}
	if hour < 6 {
		add(BadgeEarlyBird)
	}
	return badges
}
