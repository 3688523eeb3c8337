// Package gamify implements the agent scoring engine: XP, levels, daily
// streaks, and badges. All functions are pure; the caller persists the
// resulting stats.
package gamify

import "time"

// DefaultAward is the XP granted per completed task unless overridden.
const DefaultAward = 10

// Stats is the gamification slice of an agent record.
type Stats struct {
	XP             int
	Level          int
	TotalTasksDone int
	CurrentStreak  int
	LongestStreak  int
	Badges         []string
	LastTaskAt     *time.Time
}

// LevelFor returns the level for a given XP total. Levels advance every
// 100 XP; level 1 starts at 0.
func LevelFor(xp int) int {
	return xp/100 + 1
}

// Apply computes the stats resulting from one task completion at the given
// time. Streak comparisons use UTC calendar dates so results do not depend
// on the server's timezone. The input is not modified.
func Apply(cur Stats, award int, now time.Time) Stats {
	now = now.UTC()
	next := cur
	next.Badges = append([]string(nil), cur.Badges...)

	today := now.Format(time.DateOnly)
	yesterday := now.AddDate(0, 0, -1).Format(time.DateOnly)
	lastDay := ""
	if cur.LastTaskAt != nil {
		lastDay = cur.LastTaskAt.UTC().Format(time.DateOnly)
	}
	switch lastDay {
	case today:
		// Repeat completion on the same day; streak already counted.
	case yesterday:
		next.CurrentStreak = cur.CurrentStreak + 1
	default:
		next.CurrentStreak = 1
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}

	next.XP = cur.XP + award
	next.Level = LevelFor(next.XP)
	next.TotalTasksDone = cur.TotalTasksDone + 1
	t := now
	next.LastTaskAt = &t

	next.Badges = awardBadges(next.Badges, next, now)
	return next
}
