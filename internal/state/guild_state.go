package state

import (
	"time"

	"github.com/Slipstreamm/openguard/pkg/util"
)

// WindowCounts is the window state the decision engine reads for one event.
type WindowCounts struct {
	Spam Observation
	Raid Observation
}

// GuildState is the per-guild arena owned by exactly one guild worker. It is
// dropped with the worker when the guild goes idle or is removed.
type GuildState struct {
	GuildID util.Snowflake
	Spam    *Tracker
	Raid    *Tracker
}

func NewGuildState(guildID util.Snowflake, maxSubjects int) *GuildState {
	return &GuildState{
		GuildID: guildID,
		Spam:    NewTracker(maxSubjects, 256),
		// the guild itself is the only raid subject
		Raid: NewTracker(1, 1024),
	}
}

func (g *GuildState) ObserveMessage(userID util.Snowflake, at time.Time, horizon time.Duration, threshold int) Observation {
	return g.Spam.Observe(userID, at, horizon, threshold)
}

func (g *GuildState) ObserveJoin(at time.Time, horizon time.Duration, threshold int) Observation {
	return g.Raid.Observe(g.GuildID, at, horizon, threshold)
}

func (g *GuildState) LatchSpam(userID util.Snowflake) {
	g.Spam.Latch(userID)
}

func (g *GuildState) LatchRaid() {
	g.Raid.Latch(g.GuildID)
}

// Sweep evicts idle subjects from every tracker.
func (g *GuildState) Sweep(now time.Time) int {
	return g.Spam.Sweep(now) + g.Raid.Sweep(now)
}

func (g *GuildState) Subjects() int {
	return g.Spam.Len() + g.Raid.Len()
}
