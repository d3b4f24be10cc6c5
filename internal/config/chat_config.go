package config

import "time"

const (
	// Ephemeral TTLs
	PresenceTTL       = 5 * time.Minute
	RoomMembershipTTL = time.Hour
	TypingSetTTL      = 10 * time.Second
	TypingEntryTTL    = 5 * time.Second

	// Message validation
	MaxMessageLength    = 5000
	MaxFileDescription  = 500
	RecentHistoryOnJoin = 50

	// Rate limiting
	RateLimitWindow    = 60 * time.Second
	SendMessageLimit   = 30
	JoinLimit          = 20
	TypingLimit        = 60
	MarkReadLimit      = 30
	HistoryLimit       = 30
	UnreadLimit        = 30
	BurstThreshold     = 10
	MinRequestInterval = 500 * time.Millisecond

	// Cleanup & archival
	SweepCron         = "*/30 * * * *"
	DailyCleanupCron  = "0 3 * * *"
	ArchiveCron       = "0 4 * * 0"
	CompletedMaxAge   = 30 * 24 * time.Hour
	CancelledMaxAge   = 7 * 24 * time.Hour
	ArchiveRetention  = 180 * 24 * time.Hour
	CompletedGraceTTL = 24 * time.Hour
)
