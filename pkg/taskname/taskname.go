package taskname

const (
	// Referral tasks
	ReferralCreated   = "referral:created"
	ReferralConverted = "referral:converted"

	// Reward tasks
	RewardCreated       = "reward:created"
	RewardStatusChanged = "reward:status:changed"

	// Participant tasks
	ParticipantDeactivated = "participant:deactivated"
)
