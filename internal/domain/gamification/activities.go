package gamification

// ActivityRule is the fixed coin reward for one activity kind.
type ActivityRule struct {
	Amount int64
	Reason string
}

var activityRules = map[SourceKind]ActivityRule{
	SourceTestCompletion:  {Amount: 10, Reason: "Test completed"},
	SourceClassAttendance: {Amount: 5, Reason: "Class attended"},
	SourceVideoCompletion: {Amount: 3, Reason: "Video completed"},
	SourceDailyLogin:      {Amount: 2, Reason: "Daily login bonus"},
	SourcePerfectScore:    {Amount: 20, Reason: "Perfect test score"},
	SourceStreakBonus:     {Amount: 15, Reason: "Learning streak bonus"},
}

// RuleFor returns the coin rule for an activity kind.
func RuleFor(kind SourceKind) (ActivityRule, bool) {
	rule, ok := activityRules[kind]
	return rule, ok
}
