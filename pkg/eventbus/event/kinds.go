package event

import "fmt"

// Kind is one variant of the closed set of event types the platform emits.
// A Kind fixes the event type string, category, class, and priority, and may
// carry domain-specific payload checks that run on every construction
// regardless of the validation level.
type Kind struct {
	name     string
	category Category
	class    Class
	priority Priority
	check    func(payload map[string]any) []string
}

// Type returns the dot-namespaced event type.
func (k Kind) Type() string { return k.name }

// Category returns the owning domain category.
func (k Kind) Category() Category { return k.category }

// Class returns the event class (domain, system, or integration).
func (k Kind) Class() Class { return k.class }

// Priority returns the delivery priority for this kind.
func (k Kind) Priority() Priority { return k.priority }

// IsZero reports whether the kind is the zero value.
func (k Kind) IsZero() bool { return k.name == "" }

// checkPayload runs the kind's domain checks, returning problem strings.
func (k Kind) checkPayload(payload map[string]any) []string {
	if k.check == nil {
		return nil
	}
	return k.check(payload)
}

// The platform's event kinds. Priorities follow the moderation weight of the
// event: bans are critical, analytics are low, everything else is normal.
var (
	KindUserRegistered = Kind{
		name:     "user.registered",
		category: CategoryUser,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindUserProfileUpdated = Kind{
		name:     "user.profile_updated",
		category: CategoryUser,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindPointsAwarded = Kind{
		name:     "gamification.points_awarded",
		category: CategoryGamification,
		class:    ClassDomain,
		priority: PriorityNormal,
		check:    checkPoints,
	}

	KindAchievementUnlocked = Kind{
		name:     "gamification.achievement_unlocked",
		category: CategoryGamification,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindLevelReached = Kind{
		name:     "gamification.level_reached",
		category: CategoryGamification,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindStoryStarted = Kind{
		name:     "narrative.story_started",
		category: CategoryNarrative,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindChapterCompleted = Kind{
		name:     "narrative.chapter_completed",
		category: CategoryNarrative,
		class:    ClassDomain,
		priority: PriorityNormal,
	}

	KindUserBanned = Kind{
		name:     "admin.user_banned",
		category: CategoryAdmin,
		class:    ClassDomain,
		priority: PriorityCritical,
		check:    checkBanType,
	}

	KindUserUnbanned = Kind{
		name:     "admin.user_unbanned",
		category: CategoryAdmin,
		class:    ClassDomain,
		priority: PriorityHigh,
	}

	KindAnalyticsTracked = Kind{
		name:     "system.analytics_tracked",
		category: CategorySystem,
		class:    ClassSystem,
		priority: PriorityLow,
	}

	KindServiceStarted = Kind{
		name:     "core.service_started",
		category: CategoryCore,
		class:    ClassSystem,
		priority: PriorityNormal,
	}

	KindExternalSyncCompleted = Kind{
		name:     "core.external_sync_completed",
		category: CategoryCore,
		class:    ClassIntegration,
		priority: PriorityNormal,
	}
)

var kinds = map[string]Kind{}

func init() {
	for _, k := range []Kind{
		KindUserRegistered,
		KindUserProfileUpdated,
		KindPointsAwarded,
		KindAchievementUnlocked,
		KindLevelReached,
		KindStoryStarted,
		KindChapterCompleted,
		KindUserBanned,
		KindUserUnbanned,
		KindAnalyticsTracked,
		KindServiceStarted,
		KindExternalSyncCompleted,
	} {
		kinds[k.name] = k
	}
}

// KindOf returns the registered kind for an event type.
func KindOf(eventType string) (Kind, bool) {
	k, ok := kinds[eventType]
	return k, ok
}

// Kinds returns all registered event types.
func Kinds() []string {
	types := make([]string, 0, len(kinds))
	for t := range kinds {
		types = append(types, t)
	}
	return types
}

// syntheticKind builds a kind for envelopes decoded off the wire whose type
// is not registered locally. It preserves the wire category and priority and
// carries no domain checks.
func syntheticKind(eventType string, category Category, priority Priority) Kind {
	return Kind{
		name:     eventType,
		category: category,
		class:    ClassSystem,
		priority: priority,
	}
}

func checkBanType(payload map[string]any) []string {
	v, ok := payload["ban_type"]
	if !ok {
		return []string{"ban_type is required"}
	}
	s, ok := v.(string)
	if !ok {
		return []string{fmt.Sprintf("ban_type must be a string, got %T", v)}
	}
	switch s {
	case "temporary", "permanent", "shadow":
		return nil
	}
	return []string{fmt.Sprintf("ban_type must be one of temporary, permanent, shadow; got %q", s)}
}

func checkPoints(payload map[string]any) []string {
	v, ok := payload["points"]
	if !ok {
		return []string{"points is required"}
	}
	var points float64
	switch n := v.(type) {
	case int:
		points = float64(n)
	case int64:
		points = float64(n)
	case float64:
		points = n
	default:
		return []string{fmt.Sprintf("points must be numeric, got %T", v)}
	}
	if points <= 0 {
		return []string{fmt.Sprintf("points must be positive, got %v", points)}
	}
	return nil
}
