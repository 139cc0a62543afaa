package catalog

import "github.com/questline/eventbus/pkg/eventbus/event"

// Service names as they appear in routing metadata.
const (
	ServiceUser         = "user-service"
	ServiceGamification = "gamification-service"
	ServiceNarrative    = "narrative-service"
	ServiceAdmin        = "admin-service"
	ServiceAnalytics    = "analytics-service"
	ServiceTelegram     = "telegram-adapter"
)

// platformRoutes is the static routing table. Analytics subscribes to nearly
// everything; admin events fan out to the services that must react to
// moderation decisions.
func platformRoutes() []Route {
	return []Route{
		{
			EventType:           event.KindUserRegistered.Type(),
			Category:            event.CategoryUser,
			PrimaryPublisher:    ServiceUser,
			SecondaryPublishers: []string{ServiceTelegram},
			Subscribers:         []string{ServiceGamification, ServiceNarrative, ServiceAnalytics},
			PrioritySubscribers: []string{ServiceGamification},
			RequiresPersistence: true,
			DeliveryGuarantee:   AtLeastOnce,
		},
		{
			EventType:         event.KindUserProfileUpdated.Type(),
			Category:          event.CategoryUser,
			PrimaryPublisher:  ServiceUser,
			Subscribers:       []string{ServiceAnalytics},
			DeliveryGuarantee: AtMostOnce,
		},
		{
			EventType:           event.KindPointsAwarded.Type(),
			Category:            event.CategoryGamification,
			PrimaryPublisher:    ServiceGamification,
			Subscribers:         []string{ServiceUser, ServiceNarrative, ServiceAnalytics},
			PrioritySubscribers: []string{ServiceUser},
			RequiresPersistence: true,
			DeliveryGuarantee:   AtLeastOnce,
		},
		{
			EventType:           event.KindAchievementUnlocked.Type(),
			Category:            event.CategoryGamification,
			PrimaryPublisher:    ServiceGamification,
			Subscribers:         []string{ServiceUser, ServiceAnalytics},
			RequiresPersistence: true,
			DeliveryGuarantee:   AtLeastOnce,
		},
		{
			EventType:         event.KindLevelReached.Type(),
			Category:          event.CategoryGamification,
			PrimaryPublisher:  ServiceGamification,
			Subscribers:       []string{ServiceNarrative, ServiceAnalytics},
			DeliveryGuarantee: AtLeastOnce,
		},
		{
			EventType:         event.KindStoryStarted.Type(),
			Category:          event.CategoryNarrative,
			PrimaryPublisher:  ServiceNarrative,
			Subscribers:       []string{ServiceGamification, ServiceAnalytics},
			DeliveryGuarantee: AtLeastOnce,
		},
		{
			EventType:           event.KindChapterCompleted.Type(),
			Category:            event.CategoryNarrative,
			PrimaryPublisher:    ServiceNarrative,
			Subscribers:         []string{ServiceGamification, ServiceUser, ServiceAnalytics},
			RequiresPersistence: true,
			DeliveryGuarantee:   AtLeastOnce,
		},
		{
			EventType:           event.KindUserBanned.Type(),
			Category:            event.CategoryAdmin,
			PrimaryPublisher:    ServiceAdmin,
			Subscribers:         []string{ServiceUser, ServiceGamification, ServiceNarrative, ServiceTelegram, ServiceAnalytics},
			PrioritySubscribers: []string{ServiceUser, ServiceTelegram},
			RequiresPersistence: true,
			DeliveryGuarantee:   ExactlyOnce,
		},
		{
			EventType:           event.KindUserUnbanned.Type(),
			Category:            event.CategoryAdmin,
			PrimaryPublisher:    ServiceAdmin,
			Subscribers:         []string{ServiceUser, ServiceTelegram, ServiceAnalytics},
			RequiresPersistence: true,
			DeliveryGuarantee:   ExactlyOnce,
		},
		{
			EventType:         event.KindAnalyticsTracked.Type(),
			Category:          event.CategorySystem,
			PrimaryPublisher:  ServiceAnalytics,
			Subscribers:       []string{ServiceAdmin},
			DeliveryGuarantee: AtMostOnce,
		},
		{
			EventType:           event.KindServiceStarted.Type(),
			Category:            event.CategoryCore,
			PrimaryPublisher:    ServiceUser,
			SecondaryPublishers: []string{ServiceGamification, ServiceNarrative, ServiceAdmin, ServiceAnalytics},
			Subscribers:         []string{ServiceAdmin, ServiceAnalytics},
			DeliveryGuarantee:   AtMostOnce,
		},
		{
			EventType:         event.KindExternalSyncCompleted.Type(),
			Category:          event.CategoryCore,
			PrimaryPublisher:  ServiceTelegram,
			Subscribers:       []string{ServiceUser, ServiceAnalytics},
			DeliveryGuarantee: AtLeastOnce,
		},
	}
}
