// Package catalog holds the static routing metadata for the platform's event
// types: who publishes each type, who subscribes to it, and what delivery
// guarantee it carries. The catalog is built once at process start and is
// read-only afterwards; the bus consults it for validation and introspection,
// never on the publish hot path.
package catalog

import (
	"sort"

	"github.com/questline/eventbus/pkg/eventbus/event"
)

// DeliveryGuarantee describes how hard the broker layer must try to deliver
// an event type.
type DeliveryGuarantee string

const (
	AtMostOnce  DeliveryGuarantee = "at_most_once"
	AtLeastOnce DeliveryGuarantee = "at_least_once"
	ExactlyOnce DeliveryGuarantee = "exactly_once"
)

// Route is the catalog entry for one event type. Routes are mutable only
// while the catalog is being built.
type Route struct {
	EventType           string
	Category            event.Category
	PrimaryPublisher    string
	SecondaryPublishers []string
	Subscribers         []string
	PrioritySubscribers []string
	RequiresPersistence bool
	DeliveryGuarantee   DeliveryGuarantee
}

// AllPublishers returns the primary publisher plus all secondary publishers.
func (r *Route) AllPublishers() []string {
	out := append([]string{r.PrimaryPublisher}, r.SecondaryPublishers...)
	sort.Strings(out)
	return out
}

// Critical reports whether the route needs persistence or exactly-once
// delivery.
func (r *Route) Critical() bool {
	return r.RequiresPersistence || r.DeliveryGuarantee == ExactlyOnce
}

// Dependencies summarizes a service's position in the routing graph.
type Dependencies struct {
	// PublishesTo lists services that subscribe to events this service publishes.
	PublishesTo []string
	// SubscribesFrom lists services that publish events this service subscribes to.
	SubscribesFrom []string
}

// RoutingReport is the result of ValidateRouting.
type RoutingReport struct {
	// MissingSubscribers lists critical event types with no subscribers.
	MissingSubscribers []string
	// CircularDependencies lists services whose publish targets intersect
	// their subscription sources. This is a shallow set-intersection
	// heuristic, not a graph cycle detector; it flags likely feedback loops
	// but makes no guarantee either way.
	CircularDependencies []string
	// OrphanedEvents lists event types with an empty subscriber set.
	OrphanedEvents []string
}

// Clean reports whether the routing passed every check.
func (r *RoutingReport) Clean() bool {
	return len(r.MissingSubscribers) == 0 &&
		len(r.CircularDependencies) == 0 &&
		len(r.OrphanedEvents) == 0
}

// Catalog answers routing questions about the platform's event types.
type Catalog struct {
	routes map[string]*Route
}

// New builds the catalog from the platform routing table. Building is
// idempotent and side-effect-free; each call returns an independent value.
func New() *Catalog {
	return FromRoutes(platformRoutes())
}

// FromRoutes builds a catalog from an explicit route list. Later routes with
// a duplicate event type replace earlier ones.
func FromRoutes(routes []Route) *Catalog {
	c := &Catalog{routes: make(map[string]*Route, len(routes))}
	for i := range routes {
		r := routes[i]
		c.routes[r.EventType] = &r
	}
	return c
}

// Route returns the route for an event type, or nil if unrouted.
func (c *Catalog) Route(eventType string) *Route {
	return c.routes[eventType]
}

// Publishers returns all services allowed to publish an event type.
func (c *Catalog) Publishers(eventType string) []string {
	r := c.routes[eventType]
	if r == nil {
		return nil
	}
	return r.AllPublishers()
}

// Subscribers returns all services subscribed to an event type.
func (c *Catalog) Subscribers(eventType string) []string {
	r := c.routes[eventType]
	if r == nil {
		return nil
	}
	out := append([]string(nil), r.Subscribers...)
	sort.Strings(out)
	return out
}

// PublishedBy returns the event types a service may publish.
func (c *Catalog) PublishedBy(service string) []string {
	var types []string
	for t, r := range c.routes {
		for _, p := range r.AllPublishers() {
			if p == service {
				types = append(types, t)
				break
			}
		}
	}
	sort.Strings(types)
	return types
}

// SubscribedBy returns the event types a service subscribes to.
func (c *Catalog) SubscribedBy(service string) []string {
	var types []string
	for t, r := range c.routes {
		for _, s := range r.Subscribers {
			if s == service {
				types = append(types, t)
				break
			}
		}
	}
	sort.Strings(types)
	return types
}

// ByCategory returns the event types in a category.
func (c *Catalog) ByCategory(cat event.Category) []string {
	var types []string
	for t, r := range c.routes {
		if r.Category == cat {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// CriticalEvents returns the event types that require persistence or
// exactly-once delivery.
func (c *Catalog) CriticalEvents() []string {
	var types []string
	for t, r := range c.routes {
		if r.Critical() {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// ServiceDependencies reports which services a service publishes to and
// subscribes from.
func (c *Catalog) ServiceDependencies(service string) Dependencies {
	publishesTo := make(map[string]struct{})
	subscribesFrom := make(map[string]struct{})

	for _, r := range c.routes {
		publishes := false
		for _, p := range r.AllPublishers() {
			if p == service {
				publishes = true
				break
			}
		}
		if publishes {
			for _, s := range r.Subscribers {
				if s != service {
					publishesTo[s] = struct{}{}
				}
			}
		}
		for _, s := range r.Subscribers {
			if s == service {
				for _, p := range r.AllPublishers() {
					if p != service {
						subscribesFrom[p] = struct{}{}
					}
				}
			}
		}
	}

	return Dependencies{
		PublishesTo:    sortedKeys(publishesTo),
		SubscribesFrom: sortedKeys(subscribesFrom),
	}
}

// ValidateRouting checks the routing table for orphaned events, critical
// events without subscribers, and likely circular service dependencies.
// See RoutingReport for the exact semantics of each bucket.
func (c *Catalog) ValidateRouting() RoutingReport {
	var report RoutingReport

	for t, r := range c.routes {
		if len(r.Subscribers) == 0 {
			report.OrphanedEvents = append(report.OrphanedEvents, t)
			if r.Critical() {
				report.MissingSubscribers = append(report.MissingSubscribers, t)
			}
		}
	}
	sort.Strings(report.OrphanedEvents)
	sort.Strings(report.MissingSubscribers)

	services := make(map[string]struct{})
	for _, r := range c.routes {
		for _, p := range r.AllPublishers() {
			services[p] = struct{}{}
		}
		for _, s := range r.Subscribers {
			services[s] = struct{}{}
		}
	}
	for _, svc := range sortedKeys(services) {
		deps := c.ServiceDependencies(svc)
		if intersects(deps.PublishesTo, deps.SubscribesFrom) {
			report.CircularDependencies = append(report.CircularDependencies, svc)
		}
	}

	return report
}

// RoutingTable returns a flat map describing every route, for external
// tooling and documentation generators.
func (c *Catalog) RoutingTable() map[string]map[string]any {
	table := make(map[string]map[string]any, len(c.routes))
	for t, r := range c.routes {
		table[t] = map[string]any{
			"category":             string(r.Category),
			"primary_publisher":    r.PrimaryPublisher,
			"publishers":           r.AllPublishers(),
			"subscribers":          c.Subscribers(t),
			"priority_subscribers": append([]string(nil), r.PrioritySubscribers...),
			"requires_persistence": r.RequiresPersistence,
			"delivery_guarantee":   string(r.DeliveryGuarantee),
			"critical":             r.Critical(),
		}
	}
	return table
}

// Types returns all routed event types.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.routes))
	for t := range c.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
