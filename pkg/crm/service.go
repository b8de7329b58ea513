// Package crm exposes the CRM collections (campaigns, leads, deals and
// tasks) with cached loading and write-through invalidation.
package crm

import (
	"context"
	"sort"

	"github.com/diarai/diar-crm-client/pkg/cache"
	"github.com/diarai/diar-crm-client/pkg/client"
	"github.com/diarai/diar-crm-client/pkg/loader"
)

// Collection is a cached collection served without knowing its item type.
type Collection interface {
	Name() string
	Key() cache.Key
	LoadAny(ctx context.Context, useCache bool) (loader.Result[any], error)
	Warm(ctx context.Context) error
	Wait()
	Stop()
}

// Service wires one resource per CRM collection.
type Service struct {
	client    *client.Client
	cache     *cache.Manager
	campaigns *Resource[Campaign]
	leads     *Resource[Lead]
	deals     *Resource[Deal]
	tasks     *Resource[Task]
	byName    map[string]Collection
}

// NewService creates the CRM service. opts apply to every collection loader.
func NewService(c *client.Client, m *cache.Manager, opts ...loader.Option) *Service {
	s := &Service{
		client:    c,
		cache:     m,
		campaigns: NewResource[Campaign]("campaigns", cache.KeyCampaigns, c, m, opts...),
		leads:     NewResource[Lead]("leads", cache.KeyLeads, c, m, opts...),
		deals:     NewResource[Deal]("deals", cache.KeyDeals, c, m, opts...),
		tasks:     NewResource[Task]("tasks", cache.KeyTasks, c, m, opts...),
	}

	s.byName = make(map[string]Collection)
	for _, col := range s.collections() {
		s.byName[col.Name()] = col
	}
	return s
}

func (s *Service) collections() []Collection {
	return []Collection{s.campaigns, s.leads, s.deals, s.tasks}
}

// Campaigns returns the campaigns resource.
func (s *Service) Campaigns() *Resource[Campaign] { return s.campaigns }

// Leads returns the leads resource.
func (s *Service) Leads() *Resource[Lead] { return s.leads }

// Deals returns the deals resource.
func (s *Service) Deals() *Resource[Deal] { return s.deals }

// Tasks returns the tasks resource.
func (s *Service) Tasks() *Resource[Task] { return s.tasks }

// Collection looks a collection up by name.
func (s *Service) Collection(name string) (Collection, bool) {
	col, ok := s.byName[name]
	return col, ok
}

// CollectionNames returns the collection names in sorted order.
func (s *Service) CollectionNames() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats fetches the CRM summary. It is not cached.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return client.Request[Stats](ctx, s.client, "/api/crm/stats", client.Options{})
}

// Warm primes every collection concurrently.
func (s *Service) Warm(ctx context.Context) error {
	warmers := make([]loader.Warmer, 0, len(s.byName))
	for _, col := range s.collections() {
		warmers = append(warmers, col)
	}
	return loader.Warm(ctx, warmers...)
}

// Wait blocks until every background refresh finishes.
func (s *Service) Wait() {
	for _, col := range s.collections() {
		col.Wait()
	}
}

// Stop ends background refreshes of every collection and waits for the
// running ones. Loads still work afterwards.
func (s *Service) Stop() {
	for _, col := range s.collections() {
		col.Stop()
	}
}

// ClearCache drops every cached collection, for example on sign-out.
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.ClearAll(ctx)
}
