package cache

// DefaultPrefix namespaces every entry in the underlying store.
const DefaultPrefix = "diarai_cache_"

// Key is the logical name of a cached collection.
type Key string

// Keys of the CRM collections.
const (
	KeyCampaigns Key = "campaigns"
	KeyLeads     Key = "leads"
	KeyDeals     Key = "deals"
	KeyTasks     Key = "tasks"
)

// AllKeys returns the keys of the CRM collections.
func AllKeys() []Key {
	return []Key{KeyCampaigns, KeyLeads, KeyDeals, KeyTasks}
}

// String returns the logical key.
func (k Key) String() string {
	return string(k)
}

// StorageKey returns the key under which k is persisted.
//
// Example:
//
//	KeyLeads.StorageKey(DefaultPrefix) == "diarai_cache_leads"
func (k Key) StorageKey(prefix string) string {
	return prefix + string(k)
}
