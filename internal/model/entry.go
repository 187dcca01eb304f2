package model

// Label keys shared with the account-provisioning side. Sources only write
// the keys they know about.
const (
	LabelMigrationSource = "migration_source"
	LabelPlayerName      = "player_name"
)

// Entry is one migrated balance. Sources build it once and hand it off;
// consumers must treat it as read-only.
type Entry struct {
	Amount int64
	Labels map[string]string
}

// NewEntry creates an Entry with its own copy of labels.
func NewEntry(amount int64, labels map[string]string) Entry {
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return Entry{Amount: amount, Labels: copied}
}

// Label returns the value for key, or "" when absent.
func (e Entry) Label(key string) string {
	return e.Labels[key]
}
