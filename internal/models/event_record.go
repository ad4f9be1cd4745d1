package models

// EventStatus is the lifecycle state reported by an ECS event notification.
type EventStatus string

const (
	EventCreated   EventStatus = "created"
	EventUpdated   EventStatus = "updated"
	EventDestroyed EventStatus = "destroyed"
)

// EventRecord is one row of the durable receive queue. Rows coalesce per
// resource: at most one pending row exists for a (server, type, resource)
// triple and its status always reflects the most recent notification.
type EventRecord struct {
	BaseModel

	ServerID     string      `gorm:"not null;uniqueIndex:idx_event_resource" json:"server_id"`
	ResourceType string      `gorm:"not null;uniqueIndex:idx_event_resource" json:"resource_type"`
	ResourceID   int64       `gorm:"not null;uniqueIndex:idx_event_resource" json:"resource_id"`
	Status       EventStatus `gorm:"not null" json:"status"`
}
