package courier

import "github.com/xraph/courier/internal/entity"

// Entity is the base type embedded by message records and broker descriptors.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}
