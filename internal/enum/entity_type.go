package enum

type EntityType string

const (
	ACCOUNT EntityType = "ACCOUNT"
	USER    EntityType = "USER"
)

func (entityType EntityType) String() string {
	return string(entityType)
}
