package door

// EntityID is the compound key of a durable entity.
type EntityID struct {
	// Kind is the entity type, e.g. "GarageDoor".
	Kind string
	// Name is the entity instance, e.g. "Status".
	Name string
}

// String renders the key as kind/name.
func (id EntityID) String() string {
	return id.Kind + "/" + id.Name
}

// InstancePointer is the sibling entity that remembers the last monitoring
// instance started for this sensor.
func (id EntityID) InstancePointer() EntityID {
	return EntityID{
		Kind: id.Kind,
		Name: id.Name + ".instance",
	}
}
