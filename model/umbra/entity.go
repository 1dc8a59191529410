package umbra

// Entity defines how an entity is identified within the pipeline. Two
// entities with the same ID are considered semantically identical even
// if ephemeral fields (arrival metadata, caches) differ.
type Entity interface {

	// ID returns a unique id for this entity using a hash of the
	// immutable fields of the entity.
	ID() Identifier

	// Checksum returns a unique checksum for the entity, including the
	// mutable data such as arrival metadata.
	Checksum() Identifier
}
