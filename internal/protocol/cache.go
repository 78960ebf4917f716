package protocol

// Cache is the derived-value cache behind cached and async methods.
//
// Entries are keyed by the dispatch target (instance or *Type) and the
// method's Token. The cache owns invalidation; the registry only reads and
// fills it.
type Cache interface {
	Get(obj any, token Token) (any, bool)
	Invalidate(obj any, token Token)
	ComputeAndStore(obj any, token Token, compute func() any) any
}
