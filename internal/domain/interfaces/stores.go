package interfaces

// StateStore is a small string key-value store. Implementations are either
// durable across sessions or scoped to the current session.
type StateStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}
