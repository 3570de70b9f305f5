package shared

// EnvStore is the user-level persistent environment (HKCU\Environment on Windows).
// Get returns domain.ErrNotFound when name is not set.
type EnvStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Remove(name string) error
}
