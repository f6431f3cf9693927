package container

// Initializer is honored after property injection and before the after-init
// interceptors, in addition to any init hook carried by the definition.
type Initializer interface {
	Init() error
}

// Disposable is honored during singleton destruction, in addition to any
// destroy hook carried by the definition. Destruction failures are logged,
// never raised.
type Disposable interface {
	Destroy() error
}

// SingletonsReady is called on every qualifying singleton once the eager
// instantiation pass over the whole graph has completed.
type SingletonsReady interface {
	SingletonsReady()
}

// Lifecycle components are started at the end of a successful Refresh and
// stopped during Close. Stop failures are logged, never raised.
type Lifecycle interface {
	Start() error
	Stop() error
}
