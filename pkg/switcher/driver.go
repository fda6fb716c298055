package switcher

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// DriverFactory creates a driver writing into mem.
type DriverFactory func(mem *Memory, logger *slog.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a protocol driver available by name. Driver
// packages call it from init. It panics on duplicate or nil registration.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if factory == nil {
		panic("switcher: RegisterDriver factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("switcher: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = factory
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OpenDriver creates the named driver.
func OpenDriver(name string, mem *Memory, logger *slog.Logger) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("switcher: unknown driver %q (registered: %v)", name, Drivers())
	}
	return factory(mem, logger)
}
