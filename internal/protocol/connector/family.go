package connector

import (
	"fmt"
	"sync"
)

// Family is the idx/val pair identifying a connector payload family.
type Family struct {
	Idx uint32
	Val uint32
}

func (f Family) String() string {
	return fmt.Sprintf("%#x:%#x", f.Idx, f.Val)
}

var (
	mu       sync.RWMutex
	registry = map[string]Family{}
)

// Register records a payload family under name. Registering the same name again
// replaces the previous pair.
func Register(name string, f Family) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Lookup returns the registered name of f.
func Lookup(f Family) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	for name, known := range registry {
		if known == f {
			return name, true
		}
	}
	return "", false
}

// Families returns a copy of the registration table.
func Families() map[string]Family {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]Family, len(registry))
	for name, f := range registry {
		out[name] = f
	}
	return out
}
