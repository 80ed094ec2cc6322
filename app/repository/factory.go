package repository

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrNotInitialized is returned before InitializeRepositories ran.
var ErrNotInitialized = errors.New("fiscal repositories not initialized")

var (
	globalRepos *Repositories
	globalMu    sync.RWMutex
)

// InitializeRepositories builds the fiscal repositories on db and installs them
// as the process-wide set. Calling it again replaces the set, which is how
// tests point the process at a fresh database.
func InitializeRepositories(db *gorm.DB) (*Repositories, error) {
	if db == nil {
		return nil, errors.New("fiscal repositories need a database connection")
	}
	repos := NewRepositories(db)

	globalMu.Lock()
	globalRepos = repos
	globalMu.Unlock()
	return repos, nil
}

// GlobalRepositories returns the process-wide set.
func GlobalRepositories() (*Repositories, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalRepos == nil {
		return nil, ErrNotInitialized
	}
	return globalRepos, nil
}
