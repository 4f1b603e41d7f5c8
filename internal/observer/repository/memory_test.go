package repository_test

import (
	"testing"

	"github.com/jmerrifield20/digaas/internal/observer/repository"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) store { return repository.NewMemoryStore() })
}
