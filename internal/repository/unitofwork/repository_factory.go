package unitofwork

import "context"

// RepositoryFactory hands out short-lived units of work bound to a request.
type RepositoryFactory interface {
	NewUnitOfWork(ctx context.Context) UnitOfWork
}
