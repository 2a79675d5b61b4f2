package postgres

import (
	"context"
	"sync/atomic"
)

// Initialized reports whether the store has ever held an object for its
// repository. Once true it stays true without another round trip, since a
// repository's object count never decreases back to zero outside of purge.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM objectstore_object WHERE repository_id = $1 LIMIT 1);`

	if atomic.LoadUint32(&s.initialized) != 0 {
		return true, nil
	}

	var ok bool
	if err := s.pool.QueryRow(ctx, query, s.repositoryID).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	atomic.CompareAndSwapUint32(&s.initialized, 0, 1)
	return true, nil
}
