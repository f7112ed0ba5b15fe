package ledger

import (
	"sync"

	"github.com/linchiayu/moneta/internal/models"
)

// Watch is the live read surface: fn receives the current filtered result
// set immediately, then again after every committed store change, with no
// polling by the caller. Emissions are serialized; a slow consumer delays
// later emissions rather than racing them.
//
// The returned function cancels the watch and is safe to call repeatedly.
func (s *Service) Watch(f Filter, fn func([]*models.Transaction)) func() {
	var mu sync.Mutex

	emit := func() {
		items, err := s.repo.QueryActiveTransactions(f.Match)
		if err != nil {
			s.logger.Error("live query failed", err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fn(items)
	}

	emit()
	return s.repo.Watch(emit)
}
