package notifier

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tapgate/tapgate/internal/core/ports"
)

const defaultBufferSize = 64

// Notifier fans settlement notices out to in-process subscribers. Delivery is
// best effort: a slow subscriber drops notices rather than stalling the
// settlement path.
type Notifier struct {
	lock   sync.Mutex
	subs   []chan ports.SettlementNotice
	closed bool
}

func NewService() *Notifier {
	return &Notifier{}
}

func (s *Notifier) NotifySettlement(ctx context.Context, notice ports.SettlementNotice) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return fmt.Errorf("notifier is closed")
	}

	for _, sub := range s.subs {
		select {
		case sub <- notice:
		default:
			log.Warnf(
				"subscriber queue full, dropped %s notice for user %s",
				notice.TxType, notice.UserId,
			)
		}
	}
	return nil
}

// Subscribe returns a channel receiving every future settlement notice. The
// channel is closed when the notifier stops.
func (s *Notifier) Subscribe() <-chan ports.SettlementNotice {
	s.lock.Lock()
	defer s.lock.Unlock()
	sub := make(chan ports.SettlementNotice, defaultBufferSize)
	s.subs = append(s.subs, sub)
	return sub
}

func (s *Notifier) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
}
