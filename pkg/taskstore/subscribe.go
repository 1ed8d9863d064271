package taskstore

import "sync"

// Subscribe returns a channel that receives a snapshot after every
// confirmed change, starting with the current state. A subscriber that
// falls behind skips intermediate snapshots but always gets the latest one.
// The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Tasks:   cloneTasks(s.tasks),
		Err:     s.lastErr,
		Version: s.version,
	}
}

// publishLocked bumps the version and hands a snapshot to every subscriber
// without blocking. s.mu must be held for writing.
func (s *Store) publishLocked() {
	s.version++
	for _, ch := range s.subs {
		snap := s.snapshotLocked()
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
