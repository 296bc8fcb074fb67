package storage

import "github.com/calvinalkan/usbstore/internal/engine"

// handle is one slot of the open-file table. Slots are reclaimed by index
// and zeroed, never shared.
type handle struct {
	name string
	file engine.File
	open bool
}

// find returns the slot holding name, or -1.
func (s *Store) find(name string) int {
	for i := range s.handles {
		if s.handles[i].open && s.handles[i].name == name {
			return i
		}
	}

	return -1
}

// free returns the first unoccupied slot, or -1 when the table is full.
func (s *Store) free() int {
	for i := range s.handles {
		if !s.handles[i].open {
			return i
		}
	}

	return -1
}

// release closes the file in slot i and reclaims the slot whatever Close
// reports.
func (s *Store) release(i int) error {
	h := s.handles[i]
	s.handles[i] = handle{}

	return h.file.Close()
}

// OpenFiles lists the names of occupied slots in slot order.
func (s *Store) OpenFiles() []string {
	var names []string

	for _, h := range s.handles {
		if h.open {
			names = append(names, h.name)
		}
	}

	return names
}

// Capacity returns the size of the handle table.
func (s *Store) Capacity() int {
	return len(s.handles)
}
