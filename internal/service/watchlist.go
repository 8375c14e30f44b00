package service

import (
	"slices"
	"sync"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
)

const (
	maxWatchedPatients   = 50
	maxWatchedRequesters = 100
)

// Watchlist remembers which patients a principal has worked with in this process and which
// providers asked about each patient. The contract has no enumeration functions, so the
// dashboards are built from it. Each list keeps its most recently touched entries.
type Watchlist struct {
	mu         sync.RWMutex
	patients   map[domain.Principal][]string
	requesters map[string][]domain.Principal
}

func NewWatchlist() *Watchlist {
	return &Watchlist{
		patients:   make(map[domain.Principal][]string),
		requesters: make(map[string][]domain.Principal),
	}
}

func (w *Watchlist) AddPatient(p domain.Principal, patientID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patients[p] = touch(w.patients[p], patientID, maxWatchedPatients)
}

func (w *Watchlist) AddRequester(patientID string, p domain.Principal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requesters[patientID] = touch(w.requesters[patientID], p, maxWatchedRequesters)
}

// touch moves v to the end of list, evicting the oldest entries beyond limit.
func touch[T comparable](list []T, v T, limit int) []T {
	if i := slices.Index(list, v); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	list = append(list, v)
	if len(list) > limit {
		list = slices.Delete(list, 0, len(list)-limit)
	}
	return list
}

func (w *Watchlist) Patients(p domain.Principal) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.patients[p])
}

func (w *Watchlist) Requesters(patientID string) []domain.Principal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.requesters[patientID])
}
