package notification

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// HospitalNotificationType names the hospital queue entry kinds
type HospitalNotificationType string

const (
	HospitalNewRequest       HospitalNotificationType = "new_request"
	HospitalRequestCancelled HospitalNotificationType = "request_cancelled"
	HospitalDonationOffer    HospitalNotificationType = "donation_offer"
)

// HospitalNotification mirrors a request into the hospital's review queue
type HospitalNotification struct {
	Type           HospitalNotificationType `json:"type"`
	RequestID      string                   `json:"request_id"`
	PatientName    string                   `json:"patient_name"`
	BloodType      string                   `json:"blood_type"`
	Units          int                      `json:"units"`
	Priority       string                   `json:"priority"`
	EmergencyLevel string                   `json:"emergency_level"`
	HospitalID     types.ID                 `json:"hospital_id"`
	Timestamp      time.Time                `json:"timestamp"`

	// Donation offer entries carry the offer instead of a request
	OfferID   string `json:"offer_id,omitempty"`
	DonorName string `json:"donor_name,omitempty"`
}

// Delivery is a queued entry handed to a consumer. ID is used to Ack.
type Delivery struct {
	ID           string               `json:"id"`
	Notification HospitalNotification `json:"notification"`
}

// HospitalQueue is the append-only per-hospital review queue. Entries are
// delivered at least once: an entry read but never acknowledged is handed
// out again on the next Pending call.
type HospitalQueue interface {
	Enqueue(ctx context.Context, n HospitalNotification) (string, error)
	Pending(ctx context.Context, hospitalID types.ID, consumer string, count int) ([]Delivery, error)
	Ack(ctx context.Context, hospitalID types.ID, deliveryIDs ...string) error
}

type memoryEntry struct {
	id    string
	n     HospitalNotification
	acked bool
}

// MemoryQueue is the in-process HospitalQueue
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int64
	entries map[types.ID][]*memoryEntry
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[types.ID][]*memoryEntry)}
}

// Enqueue appends n to its hospital's queue
func (q *MemoryQueue) Enqueue(ctx context.Context, n HospitalNotification) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	id := strconv.FormatInt(q.seq, 10)
	q.entries[n.HospitalID] = append(q.entries[n.HospitalID], &memoryEntry{id: id, n: n})
	return id, nil
}

// Pending returns up to count unacknowledged entries, oldest first
func (q *MemoryQueue) Pending(ctx context.Context, hospitalID types.ID, consumer string, count int) ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Delivery
	for _, e := range q.entries[hospitalID] {
		if e.acked {
			continue
		}
		out = append(out, Delivery{ID: e.id, Notification: e.n})
		if count > 0 && len(out) == count {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Notification.Timestamp.Before(out[j].Notification.Timestamp) })
	return out, nil
}

// Ack marks entries as processed. Unknown ids are ignored.
func (q *MemoryQueue) Ack(ctx context.Context, hospitalID types.ID, deliveryIDs ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make(map[string]bool, len(deliveryIDs))
	for _, id := range deliveryIDs {
		ids[id] = true
	}
	for _, e := range q.entries[hospitalID] {
		if ids[e.id] {
			e.acked = true
		}
	}
	return nil
}

var _ HospitalQueue = (*MemoryQueue)(nil)
