package ui

import (
	"html/template"
	"strings"
	"time"

	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
)

// Page is the data every page template receives
type Page struct {
	Name   string
	Title  string
	User   *auth.User
	Toasts []Toast
	Data   any
}

// Modal sizes
const (
	ModalSmall  = "small"
	ModalMedium = "medium"
	ModalLarge  = "large"
)

// Modal is a dialog with its own id. Body is plain text; Content is
// markup rendered from another partial. CancelLabel defaults to "Cancel"
// and Size to medium.
type Modal struct {
	ID            string
	Title         string
	Body          string
	Content       template.HTML
	ConfirmLabel  string
	ConfirmAction string
	CancelLabel   string
	Size          string
}

// Modal renders m
func (r *Renderer) Modal(m Modal) (template.HTML, error) {
	return r.Partial("modal", m)
}

// Toast stacking
const (
	toastTop     = 20
	toastSpacing = 80
)

// Toast is one visible notification
type Toast struct {
	ID         string
	Level      notification.Level
	Message    string
	DurationMS int64
	Offset     int
}

// Toasts stacks active notifications, oldest at the top
func Toasts(ns []notification.Notification) []Toast {
	out := make([]Toast, len(ns))
	for i, n := range ns {
		out[i] = Toast{
			ID:         n.ID,
			Level:      n.Level,
			Message:    n.Message,
			DurationMS: n.Duration.Milliseconds(),
			Offset:     toastTop + i*toastSpacing,
		}
	}
	return out
}

// Toasts renders the stack
func (r *Renderer) Toasts(ns []notification.Notification) (template.HTML, error) {
	return r.Partial("toasts", Toasts(ns))
}

// TimelineStep is one milestone on a request card
type TimelineStep struct {
	Label  string
	Done   bool
	Failed bool
	At     *time.Time
}

// TimelineCard is the request card with its progress bar
type TimelineCard struct {
	ID              string
	Version         int
	Status          domain.Status
	StatusClass     string
	BloodType       string
	Units           int
	HospitalName    string
	Emergency       bool
	Failed          bool
	Progress        int
	SubmittedAt     time.Time
	Steps           []TimelineStep
	RejectionReason string
	RejectionNotes  string
	CanCancel       bool
	CancelModal     Modal
}

// NewTimelineCard builds the card for req. cancellable adds the cancel
// control and its confirmation modal.
func NewTimelineCard(req *domain.Request, cancellable bool) TimelineCard {
	submitted := req.SubmittedAt
	card := TimelineCard{
		ID:           req.ID,
		Version:      req.Version,
		Status:       req.Status,
		StatusClass:  statusClass(string(req.Status)),
		BloodType:    string(req.BloodType),
		Units:        req.Units,
		HospitalName: req.AssignedHospitalName,
		Emergency:    req.IsEmergency(),
		Failed:       req.Failed(),
		Progress:     req.Progress(),
		SubmittedAt:  req.SubmittedAt,
		Steps: []TimelineStep{
			{Label: "Submitted", Done: true, At: &submitted},
			{Label: "Hospital review", Done: req.Status != domain.StatusPending},
		},
		RejectionNotes: req.RejectionNotes,
	}
	if req.RejectionReason != "" {
		card.RejectionReason = req.RejectionReason.Label()
	}

	switch req.Status {
	case domain.StatusRejected:
		card.Steps = append(card.Steps, TimelineStep{Label: "Rejected", Done: true, Failed: true, At: req.RejectedAt})
	case domain.StatusCancelled:
		card.Steps = append(card.Steps, TimelineStep{Label: "Cancelled", Done: true, Failed: true, At: req.CancelledAt})
	default:
		card.Steps = append(card.Steps,
			TimelineStep{Label: "Approved", Done: req.ApprovedAt != nil, At: req.ApprovedAt},
			TimelineStep{Label: "Completed", Done: req.CompletedAt != nil, At: req.CompletedAt},
		)
	}

	if cancellable && req.Status == domain.StatusPending {
		card.CanCancel = true
		card.CancelModal = Modal{
			ID:            "cancel-" + req.ID,
			Title:         "Cancel request " + req.ID,
			Body:          "The hospital will be told that this request is no longer needed.",
			ConfirmLabel:  "Cancel request",
			ConfirmAction: "/api/v1/requests/" + req.ID + "/cancel",
			CancelLabel:   "Keep request",
			Size:          ModalSmall,
		}
	}
	return card
}

// Timeline renders one request card
func (r *Renderer) Timeline(req *domain.Request) (template.HTML, error) {
	return r.Partial("timeline", NewTimelineCard(req, false))
}

// InventoryPanel is a hospital's stock cards
type InventoryPanel struct {
	HospitalID string
	Title      string
	Cards      []inventory.Card
}

// Inventory renders the stock cards
func (r *Renderer) Inventory(p InventoryPanel) (template.HTML, error) {
	return r.Partial("inventory", p)
}

// OfferList is a list of donation offers, one element per offer
type OfferList struct {
	Offers  []donation.Offer
	Actions bool
}

// Offers renders the offer list
func (r *Renderer) Offers(list OfferList) (template.HTML, error) {
	return r.Partial("offers", list)
}

// ReviewEntry is one unseen hospital notification with its decision modals
type ReviewEntry struct {
	notification.HospitalNotification
	DeliveryID   string
	Pending      bool
	ApproveModal Modal
	RejectModal  Modal
}

type rejectForm struct {
	RequestID string
	Reasons   []domain.RejectionReason
}

// ReviewEntries prepares the hospital review queue
func (r *Renderer) ReviewEntries(items []workflow.ReviewItem) ([]ReviewEntry, error) {
	out := make([]ReviewEntry, 0, len(items))
	for _, item := range items {
		e := ReviewEntry{HospitalNotification: item.Notification, DeliveryID: item.DeliveryID}
		if item.Request != nil && item.Request.Status == domain.StatusPending {
			id := item.Request.ID
			form, err := r.Partial("reject_form", rejectForm{RequestID: id, Reasons: domain.RejectionReasons()})
			if err != nil {
				return nil, err
			}
			e.Pending = true
			e.ApproveModal = Modal{
				ID:            "approve-" + id,
				Title:         "Approve " + id,
				Body:          "Confirm that the requested units can be provided.",
				ConfirmLabel:  "Approve",
				ConfirmAction: "/api/v1/requests/" + id + "/approve",
				Size:          ModalSmall,
			}
			e.RejectModal = Modal{
				ID:            "reject-" + id,
				Title:         "Reject " + id,
				Content:       form,
				ConfirmLabel:  "Reject",
				ConfirmAction: "/api/v1/requests/" + id + "/reject",
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Review renders the review queue with its modals
func (r *Renderer) Review(items []workflow.ReviewItem) (template.HTML, error) {
	entries, err := r.ReviewEntries(items)
	if err != nil {
		return "", err
	}
	return r.Partial("review", entries)
}

func statusClass(s string) string {
	return strings.ToLower(s)
}
