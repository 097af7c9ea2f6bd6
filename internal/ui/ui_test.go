package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/auth"
)

func TestNew_ParsesEveryPage(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	for _, name := range []string{"index", "contact", "request_blood", "dashboard_donor", "dashboard_patient", "dashboard_hospital", "admin_users"} {
		if _, ok := r.pages[name]; !ok {
			t.Errorf("Expected page %s to be parsed", name)
		}
	}
}

func TestPage_Unknown(t *testing.T) {
	r := MustNew()
	err := r.Page(&bytes.Buffer{}, Page{Name: "missing"})
	assert.Error(t, err)
}

func TestModal_Defaults(t *testing.T) {
	r := MustNew()

	out, err := r.Modal(Modal{ID: "confirm-1", Title: "Sure?", Body: "Really"})
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, `id="confirm-1"`)
	assert.Contains(t, s, "modal-medium")
	assert.Contains(t, s, ">Cancel<")
	assert.Contains(t, s, `data-fade-ms="300"`)
	assert.NotContains(t, s, "modal-confirm", "no confirm button without a label")

	out, err = r.Modal(Modal{ID: "m2", Title: "x", ConfirmLabel: "Go", ConfirmAction: "/api/v1/x", CancelLabel: "Back", Size: ModalLarge})
	require.NoError(t, err)
	s = string(out)
	assert.Contains(t, s, "modal-large")
	assert.Contains(t, s, ">Back<")
	assert.Contains(t, s, `data-action="/api/v1/x"`)
}

func TestModal_EscapesBody(t *testing.T) {
	out, err := MustNew().Modal(Modal{ID: "m", Body: "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>")
}

func TestToasts_Stack(t *testing.T) {
	ns := []notification.Notification{
		{ID: "a", Level: notification.LevelInfo, Message: "first", Duration: 5 * time.Second},
		{ID: "b", Level: notification.LevelError, Message: "second", Duration: 2 * time.Second},
	}
	toasts := Toasts(ns)

	require.Len(t, toasts, 2)
	assert.Equal(t, 20, toasts[0].Offset)
	assert.Equal(t, 100, toasts[1].Offset)
	assert.Equal(t, int64(2000), toasts[1].DurationMS)

	out, err := MustNew().Toasts(ns)
	require.NoError(t, err)
	assert.Contains(t, string(out), "top: 100px")
	assert.Contains(t, string(out), "notification-error")
}

func TestNewTimelineCard(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	req := &domain.Request{
		ID:                   "REQ-2026-123",
		Status:               domain.StatusPending,
		BloodType:            "A+",
		Units:                2,
		AssignedHospitalName: "St. Mary's Medical Center",
		SubmittedAt:          now,
	}

	card := NewTimelineCard(req, true)
	assert.Equal(t, 25, card.Progress)
	assert.True(t, card.CanCancel)
	assert.Equal(t, "cancel-REQ-2026-123", card.CancelModal.ID)
	assert.Len(t, card.Steps, 4)

	req.Status = domain.StatusRejected
	req.RejectionReason = domain.RejectionReasons()[0]
	card = NewTimelineCard(req, true)
	assert.False(t, card.CanCancel)
	assert.True(t, card.Failed)
	assert.Len(t, card.Steps, 3)
	assert.NotEmpty(t, card.RejectionReason)
	assert.Equal(t, "rejected", card.StatusClass)
}

func TestPage_RendersNavForRole(t *testing.T) {
	var buf bytes.Buffer
	err := MustNew().Page(&buf, Page{
		Name:  "dashboard_patient",
		Title: "My requests",
		User:  &auth.User{ID: "p1", Name: "Jane", Role: auth.RolePatient},
		Data:  struct{ Cards []TimelineCard }{},
	})
	require.NoError(t, err)

	s := buf.String()
	assert.Contains(t, s, `href="/dashboard/patient"`)
	assert.NotContains(t, s, `href="/admin/users"`)
	assert.True(t, strings.Contains(s, "You have no requests yet."))
}
