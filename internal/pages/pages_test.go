package pages

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/contact"
	"github.com/bloodconnect/platform/internal/donation"
	"github.com/bloodconnect/platform/internal/hospital"
	"github.com/bloodconnect/platform/internal/inventory"
	"github.com/bloodconnect/platform/internal/notification"
	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/request/infrastructure"
	"github.com/bloodconnect/platform/internal/request/workflow"
	"github.com/bloodconnect/platform/internal/shared/auth"
	"github.com/bloodconnect/platform/internal/shared/events"
	"github.com/bloodconnect/platform/internal/shared/types"
	"github.com/bloodconnect/platform/internal/ui"
	"github.com/bloodconnect/platform/internal/user"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

var (
	donor   = &auth.User{ID: "donor-1", Name: "Ana Petrovic", Role: auth.RoleDonor}
	patient = &auth.User{ID: "patient-1", Name: "Jane Doe", Role: auth.RolePatient}
	nurse   = &auth.User{ID: "nurse-1", Name: "Sara Ilic", Role: auth.RoleHospital, HospitalID: "st-mary"}
	admin   = &auth.User{ID: "admin-1", Name: "Admin", Role: auth.RoleAdmin}
)

type fixture struct {
	handler   *Handler
	requests  *workflow.Service
	donations *donation.Service
	notifier  *notification.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()
	clock := func() time.Time { return testNow }

	bus := events.NewMemoryBus(log)
	inv := inventory.NewService(inventory.NewMemoryStore(), bus, log)
	hospitals := hospital.NewService(hospital.NewMemoryRepository(), inv, bus, log)
	require.NoError(t, hospitals.SeedDefaults(ctx, rand.New(rand.NewSource(1))))

	notifier := notification.NewService(notification.DefaultServiceConfig(), log)
	notifier.SetClock(clock)

	queue := notification.NewMemoryQueue()
	requests := workflow.NewService(infrastructure.NewMemoryRepository(), queue, notifier, hospitals, inv, bus, log)
	requests.SetClock(clock)
	donations := donation.NewService(donation.NewMemoryRepository(), hospitals, inv, queue, notifier, bus, log)
	donations.SetClock(clock)

	users := user.NewService(user.NewMemoryRepository(), hospitals, notifier, bus, log)
	require.NoError(t, users.SeedDemo(ctx))

	h := NewHandler(Deps{
		Renderer:      ui.MustNew(),
		Hospitals:     hospitals,
		Inventory:     inv,
		Requests:      requests,
		Donations:     donations,
		Users:         users,
		Contact:       contact.NewService(contact.NewMemoryRepository(), notifier, bus, log),
		Notifications: notifier,
		Log:           log,
	})
	h.now = clock

	return &fixture{handler: h, requests: requests, donations: donations, notifier: notifier}
}

func (f *fixture) do(t *testing.T, u *auth.User, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if u != nil {
		req = req.WithContext(auth.WithUser(req.Context(), u))
	}
	rec := httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func parse(t *testing.T, rec *httptest.ResponseRecorder) *html.Node {
	t.Helper()
	doc, err := html.Parse(rec.Body)
	require.NoError(t, err)
	return doc
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// findAll returns the elements named tag (any tag when empty) carrying class
func findAll(root *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (tag == "" || n.Data == tag) && (class == "" || hasClass(n, class)) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func TestIndex_ShowsStockAndCompatibility(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, nil, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := parse(t, rec)
	rows := findAll(doc, "tr", "")
	// header plus one row per blood type
	assert.Len(t, rows, len(bloodtype.All())+1)
	lists := findAll(doc, "ul", "hospital-list")
	require.Len(t, lists, 1)
	assert.Len(t, findAll(lists[0], "li", ""), len(hospital.DefaultHospitals()))
}

func TestCompatibilityTable(t *testing.T) {
	for _, row := range CompatibilityTable() {
		if row.Type == bloodtype.ONeg {
			assert.Len(t, row.DonatesTo, 8)
			assert.Equal(t, []bloodtype.Type{bloodtype.ONeg}, row.ReceivesFrom)
		}
		if row.Type == bloodtype.ABPos {
			assert.Len(t, row.ReceivesFrom, 8)
		}
	}
}

func TestDonorDashboard_OneCompletedOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offer, err := f.donations.CreateOffer(ctx, donation.OfferInput{
		DonorID:    donor.ID,
		DonorName:  donor.Name,
		BloodType:  "O-",
		HospitalID: "st-mary",
	})
	require.NoError(t, err)
	_, err = f.donations.Accept(ctx, offer.ID, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = f.donations.Complete(ctx, offer.ID, 450)
	require.NoError(t, err)

	rec := f.do(t, donor, http.MethodGet, "/dashboard/donor", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := parse(t, rec)
	completed := findAll(doc, "li", "completed")
	if len(completed) != 1 {
		t.Fatalf("Expected exactly one completed offer, got %d", len(completed))
	}
	assert.Equal(t, "offer-"+offer.ID.String(), attr(completed[0], "id"))
	assert.Len(t, findAll(doc, "li", "donation-offer-item"), 1)
	assert.Empty(t, findAll(doc, "li", "pending"))
	assert.Empty(t, findAll(doc, "", "eligible"), "donor who just gave blood must not be eligible")
	assert.Contains(t, rec.Body.String(), "Total donations: 1")
}

func TestPatientDashboard_PendingTimeline(t *testing.T) {
	f := newFixture(t)

	_, err := f.requests.Submit(context.Background(), domain.SubmitInput{
		PatientName: "Jane Doe",
		BloodType:   "A+",
		Units:       2,
		Priority:    "routine",
		HospitalID:  "st-mary",
		Reason:      "surgery",
	}, workflow.ActorFor(patient))
	require.NoError(t, err)

	rec := f.do(t, patient, http.MethodGet, "/dashboard/patient", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := parse(t, rec)
	bars := findAll(doc, "div", "progress-bar")
	require.Len(t, bars, 1)
	assert.Equal(t, "width: 25%", attr(bars[0], "style"))

	// a pending request can be cancelled through its own modal
	modals := findAll(doc, "div", "modal-overlay")
	require.Len(t, modals, 1)
	assert.True(t, strings.HasPrefix(attr(modals[0], "id"), "cancel-REQ-"))

	toasts := findAll(doc, "div", "notification-success")
	assert.Len(t, toasts, 1, "submission toast should be visible")
}

func TestSubmitRequest(t *testing.T) {
	f := newFixture(t)

	t.Run("missing fields re-render with errors", func(t *testing.T) {
		rec := f.do(t, patient, http.MethodPost, "/request-blood", url.Values{
			"patient_name": {"Jane Doe"},
			"priority":     {"routine"},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		doc := parse(t, rec)
		assert.NotEmpty(t, findAll(doc, "", "has-error"))
		assert.NotEmpty(t, findAll(doc, "div", "notification-error"))

		list, total, err := f.requests.List(context.Background(), domain.ListFilter{PatientID: patient.ID})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, list)
	})

	t.Run("valid form redirects to dashboard", func(t *testing.T) {
		rec := f.do(t, patient, http.MethodPost, "/request-blood", url.Values{
			"patient_name": {"Jane Doe"},
			"blood_type":   {"O-"},
			"units":        {"3"},
			"priority":     {"urgent"},
			"hospital_id":  {"st-mary"},
			"reason":       {"trauma"},
		})
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/dashboard/patient", rec.Header().Get("Location"))

		_, total, err := f.requests.List(context.Background(), domain.ListFilter{PatientID: patient.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("anonymous visitors are sent home", func(t *testing.T) {
		rec := f.do(t, nil, http.MethodPost, "/request-blood", url.Values{"units": {"1"}})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})
}

func TestHospitalDashboard_ReviewEntries(t *testing.T) {
	f := newFixture(t)

	req, err := f.requests.Submit(context.Background(), domain.SubmitInput{
		PatientName: "Jane Doe",
		BloodType:   "B+",
		Units:       1,
		Priority:    "routine",
		HospitalID:  "st-mary",
		Reason:      "anemia",
	}, workflow.ActorFor(patient))
	require.NoError(t, err)

	rec := f.do(t, nurse, http.MethodGet, "/dashboard/hospital", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := parse(t, rec)
	ids := map[string]bool{}
	for _, m := range findAll(doc, "div", "modal-overlay") {
		ids[attr(m, "id")] = true
	}
	assert.True(t, ids["approve-"+req.ID], "expected approve modal")
	assert.True(t, ids["reject-"+req.ID], "expected reject modal")
	assert.Len(t, findAll(doc, "", "stock-card"), len(bloodtype.All()))
}

func TestHospitalDashboard_Access(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		user   *auth.User
		target string
		want   int
	}{
		{"anonymous", nil, "/dashboard/hospital", http.StatusSeeOther},
		{"donor", donor, "/dashboard/hospital", http.StatusForbidden},
		{"admin without hospital", admin, "/dashboard/hospital", http.StatusBadRequest},
		{"admin picks hospital", admin, "/dashboard/hospital?hospital_id=st-mary", http.StatusOK},
		{"admin unknown hospital", admin, "/dashboard/hospital?hospital_id=nowhere", http.StatusNotFound},
		{"nurse cannot switch", nurse, "/dashboard/hospital?hospital_id=city-general", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.user, http.MethodGet, tt.target, nil)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestContact(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, nil, http.MethodGet, "/contact", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, findAll(parse(t, rec), "form", ""))

	rec = f.do(t, nil, http.MethodPost, "/contact", url.Values{"name": {"Ana"}, "email": {"not-an-email"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, findAll(parse(t, rec), "", "has-error"))

	rec = f.do(t, nil, http.MethodPost, "/contact", url.Values{
		"name":    {"Ana"},
		"email":   {"ana@example.org"},
		"subject": {"Volunteering"},
		"message": {"How can I help?"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = f.do(t, nil, http.MethodGet, rec.Header().Get("Location"), nil)
	assert.NotEmpty(t, findAll(parse(t, rec), "p", "success"))
}

func TestAdminUsers_Filter(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, admin, http.MethodGet, "/admin/users?role=hospital", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc := parse(t, rec)
	for _, row := range findAll(doc, "tr", "") {
		if attr(row, "data-user-id") == "" {
			continue
		}
		assert.Contains(t, renderText(row), "hospital")
	}
	assert.Len(t, findAll(doc, "div", "modal-overlay"), 1)

	rec = f.do(t, patient, http.MethodGet, "/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTimelineFragment(t *testing.T) {
	f := newFixture(t)
	req, err := f.requests.Submit(context.Background(), domain.SubmitInput{
		PatientName: "Jane Doe",
		BloodType:   "AB-",
		Units:       1,
		Priority:    "routine",
		HospitalID:  "st-mary",
		Reason:      "surgery",
	}, workflow.ActorFor(patient))
	require.NoError(t, err)

	rec := f.do(t, patient, http.MethodGet, "/fragments/requests/"+req.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="request-`+req.ID+`"`)

	other := &auth.User{ID: types.ID("someone-else"), Role: auth.RolePatient}
	rec = f.do(t, other, http.MethodGet, "/fragments/requests/"+req.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
