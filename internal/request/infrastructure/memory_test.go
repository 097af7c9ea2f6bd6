package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodconnect/platform/internal/request/domain"
	"github.com/bloodconnect/platform/internal/shared/errors"
	"github.com/bloodconnect/platform/internal/shared/types"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newRequest(t *testing.T, id, hospital string, at time.Time) *domain.Request {
	t.Helper()
	r, err := domain.NewRequest(id, domain.SubmitInput{
		PatientName:  "Patient " + id,
		BloodType:    "A+",
		Units:        1,
		Priority:     "routine",
		HospitalID:   "city-general",
		HospitalName: "City General Hospital",
		Reason:       "anaemia",
	}, domain.Actor{ID: "p", Type: "patient"}, at)
	require.NoError(t, err)
	if hospital != "" {
		r.AssignedHospitalID = types.ID(hospital)
	}
	return r
}

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r := newRequest(t, "REQ-2026-001", "", base)

	require.NoError(t, repo.Save(ctx, r))
	assert.Equal(t, 1, r.Version)

	err := repo.Save(ctx, newRequest(t, "REQ-2026-001", "", base))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	got, err := repo.FindByID(ctx, "REQ-2026-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	got.Status = domain.StatusApproved
	again, _ := repo.FindByID(ctx, "REQ-2026-001")
	assert.Equal(t, domain.StatusPending, again.Status, "stored record must not alias returned copy")

	_, err = repo.FindByID(ctx, "REQ-2026-999")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryRepository_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, newRequest(t, "REQ-2026-002", "", base)))

	first, _ := repo.FindByID(ctx, "REQ-2026-002")
	second, _ := repo.FindByID(ctx, "REQ-2026-002")

	require.NoError(t, first.Approve(domain.SystemActor, base))
	require.NoError(t, repo.Update(ctx, first, 1))
	assert.Equal(t, 2, first.Version)

	require.NoError(t, second.Reject(domain.SystemActor, domain.RejectOther, "", base))
	err := repo.Update(ctx, second, 1)
	assert.ErrorIs(t, err, errors.ErrVersionConflict)

	stored, _ := repo.FindByID(ctx, "REQ-2026-002")
	assert.Equal(t, domain.StatusApproved, stored.Status)
}

func TestMemoryRepository_ConcurrentUpdatesOneWins(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, newRequest(t, "REQ-2026-003", "", base)))

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := repo.FindByID(ctx, "REQ-2026-003")
			if err != nil {
				results <- err
				return
			}
			_ = r.Approve(domain.SystemActor, base)
			results <- repo.Update(ctx, r, 1)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, errors.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryRepository_ListAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	for i := 1; i <= 5; i++ {
		hospital := ""
		if i%2 == 0 {
			hospital = "st-mary"
		}
		require.NoError(t, repo.Save(ctx, newRequest(t, fmt.Sprintf("REQ-2026-%03d", i), hospital, base.Add(time.Duration(i)*time.Minute))))
	}

	all, total, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, "REQ-2026-005", all[0].ID, "newest first")

	mine, total, err := repo.FindByHospital(ctx, "st-mary", domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range mine {
		assert.Equal(t, "st-mary", r.AssignedHospitalID.String())
	}

	pending := domain.StatusPending
	page, total, err := repo.List(ctx, domain.ListFilter{Status: &pending, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	mine, total, err = repo.FindByHospital(ctx, "st-mary", domain.ListFilter{Offset: -1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, mine, 2, "negative offset reads from the start")

	found, _, err := repo.List(ctx, domain.ListFilter{Search: "req-2026-003"})
	require.NoError(t, err)
	require.Len(t, found, 1)
}
