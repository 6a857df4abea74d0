package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/store"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func seeded() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.PutJob(model.Job{ID: "job-1", ServiceType: "install", Country: "ES", State: model.JobCreated})
	s.PutJob(model.Job{ID: "job-2", ServiceType: "install", Country: "ES", State: model.JobCreated})
	s.PutJob(model.Job{ID: "job-x", ServiceType: "install", Country: "ES", State: model.JobCancelled})
	return s
}

func booking(id, key string, start, end int) model.Booking {
	return model.Booking{
		ID: id, CandidateID: "wt-1", JobID: "job-1", Date: "2025-03-11",
		StartSlot: start, EndSlot: end, Status: model.BookingPreBooked,
		HoldExpiresAt: now.Add(48 * time.Hour), IdempotencyKey: key, CreatedAt: now,
	}
}

func schedule(b model.Booking) model.JobSchedule {
	return model.JobSchedule{JobID: b.JobID, CandidateID: b.CandidateID, Date: b.Date, StartSlot: b.StartSlot, EndSlot: b.EndSlot}
}

func TestCreateOpenAssignment_DedupesOpenPair(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	a := model.Assignment{ID: "a-1", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentOffered, CreatedAt: now}
	got, created, err := s.CreateOpenAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a-1", got.ID)

	dup := a
	dup.ID = "a-2"
	got, created, err = s.CreateOpenAssignment(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a-1", got.ID)

	// Once closed, a fresh offer to the same pair is allowed.
	_, err = s.TransitionAssignment(ctx, "a-1", model.AssignmentOffered, store.Transition{To: model.AssignmentExpired, At: now})
	require.NoError(t, err)
	got, created, err = s.CreateOpenAssignment(ctx, dup)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a-2", got.ID)
}

func TestCreateOpenAssignment_ConcurrentSinglePair(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := map[string]bool{}
	created := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := model.Assignment{ID: fmt.Sprintf("a-%d", i), JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentOffered, CreatedAt: now}
			got, ok, err := s.CreateOpenAssignment(ctx, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			winners[got.ID] = true
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, winners, 1, "every caller sees the same open assignment")
	list, err := s.ListAssignments(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransitionAssignment_CompareAndSet(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	_, _, err := s.CreateOpenAssignment(ctx, model.Assignment{ID: "a-1", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentOffered})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionAssignment(ctx, "a-1", model.AssignmentOffered, store.Transition{
				To: model.AssignmentAccepted, At: now,
				Job: &model.JobAssignment{JobID: "job-1", CandidateID: "wt-1", ProviderID: "p-1"},
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrInvalidState)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	a, err := s.GetAssignment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentAccepted, a.State)
	require.NotNil(t, a.AcceptedAt)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, job.State)
	assert.Equal(t, "wt-1", job.AssignedCandidateID)
}

func TestTransitionAssignment_RefusesJobOwnedByAnotherCandidate(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	_, _, err := s.CommitAutoAssignment(ctx,
		model.Assignment{ID: "auto", JobID: "job-1", CandidateID: "wt-2", State: model.AssignmentAccepted, CreatedAt: now},
		model.JobAssignment{JobID: "job-1", CandidateID: "wt-2"})
	require.NoError(t, err)

	_, _, err = s.CreateOpenAssignment(ctx, model.Assignment{ID: "a-1", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentOffered})
	require.NoError(t, err)
	_, err = s.TransitionAssignment(ctx, "a-1", model.AssignmentOffered, store.Transition{
		To: model.AssignmentAccepted, At: now,
		Job: &model.JobAssignment{JobID: "job-1", CandidateID: "wt-1"},
	})
	require.Error(t, err)
	assert.Equal(t, model.CodeJobAlreadyAssigned, model.CodeOf(err))

	a, err := s.GetAssignment(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentOffered, a.State)
}

func TestCommitAutoAssignment_ReplayAndCancelled(t *testing.T) {
	s := seeded()
	ctx := context.Background()
	upd := model.JobAssignment{JobID: "job-1", CandidateID: "wt-1", ProviderID: "p-1"}

	first, created, err := s.CommitAutoAssignment(ctx, model.Assignment{ID: "a-1", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentAccepted, CreatedAt: now}, upd)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.CommitAutoAssignment(ctx, model.Assignment{ID: "a-2", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentAccepted, CreatedAt: now}, upd)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	list, err := s.ListAssignments(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, _, err = s.CommitAutoAssignment(ctx,
		model.Assignment{ID: "a-3", JobID: "job-x", CandidateID: "wt-1", State: model.AssignmentAccepted},
		model.JobAssignment{JobID: "job-x", CandidateID: "wt-1"})
	assert.Equal(t, model.CodeJobCancelled, model.CodeOf(err))
}

func TestFlagForReview_RefusesSettledJobs(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	_, _, err := s.CommitAutoAssignment(ctx,
		model.Assignment{ID: "a-1", JobID: "job-1", CandidateID: "wt-1", State: model.AssignmentAccepted, CreatedAt: now},
		model.JobAssignment{JobID: "job-1", CandidateID: "wt-1", ProviderID: "p-1"})
	require.NoError(t, err)

	_, err = s.FlagForReview(ctx, "job-1", "no_providers_found", now)
	assert.Equal(t, model.CodeJobAlreadyAssigned, model.CodeOf(err))
	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobAssigned, job.State)
	assert.Empty(t, job.ReviewReason)

	_, err = s.FlagForReview(ctx, "job-x", "no_providers_found", now)
	assert.Equal(t, model.CodeJobCancelled, model.CodeOf(err))

	_, err = s.FlagForReview(ctx, "missing", "no_providers_found", now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	flagged, err := s.FlagForReview(ctx, "job-2", "no_providers_found", now)
	require.NoError(t, err)
	assert.Equal(t, model.JobManualReview, flagged.State)
	assert.Equal(t, "no_providers_found", flagged.ReviewReason)
}

func TestReserveBooking_ConcurrentOverlapSingleWinner(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every request overlaps slot 40.
			b := booking(fmt.Sprintf("b-%d", i), fmt.Sprintf("key-%d", i), 36+i%4, 40+i%3)
			_, _, err := s.ReserveBooking(ctx, b, schedule(b), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case model.CodeOf(err) == model.CodeSlotNotAvailable:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
	assert.Len(t, s.Bookings("wt-1", "2025-03-11"), 1)
}

func TestReserveBooking_ReplayByKey(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	b := booking("b-1", "key-1", 36, 39)
	first, replayed, err := s.ReserveBooking(ctx, b, schedule(b), now)
	require.NoError(t, err)
	assert.False(t, replayed)

	retry := booking("b-2", "key-1", 36, 39)
	second, replayed, err := s.ReserveBooking(ctx, retry, schedule(retry), now)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobScheduled, job.State)
	assert.Equal(t, "2025-03-11", job.ScheduledDate)
	assert.Equal(t, 36, job.ScheduledStartSlot)
	assert.Equal(t, 39, job.ScheduledEndSlot)
}

func TestReserveBooking_DeadBookingReleasesKey(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	// Expired hold: the same key takes a fresh hold.
	b := booking("b-1", "key-1", 36, 39)
	_, _, err := s.ReserveBooking(ctx, b, schedule(b), now)
	require.NoError(t, err)
	later := now.Add(49 * time.Hour)
	_, err = s.ExpireHolds(ctx, later)
	require.NoError(t, err)

	retry := booking("b-2", "key-1", 36, 39)
	retry.HoldExpiresAt = later.Add(48 * time.Hour)
	got, replayed, err := s.ReserveBooking(ctx, retry, schedule(retry), later)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "b-2", got.ID)
	assert.Equal(t, model.BookingPreBooked, got.Status)

	// Cancelled booking: same again.
	_, err = s.TransitionBooking(ctx, "b-2", []model.BookingStatus{model.BookingPreBooked}, model.BookingCancelled, later)
	require.NoError(t, err)
	third := booking("b-3", "key-1", 36, 39)
	third.HoldExpiresAt = later.Add(48 * time.Hour)
	got, replayed, err = s.ReserveBooking(ctx, third, schedule(third), later)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "b-3", got.ID)

	// The live hold now answers replays.
	got, replayed, err = s.ReserveBooking(ctx, booking("b-4", "key-1", 36, 39), schedule(third), later)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "b-3", got.ID)

	blocking, err := s.ListBlockingBookings(ctx, "wt-1", "2025-03-11", later)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, "b-3", blocking[0].ID)
}

func TestReserveBooking_StaleHoldDoesNotBlock(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	old := booking("b-old", "key-old", 36, 39)
	old.HoldExpiresAt = now.Add(time.Hour)
	_, _, err := s.ReserveBooking(ctx, old, schedule(old), now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	fresh := booking("b-new", "key-new", 38, 41)
	fresh.JobID = "job-2"
	_, _, err = s.ReserveBooking(ctx, fresh, schedule(fresh), later)
	require.NoError(t, err)

	got, err := s.GetBooking(ctx, "b-old")
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, got.Status)

	blocking, err := s.ListBlockingBookings(ctx, "wt-1", "2025-03-11", later)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, "b-new", blocking[0].ID)
}

func TestTransitionBooking_AndExpireHolds(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	a := booking("b-1", "k1", 10, 12)
	b := booking("b-2", "k2", 20, 22)
	for _, bk := range []model.Booking{a, b} {
		_, _, err := s.ReserveBooking(ctx, bk, schedule(bk), now)
		require.NoError(t, err)
	}

	confirmed, err := s.TransitionBooking(ctx, "b-1", []model.BookingStatus{model.BookingPreBooked}, model.BookingConfirmed, now)
	require.NoError(t, err)
	assert.NotNil(t, confirmed.ConfirmedAt)

	_, err = s.TransitionBooking(ctx, "b-1", []model.BookingStatus{model.BookingPreBooked}, model.BookingConfirmed, now)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	n, err := s.ExpireHolds(ctx, now.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetBooking(ctx, "b-2")
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, got.Status)

	_, err = s.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
