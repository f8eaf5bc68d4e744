package explorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylens/pkg/annotation"
	"github.com/nicktill/tinylens/pkg/brush"
	"github.com/nicktill/tinylens/pkg/chart"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/sidebar"
)

func newTestSession(t *testing.T, n int) (*Session, *fakeBackend, []annotation.Annotation) {
	t.Helper()
	ctx := context.Background()
	b := newFakeBackend(t)
	seeded := b.seed(t, n)

	s, err := NewSession(ctx, b, newKV(), SessionOptions{User: testUser}, logger.Nop())
	require.NoError(t, err)
	s.Orchestrator().Update(ctx, func(f *FormState) { *f = fullForm() })
	require.NoError(t, s.Submit(ctx))
	return s, b, seeded
}

func TestSessionSubmitFillsSidebar(t *testing.T) {
	s, _, _ := newTestSession(t, 20)

	v := s.SidebarView()
	assert.Equal(t, 20, v.Total)
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 2, v.TotalPages)
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Len(t, s.Feed().Annotations(), 20)
}

func TestSessionNavigationPreservesSidebar(t *testing.T) {
	s, _, seeded := newTestSession(t, 20)

	require.True(t, s.SelectAnnotation(17))

	v := s.SidebarView()
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Equal(t, 20, v.Total, "navigation must not shrink the list")
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, seeded[17].ID, v.SelectedID)

	f := s.Orchestrator().State()
	assert.Equal(t, seeded[17].StartDate.Add(-time.Minute), f.StartDate)
	assert.Equal(t, seeded[17].EndDate.Add(time.Minute), f.EndDate)

	overlay := s.Feed().Annotations()
	require.Len(t, overlay, 1, "the chart shows only the inspected range")
	assert.Equal(t, seeded[17].ID, overlay[0].ID)

	require.True(t, s.NextAnnotation())
	v = s.SidebarView()
	assert.Equal(t, seeded[18].ID, v.SelectedID)
	assert.Equal(t, 20, v.Total)

	require.True(t, s.PrevAnnotation())
	require.True(t, s.PrevAnnotation())
	assert.Equal(t, seeded[16].ID, s.SidebarView().SelectedID)
}

func TestSessionExternalRangeReplacesSidebar(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(17))

	require.NoError(t, s.SetRange(ctx, t0, t0.Add(3*time.Hour)))
	v := s.SidebarView()
	assert.Equal(t, 4, v.Total)
	assert.Equal(t, 1, v.Page)
	assert.Empty(t, v.SelectedID, "selection outside the new list is dropped")
}

func TestSessionFullHistory(t *testing.T) {
	s, _, seeded := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(5))

	require.True(t, s.ShowFullHistory())
	start, end := sidebar.UnionRange(seeded)
	f := s.Orchestrator().State()
	assert.Equal(t, start, f.StartDate)
	assert.Equal(t, end, f.EndDate)
	assert.Equal(t, 20, s.SidebarView().Total)
}

func TestSessionApproveKeepsPage(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 20)

	require.True(t, s.NextPage())
	require.NoError(t, s.Approve(ctx, seeded[17].ID))

	v := s.SidebarView()
	assert.Equal(t, 2, v.Page, "post-mutation reload keeps the page")
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Equal(t, 20, v.Total)

	stored, err := b.store.Get(ctx, seeded[17].ID)
	require.NoError(t, err)
	assert.Equal(t, annotation.StatusApproved, stored.Status)
	require.Len(t, stored.History, 1)
	assert.Equal(t, testUser, stored.History[0].ChangedBy)
	assert.Equal(t, []annotation.FieldChange{{Field: "status", OldValue: "created", NewValue: "approved"}}, stored.History[0].Changes)

	for _, a := range v.Items {
		if a.ID == seeded[17].ID {
			assert.Equal(t, annotation.StatusApproved, a.Status)
		}
	}
}

func TestSessionApproveAfterNavigationKeepsList(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(17))

	require.NoError(t, s.Approve(ctx, seeded[17].ID))

	v := s.SidebarView()
	assert.Equal(t, 20, v.Total, "reviewing the inspected item must not shrink the list")
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Equal(t, seeded[17].ID, v.SelectedID)
	require.GreaterOrEqual(t, v.SelectedLocal, 0)
	assert.Equal(t, annotation.StatusApproved, v.Items[v.SelectedLocal].Status)
	assert.Len(t, v.Items[v.SelectedLocal].History, 1)

	overlay := s.Feed().Annotations()
	require.Len(t, overlay, 1, "the overlay keeps the inspected range")
	assert.Equal(t, annotation.StatusApproved, overlay[0].Status)

	stored, err := b.store.Get(ctx, seeded[17].ID)
	require.NoError(t, err)
	assert.Equal(t, annotation.StatusApproved, stored.Status)
}

func TestSessionReviewItemOutsideInspectedRange(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(17))
	require.Len(t, s.Feed().Annotations(), 1)

	require.NoError(t, s.Approve(ctx, seeded[3].ID))
	a, ok := s.Sidebar().Find(seeded[3].ID)
	require.True(t, ok)
	assert.Equal(t, annotation.StatusApproved, a.Status)

	desc := "reviewed"
	require.NoError(t, s.Edit(ctx, seeded[5].ID, annotation.Patch{Description: &desc}))
	a, _ = s.Sidebar().Find(seeded[5].ID)
	assert.Equal(t, "reviewed", a.Description)

	require.NoError(t, s.Delete(ctx, seeded[4].ID))
	v := s.SidebarView()
	assert.Equal(t, 19, v.Total)
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, seeded[17].ID, v.SelectedID, "selection follows the item, not the index")
	assert.Equal(t, seeded[17].ID, v.Items[v.SelectedLocal].ID)
	assert.ErrorIs(t, s.Delete(ctx, seeded[4].ID), annotation.ErrNotFound)

	stored, err := b.store.Get(ctx, seeded[3].ID)
	require.NoError(t, err)
	assert.Equal(t, annotation.StatusApproved, stored.Status)
	assert.Len(t, s.Feed().Annotations(), 1)
}

func TestSessionFailedReviewAfterNavigationLeavesList(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(17))

	b.mu.Lock()
	b.updateErr = errBackend
	b.mu.Unlock()

	require.Error(t, s.Reject(ctx, seeded[3].ID))
	require.Error(t, s.Delete(ctx, seeded[17].ID))

	v := s.SidebarView()
	assert.Equal(t, 20, v.Total)
	assert.Equal(t, sidebar.Idle, v.State)
	for _, a := range s.Sidebar().List() {
		assert.Equal(t, annotation.StatusCreated, a.Status)
	}
	overlay := s.Feed().Annotations()
	require.Len(t, overlay, 1)
	assert.Equal(t, annotation.StatusCreated, overlay[0].Status)
}

func TestSessionCreateAfterNavigationKeepsList(t *testing.T) {
	ctx := context.Background()
	s, _, seeded := newTestSession(t, 20)
	require.True(t, s.SelectAnnotation(17))

	require.NoError(t, s.Render(chart.NewRecorder(), 800, 400))
	s.SetBrushMode(brush.ModeAnnotation)
	_, err := s.BrushEnd(200, 400)
	require.NoError(t, err)

	created, err := s.CreateFromBrush(ctx, annotation.Annotation{Description: "follow-up"})
	require.NoError(t, err)

	v := s.SidebarView()
	assert.Equal(t, 21, v.Total)
	assert.Equal(t, seeded[17].ID, v.SelectedID)
	_, ok := s.Sidebar().Find(created.ID)
	assert.True(t, ok)
}

func TestSessionPageReloadAfterNavigationKeepsList(t *testing.T) {
	ctx := context.Background()
	b := newFakeBackend(t)
	b.seed(t, 20)

	s, err := NewSession(ctx, b, newKV(), SessionOptions{User: testUser, ReloadOnPageChange: true}, logger.Nop())
	require.NoError(t, err)
	s.Orchestrator().Update(ctx, func(f *FormState) { *f = fullForm() })
	require.NoError(t, s.Submit(ctx))

	require.True(t, s.SelectAnnotation(17))
	require.True(t, s.PrevPage())

	v := s.SidebarView()
	assert.Equal(t, 20, v.Total)
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Len(t, s.Feed().Annotations(), 1)
}

func TestSessionMutationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 5)

	b.mu.Lock()
	b.updateErr = errBackend
	b.mu.Unlock()

	require.Error(t, s.Reject(ctx, seeded[0].ID))
	require.Error(t, s.Delete(ctx, seeded[1].ID))

	v := s.SidebarView()
	assert.Equal(t, sidebar.Idle, v.State)
	assert.Equal(t, 5, v.Total)
	for _, a := range s.Feed().Annotations() {
		assert.Equal(t, annotation.StatusCreated, a.Status)
	}
}

func TestSessionDelete(t *testing.T) {
	ctx := context.Background()
	s, _, seeded := newTestSession(t, 5)

	require.NoError(t, s.Delete(ctx, seeded[2].ID))
	assert.Equal(t, 4, s.SidebarView().Total)
	assert.ErrorIs(t, s.Delete(ctx, seeded[2].ID), annotation.ErrNotFound)
}

func TestSessionEditWithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	s, b, seeded := newTestSession(t, 2)

	desc := seeded[0].Description
	require.NoError(t, s.Edit(ctx, seeded[0].ID, annotation.Patch{Description: &desc}))

	stored, err := b.store.Get(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Empty(t, stored.History)
}

func TestSessionBrushAnnotation(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSession(t, 3)

	_, err := s.BrushEnd(100, 200)
	require.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, s.Render(chart.NewRecorder(), 800, 400))
	s.SetBrushMode(brush.ModeAnnotation)

	sel, err := s.BrushEnd(300, 200)
	require.NoError(t, err)
	require.True(t, sel.IsActive)
	assert.True(t, sel.StartDate.Before(sel.EndDate))

	pending, ok := s.PendingSelection()
	require.True(t, ok)
	assert.Equal(t, sel, pending)

	created, err := s.CreateFromBrush(ctx, annotation.Annotation{
		Description:    "traffic spike",
		AnnotationType: annotation.TypeIncident,
	})
	require.NoError(t, err)
	assert.Equal(t, "orders", created.SourceIndex)
	assert.Equal(t, "eu", created.FilterValue)
	assert.Equal(t, testUser, created.CreatedBy)
	assert.NotEmpty(t, created.Color)

	_, ok = s.PendingSelection()
	assert.False(t, ok, "draft is consumed")
	assert.Equal(t, 4, s.SidebarView().Total)

	_, err = s.CreateFromBrush(ctx, annotation.Annotation{})
	assert.ErrorIs(t, err, ErrNoBrush)
}

func TestSessionBrushZoom(t *testing.T) {
	s, _, _ := newTestSession(t, 3)
	require.NoError(t, s.Render(chart.NewRecorder(), 800, 400))
	s.SetBrushMode(brush.ModeZoom)

	sel, err := s.BrushEnd(200, 400)
	require.NoError(t, err)

	f := s.Orchestrator().State()
	assert.True(t, sel.StartDate.Equal(f.StartDate))
	assert.True(t, sel.EndDate.Equal(f.EndDate))
	_, ok := s.PendingSelection()
	assert.False(t, ok)
	assert.False(t, s.Brush().Selection().IsActive)
}

func TestSessionRenderTooSmall(t *testing.T) {
	s, _, _ := newTestSession(t, 1)
	assert.ErrorIs(t, s.Render(chart.NewRecorder(), 40, 40), ErrNoPlotArea)
}

func TestSessionToggleSeries(t *testing.T) {
	s, _, _ := newTestSession(t, 1)

	all := chart.NewRecorder()
	require.NoError(t, s.Render(all, 800, 400))

	assert.False(t, s.ToggleSeries("refunded"))
	one := chart.NewRecorder()
	require.NoError(t, s.Render(one, 800, 400))
	assert.Less(t, len(one.Filter("stroke")), len(all.Filter("stroke")))

	assert.True(t, s.ToggleSeries("refunded"))
}

func TestSessionAnnotationAt(t *testing.T) {
	s, _, seeded := newTestSession(t, 3)
	require.NoError(t, s.Render(chart.NewRecorder(), 800, 400))

	s.mu.Lock()
	x := s.frame.scales.X.Scale(seeded[1].StartDate.Add(time.Minute))
	s.mu.Unlock()

	got, ok := s.AnnotationAt(x)
	require.True(t, ok)
	assert.Equal(t, seeded[1].ID, got.ID)
}
