package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printdesk/internal/common"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Stage]bool{
		{StageDraft, StageOrderCreated}:             true,
		{StageOrderCreated, StageCheckoutOpened}:    true,
		{StageOrderCreated, StageFailed}:            true,
		{StageCheckoutOpened, StagePaymentVerified}: true,
		{StageCheckoutOpened, StageAbandoned}:       true,
		{StagePaymentVerified, StageFinalized}:      true,
		{StagePaymentVerified, StageFailed}:         true,
	}
	stages := []Stage{StageDraft, StageOrderCreated, StageCheckoutOpened, StagePaymentVerified, StageFinalized, StageAbandoned, StageFailed}
	for _, from := range stages {
		for _, to := range stages {
			require.Equal(t, allowed[[2]Stage{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	for _, s := range []Stage{StageFinalized, StageAbandoned, StageFailed} {
		require.True(t, s.Terminal(), s)
	}
	require.False(t, StageCheckoutOpened.Terminal())
}

func TestAdvanceRecordsHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f := NewFlow("sess-1", now)
	require.Equal(t, StageDraft, f.Stage)

	require.NoError(t, f.Advance(StageOrderCreated, "", now.Add(time.Second)))
	require.NoError(t, f.Advance(StageFailed, "widget unavailable", now.Add(2*time.Second)))
	require.Equal(t, "widget unavailable", f.FailureReason)
	require.Len(t, f.History, 2)
	require.Equal(t, StageOrderCreated, f.History[1].From)

	err := f.Advance(StageCheckoutOpened, "", now)
	require.True(t, common.HasCode(err, CodeInvalidTransition))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 409, appErr.HTTPStatus)
	require.Equal(t, StageFailed, f.Stage)
}

func TestRejectKeepsStage(t *testing.T) {
	now := time.Now()
	f := NewFlow("sess-1", now)
	require.NoError(t, f.Advance(StageOrderCreated, "", now))
	require.NoError(t, f.Advance(StageCheckoutOpened, "", now))
	f.Reject("signature pre-check failed", now)
	require.Equal(t, StageCheckoutOpened, f.Stage)
	require.Equal(t, "signature pre-check failed", f.FailureReason)

	require.NoError(t, f.Advance(StagePaymentVerified, "", now))
	require.Empty(t, f.FailureReason)
}
