package service_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/service"
)

func TestWorkerInvalidatesOnSentEvent(t *testing.T) {
	c := newStatsCache()
	c.entries[7] = &model.StatsSummary{}
	w := service.NewWorker(c, nil)

	body, err := json.Marshal(queue.DeliveryEvent{ID: "ev-1", UserID: 7, Outcome: model.OutcomeSent})
	require.NoError(t, err)
	require.NoError(t, w.Handle(body))

	assert.Equal(t, []int{7}, c.invalidated)
	assert.NotContains(t, c.entries, 7)
}

func TestWorkerSkipsFailedAndMalformed(t *testing.T) {
	c := newStatsCache()
	w := service.NewWorker(c, nil)

	require.NoError(t, w.Handle(queue.DeliveryEvent{UserID: 7, Outcome: model.OutcomeFailed}))
	require.NoError(t, w.Handle([]byte("{")))
	require.NoError(t, w.Handle(42))
	assert.Empty(t, c.invalidated)
}
