package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmrepair/core/internal/swarmtypes"
)

func TestSendPostsJSONBody(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(0)
	err := s.Send(context.Background(), srv.URL, swarmtypes.PendingIntervention{
		Type:        swarmtypes.InterventionBlocked,
		Description: "stuck on borrow checker",
		FeatureID:   "X-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "stuck on borrow checker", received.Description)
	assert.Equal(t, "X-1", received.FeatureID)
}

func TestSendReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := New(0)
	err := s.Send(context.Background(), srv.URL, swarmtypes.PendingIntervention{})
	assert.Error(t, err)
}
