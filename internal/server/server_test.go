package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/config"
	"github.com/lucasbneuman/vixenbliss-creator-sub001/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Server:   config.ServerConfig{Mode: "test"},
		Database: config.DatabaseConfig{Type: "memory"},
		Platforms: map[string]config.PlatformPolicy{
			"instagram": {Enabled: true},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Scheduler.Enabled = false
	cfg.Generation.RetryBackoff = "1ms"

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/v1/batches", map[string]any{
		"avatar_id":       "av1",
		"requested_count": 3,
		"tier_distribution": map[string]int{
			"basic":   2,
			"premium": 1,
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var batch models.GenerationBatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	require.NotEmpty(t, batch.ID)

	srv.Orchestrator.Wait()

	w = doJSON(srv, http.MethodGet, "/api/v1/batches/"+batch.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var final models.GenerationBatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &final))
	assert.Equal(t, models.BatchCompleted, final.Status)
	assert.Equal(t, 3, final.CompletedCount)
	assert.Len(t, final.ArtifactIDs, 3)
}

func TestStartBatch_BadRequest(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/v1/batches", map[string]any{
		"avatar_id":         "av1",
		"requested_count":   5,
		"tier_distribution": map[string]int{"basic": 2},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBatch_NotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(srv, http.MethodGet, "/api/v1/batches/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleAndListPostsOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/v1/batches", map[string]any{
		"avatar_id":         "av1",
		"requested_count":   2,
		"tier_distribution": map[string]int{"basic": 2},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	srv.Orchestrator.Wait()

	w = doJSON(srv, http.MethodPost, "/api/v1/avatars/av1/schedule", map[string]any{
		"platform":            "instagram",
		"platform_account_id": "acc1",
		"window_hours":        48,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var scheduled struct {
		Posts []models.ScheduledPost `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scheduled))
	require.Len(t, scheduled.Posts, 2)
	for _, post := range scheduled.Posts {
		assert.Equal(t, models.PostPending, post.Status)
		assert.NotEmpty(t, post.IdempotencyKey)
		assert.True(t, post.ScheduledAt.After(time.Now().Add(-time.Minute)))
	}

	w = doJSON(srv, http.MethodGet, "/api/v1/posts?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Cancel one pending post.
	w = doJSON(srv, http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/cancel", scheduled.Posts[0].ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Scheduling the same artifacts again conflicts for the remaining
	// active one; the cancelled one is schedulable again so the call
	// partially succeeds.
	w = doJSON(srv, http.MethodPost, "/api/v1/posts", map[string]any{
		"artifact_id":         scheduled.Posts[1].ArtifactID,
		"platform":            "instagram",
		"platform_account_id": "acc1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAccountResetRequiresOTPWhenConfigured(t *testing.T) {
	cfg := &config.Config{
		Server:   config.ServerConfig{Mode: "test"},
		Database: config.DatabaseConfig{Type: "memory"},
		Auth:     config.AuthConfig{TOTPSecret: "JBSWY3DPEHPK3PXP"},
		Platforms: map[string]config.PlatformPolicy{
			"instagram": {Enabled: true},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Scheduler.Enabled = false

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	w := doJSON(srv, http.MethodPost, "/api/v1/accounts/acc1/reset", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
