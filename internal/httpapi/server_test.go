package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/scoped/internal/checkpoint"
	"github.com/fyrsmithlabs/scoped/internal/gates"
	"github.com/fyrsmithlabs/scoped/internal/locks"
	"github.com/fyrsmithlabs/scoped/internal/logging"
	"github.com/fyrsmithlabs/scoped/internal/orchestrator"
	"github.com/fyrsmithlabs/scoped/internal/session"
)

// fakeService scripts the orchestrator per test case.
type fakeService struct {
	createFn   func(ctx context.Context, owner, projectName string) (*session.Session, error)
	runFn      func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error)
	resumeFn   func(ctx context.Context, sessionID string) (*session.Session, error)
	finalizeFn func(ctx context.Context, sessionID string, override bool) (*gates.Report, error)
	statusFn   func(ctx context.Context, sessionID string) (*session.Session, error)
}

func (f *fakeService) CreateSession(ctx context.Context, owner, projectName string) (*session.Session, error) {
	return f.createFn(ctx, owner, projectName)
}

func (f *fakeService) RunStage(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
	return f.runFn(ctx, sessionID)
}

func (f *fakeService) ResumeSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return f.resumeFn(ctx, sessionID)
}

func (f *fakeService) Finalize(ctx context.Context, sessionID string, override bool) (*gates.Report, error) {
	return f.finalizeFn(ctx, sessionID, override)
}

func (f *fakeService) Pause(ctx context.Context, sessionID string) error { return nil }

func (f *fakeService) SweepAbandoned(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeService) GetStatus(ctx context.Context, sessionID string) (*session.Session, error) {
	return f.statusFn(ctx, sessionID)
}

func (f *fakeService) Close() {}

func setupTestServer(t *testing.T, svc orchestrator.Service) *Server {
	t.Helper()
	server, err := NewServer(svc, logging.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(&fakeService{}, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeService{}, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, &fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleCreateSession(t *testing.T) {
	t.Run("creates session", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			createFn: func(ctx context.Context, owner, projectName string) (*session.Session, error) {
				sess, err := session.New(owner, projectName)
				require.NoError(t, err)
				return sess, nil
			},
		})

		body, _ := json.Marshal(CreateSessionRequest{Owner: "dana", ProjectName: "Churn Reduction"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)

		var sess session.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
		assert.Equal(t, "Churn Reduction", sess.ProjectName)
		assert.Equal(t, 1, sess.CurrentStage)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{})

		body, _ := json.Marshal(CreateSessionRequest{Owner: "dana"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleRunStage(t *testing.T) {
	t.Run("passed gate returns 200", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return &orchestrator.StageOutcome{
					Stage:      1,
					Validation: gates.Validation{Stage: 1, Passed: true},
					Advanced:   true,
				}, nil
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusOK, rec.Code)

		var outcome orchestrator.StageOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.True(t, outcome.Advanced)
	})

	t.Run("failed gate returns 422 with feedback", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return &orchestrator.StageOutcome{
					Stage: 2,
					Validation: gates.Validation{
						Stage:         2,
						MissingFields: []string{"metrics", "cadence"},
					},
				}, nil
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var outcome orchestrator.StageOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.False(t, outcome.Advanced)
		assert.Equal(t, []string{"metrics", "cadence"}, outcome.Validation.MissingFields)
	})

	t.Run("lock conflict returns 409", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return nil, &locks.ConflictError{SessionID: sessionID}
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return nil, session.ErrNotFound
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("persistence failure returns 503", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return nil, &checkpoint.PersistenceError{Op: "checkpoint save", Err: errors.New("disk full")}
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("unexpected error returns 503", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			runFn: func(ctx context.Context, sessionID string) (*orchestrator.StageOutcome, error) {
				return nil, errors.New("provider melted")
			},
		})

		rec := post(server, "/api/v1/sessions/abc/run")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "melted", "internal details stay internal")
	})
}

func TestHandleFinalize(t *testing.T) {
	t.Run("returns report", func(t *testing.T) {
		var gotOverride bool
		server := setupTestServer(t, &fakeService{
			finalizeFn: func(ctx context.Context, sessionID string, override bool) (*gates.Report, error) {
				gotOverride = override
				return &gates.Report{OverallOK: true}, nil
			},
		})

		body, _ := json.Marshal(FinalizeRequest{Override: true})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/abc/finalize", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gotOverride)

		var report gates.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.True(t, report.OverallOK)
	})

	t.Run("unfinished session returns 409", func(t *testing.T) {
		server := setupTestServer(t, &fakeService{
			finalizeFn: func(ctx context.Context, sessionID string, override bool) (*gates.Report, error) {
				return nil, orchestrator.ErrNotFinalizable
			},
		})

		rec := post(server, "/api/v1/sessions/abc/finalize")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandleResumeAndGet(t *testing.T) {
	sess, err := session.New("dana", "Churn Reduction")
	require.NoError(t, err)
	sess.CurrentStage = 3

	server := setupTestServer(t, &fakeService{
		resumeFn: func(ctx context.Context, sessionID string) (*session.Session, error) {
			return sess, nil
		},
		statusFn: func(ctx context.Context, sessionID string) (*session.Session, error) {
			return sess, nil
		},
	})

	rec := post(server, "/api/v1/sessions/"+sess.ID+"/resume")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var got session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 3, got.CurrentStage)
}

func post(server *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

