package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDocumentRepo struct{ mock.Mock }

func (m *MockDocumentRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) CountDocuments(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockDocumentRepo, *MockJobRepo, *MockVectorStore)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				d.On("Count", mock.Anything).Return(10, nil)
				v.On("CountDocuments", mock.Anything).Return(100, nil)
				j.On("CountByStatus", mock.Anything).Return(map[string]int{"queued": 2, "failed": 1}, nil)
			},
			wantStatus: http.StatusOK,
			wantError:  false,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 10, data["documents"])
				assert.EqualValues(t, 100, data["vector_objects"])
				jobs := data["jobs"].(map[string]interface{})
				assert.EqualValues(t, 2, jobs["queued"])
				assert.EqualValues(t, 1, jobs["failed"])
			},
		},
		{
			name: "NoJobsReturnsEmptyMap",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				d.On("Count", mock.Anything).Return(0, nil)
				v.On("CountDocuments", mock.Anything).Return(0, nil)
				j.On("CountByStatus", mock.Anything).Return(nil, nil)
			},
			wantStatus: http.StatusOK,
			wantError:  false,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				jobs, ok := data["jobs"].(map[string]interface{})
				assert.True(t, ok, "jobs should be an object, not null")
				assert.Empty(t, jobs)
			},
		},
		{
			name: "DocumentRepo Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				d.On("Count", mock.Anything).Return(0, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "VectorStore Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				d.On("Count", mock.Anything).Return(10, nil)
				v.On("CountDocuments", mock.Anything).Return(0, errors.New("weaviate error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "JobRepo Error",
			setupMocks: func(d *MockDocumentRepo, j *MockJobRepo, v *MockVectorStore) {
				d.On("Count", mock.Anything).Return(10, nil)
				v.On("CountDocuments", mock.Anything).Return(100, nil)
				j.On("CountByStatus", mock.Anything).Return(nil, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mDoc := new(MockDocumentRepo)
			mJob := new(MockJobRepo)
			mVector := new(MockVectorStore)

			tt.setupMocks(mDoc, mJob, mVector)

			h := NewHandler(mDoc, mJob, mVector)
			req := httptest.NewRequest("GET", "/api/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
