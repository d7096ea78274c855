package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/weaviate/weaviate/entities/models"

	"ragme/internal/app"
	"ragme/internal/config"
)

// stubSchemaClient fails ClassExists a configurable number of times
// before reporting the collection as present.
type stubSchemaClient struct {
	permanentErr error
	failUntil    int
	calls        int
}

func (c *stubSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	c.calls++
	if c.permanentErr != nil {
		return false, c.permanentErr
	}
	if c.calls <= c.failUntil {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (c *stubSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	return nil
}

func (c *stubSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return &models.Class{
		Class: className,
		Properties: []*models.Property{
			{Name: "url"}, {Name: "text"}, {Name: "metadata"},
		},
	}, nil
}

func (c *stubSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return nil
}

func testPolicy(retries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
}

func TestEnsureCollectionWithRetry_Success(t *testing.T) {
	client := &stubSchemaClient{}
	err := app.EnsureCollectionWithRetry(context.Background(), client, "RagMeDocs", "none", testPolicy(0))
	assert.NoError(t, err)
	assert.Equal(t, 1, client.calls)
}

func TestEnsureCollectionWithRetry_Retries(t *testing.T) {
	client := &stubSchemaClient{failUntil: 2}
	err := app.EnsureCollectionWithRetry(context.Background(), client, "RagMeDocs", "none", testPolicy(4))
	assert.NoError(t, err)
	assert.Equal(t, 3, client.calls)
}

func TestEnsureCollectionWithRetry_Fail(t *testing.T) {
	client := &stubSchemaClient{permanentErr: errors.New("permanent error")}
	err := app.EnsureCollectionWithRetry(context.Background(), client, "RagMeDocs", "none", testPolicy(2))
	assert.Error(t, err)
	assert.Equal(t, 3, client.calls)
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost:                     "invalid-host",
		BootstrapRetryAttempts:     1,
		BootstrapRetryDelaySeconds: 0,
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
