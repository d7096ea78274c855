package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureCollection makes sure the webpage collection exists with the
// expected properties. An existing collection is never re-created:
// it may hold documents already, only missing properties are added.
func EnsureCollection(ctx context.Context, client SchemaClient, name, vectorizer string) error {
	exists, err := client.ClassExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}

	properties := []*models.Property{
		{
			Name:     "url",
			DataType: []string{"text"},
		},
		{
			Name:     "text",
			DataType: []string{"text"},
		},
		{
			Name:     "metadata",
			DataType: []string{"text"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       name,
			Description: "Webpages ingested for retrieval",
			Vectorizer:  vectorizer,
			Properties:  properties,
		}
		if err := client.CreateClass(ctx, class); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		slog.InfoContext(ctx, "collection created", "collection", name, "vectorizer", vectorizer)
		return nil
	}

	// Collection exists, check for missing properties
	class, err := client.GetClass(ctx, name)
	if err != nil {
		return fmt.Errorf("get collection %s: %w", name, err)
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, name, p); err != nil {
				return fmt.Errorf("add property %s to %s: %w", p.Name, name, err)
			}
			slog.InfoContext(ctx, "collection property added", "collection", name, "property", p.Name)
		}
	}

	return nil
}
