package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tender-factory/repository"
)

// fakeMappingStore zählt Datenbankzugriffe, um das Cache-Verhalten zu prüfen.
type fakeMappingStore struct {
	rules map[string]map[string]string
	calls int
}

func (f *fakeMappingStore) GetActive(_ context.Context, platformID string) (map[string]string, error) {
	f.calls++
	rules, ok := f.rules[platformID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rules, nil
}

func TestFieldMapperResolveCaches(t *testing.T) {
	store := &fakeMappingStore{rules: map[string]map[string]string{
		"platform-a": {"title": "name"},
	}}
	mapper := NewFieldMapper(store, zap.NewNop(), 16, time.Minute)

	rules, err := mapper.Resolve(context.Background(), "platform-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "name"}, rules)
	assert.Equal(t, 1, store.calls)

	_, err = mapper.Resolve(context.Background(), "platform-a")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, "second resolve must hit the cache")

	mapper.Invalidate("platform-a")
	_, err = mapper.Resolve(context.Background(), "platform-a")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls, "invalidate must force a fresh load")
}

func TestFieldMapperResolveNoMapping(t *testing.T) {
	store := &fakeMappingStore{rules: map[string]map[string]string{}}
	mapper := NewFieldMapper(store, zap.NewNop(), 16, time.Minute)

	_, err := mapper.Resolve(context.Background(), "unknown-platform")
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestFieldMapperApply(t *testing.T) {
	mapper := NewFieldMapper(&fakeMappingStore{}, zap.NewNop(), 16, time.Minute)

	raw := map[string]any{
		"name": "Supply of chairs",
		"info": map[string]any{
			"customer": map[string]any{"name": "City of Springfield"},
			"price":    "1000",
		},
	}
	mapping := map[string]string{
		"title":         "name",
		"customer_name": "info.customer.name",
		"budget_amount": "info.price",
		"deadline_date": "info.deadline", // Quelle fehlt
		"category":      "info.customer.name.too.deep",
	}

	mapped := mapper.Apply(raw, mapping)

	assert.Equal(t, "Supply of chairs", mapped["title"])
	assert.Equal(t, "City of Springfield", mapped["customer_name"])
	assert.Equal(t, "1000", mapped["budget_amount"])
	_, hasDeadline := mapped["deadline_date"]
	assert.False(t, hasDeadline, "missing source paths are omitted, not errors")
	_, hasCategory := mapped["category"]
	assert.False(t, hasCategory, "paths through non-containers are omitted")
}
