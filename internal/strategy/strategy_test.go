package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradelab/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
	seen int
}

func (s *stubStrategy) Name() string                 { return s.name }
func (s *stubStrategy) Init(_ context.Context) error { return nil }
func (s *stubStrategy) OnBar(_ context.Context, _ domain.Bar) (*domain.Signal, error) {
	s.seen++
	return nil, nil
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(func() Strategy { return &stubStrategy{name: "test-strategy"} })

	got, err := r.New("test-strategy")
	require.NoError(t, err)
	assert.Equal(t, "test-strategy", got.Name())
	assert.True(t, r.Has("test-strategy"))
}

func TestRegistryNewReturnsFreshInstances(t *testing.T) {
	r := NewRegistry()
	r.Register(func() Strategy { return &stubStrategy{name: "s"} })

	a, err := r.New("s")
	require.NoError(t, err)
	b, err := r.New("s")
	require.NoError(t, err)

	_, _ = a.OnBar(context.Background(), domain.Bar{})
	assert.Equal(t, 1, a.(*stubStrategy).seen)
	assert.Equal(t, 0, b.(*stubStrategy).seen)
}

func TestRegistryNew_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.False(t, r.Has("nonexistent"))
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"charlie", "alpha", "bravo"} {
		r.Register(func() Strategy { return &stubStrategy{name: n} })
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, r.List())
}

func TestRegistryListEmpty(t *testing.T) {
	assert.Empty(t, NewRegistry().List())
}
