package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
	"seerlord/internal/infra/logger"
)

type fakePlugin struct {
	name string
	desc string
}

func (f *fakePlugin) Name() string                            { return f.name }
func (f *fakePlugin) Description() string                     { return f.desc }
func (f *fakePlugin) Graph() domain.ExecutableGraph           { return nil }
func (f *fakePlugin) Capabilities() domain.PluginCapabilities { return domain.PluginCapabilities{} }
func (f *fakePlugin) CritiqueInstructions() string            { return "" }

func TestRegisterAndGet(t *testing.T) {
	r := New(nil, logger.Discard())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, &fakePlugin{name: "voyager", desc: "travel"}, "voyager"))

	p, err := r.Get("voyager")
	require.NoError(t, err)
	assert.Equal(t, "travel", p.Description())

	dir, err := r.Dir("voyager")
	require.NoError(t, err)
	assert.Equal(t, "voyager", dir)
}

func TestGetMissingPlugin(t *testing.T) {
	r := New(nil, logger.Discard())

	_, err := r.Get("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}

func TestLastRegistrationWins(t *testing.T) {
	r := New(nil, logger.Discard())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, &fakePlugin{name: "tutor", desc: "old"}, "a"))
	require.NoError(t, r.Register(ctx, &fakePlugin{name: "tutor", desc: "new"}, "b"))

	p, err := r.Get("tutor")
	require.NoError(t, err)
	assert.Equal(t, "new", p.Description())

	dir, err := r.Dir("tutor")
	require.NoError(t, err)
	assert.Equal(t, "b", dir)
	assert.Equal(t, 1, r.Len())
}

func TestListExcludesSystemPlugins(t *testing.T) {
	r := New(nil, logger.Discard())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, &fakePlugin{name: "voyager"}, ""))
	require.NoError(t, r.Register(ctx, &fakePlugin{name: "tutor"}, ""))
	require.NoError(t, r.Register(ctx, &fakePlugin{name: "_mail_service_"}, ""))

	names := []string{}
	for _, p := range r.List() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"tutor", "voyager"}, names)

	// System plugins remain invokable by name.
	_, err := r.Get("_mail_service_")
	assert.NoError(t, err)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := New(nil, logger.Discard())
	err := r.Register(context.Background(), &fakePlugin{name: ""}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
