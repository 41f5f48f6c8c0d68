package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	name string
	log  *[]string
	veto bool
	fail error
}

func (l *recordingListener) OnPreUpdate(ctx context.Context, ev *UpdateEvent) (bool, error) {
	*l.log = append(*l.log, "pre:"+l.name)
	return l.veto, l.fail
}

func (l *recordingListener) OnPostUpdate(ctx context.Context, ev *UpdateEvent) error {
	*l.log = append(*l.log, "post:"+l.name)
	return l.fail
}

func (l *recordingListener) OnPostCommitUpdate(ctx context.Context, ev *UpdateEvent) error {
	*l.log = append(*l.log, "commit:"+l.name)
	return l.fail
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.PreUpdate(&recordingListener{name: "a", log: &log})
	r.PreUpdate(&recordingListener{name: "b", log: &log})
	r.PostUpdate(&recordingListener{name: "c", log: &log})
	r.PostCommitUpdate(&recordingListener{name: "d", log: &log})

	veto, err := r.FirePreUpdate(context.Background(), &UpdateEvent{})
	require.NoError(t, err)
	assert.False(t, veto)

	require.NoError(t, r.FirePostUpdate(context.Background(), &UpdateEvent{}))
	require.NoError(t, r.FirePostCommitUpdate(context.Background(), &UpdateEvent{}))

	assert.Equal(t, []string{"pre:a", "pre:b", "post:c", "commit:d"}, log)
}

func TestRegistry_AnyVetoWins(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.PreUpdate(&recordingListener{name: "a", log: &log, veto: true})
	r.PreUpdate(&recordingListener{name: "b", log: &log})

	veto, err := r.FirePreUpdate(context.Background(), &UpdateEvent{})
	require.NoError(t, err)
	assert.True(t, veto)
	assert.Equal(t, []string{"pre:a", "pre:b"}, log, "a veto must not skip later listeners")
}

func TestRegistry_ErrorStopsChain(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	r := NewRegistry()
	r.PostUpdate(&recordingListener{name: "a", log: &log, fail: boom})
	r.PostUpdate(&recordingListener{name: "b", log: &log})

	err := r.FirePostUpdate(context.Background(), &UpdateEvent{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"post:a"}, log)
}

func TestRegistry_EmptyIsNoop(t *testing.T) {
	r := NewRegistry()

	veto, err := r.FirePreUpdate(context.Background(), &UpdateEvent{})
	require.NoError(t, err)
	assert.False(t, veto)
	require.NoError(t, r.FirePostUpdate(context.Background(), &UpdateEvent{}))
	require.NoError(t, r.FirePostCommitUpdate(context.Background(), &UpdateEvent{}))
}
