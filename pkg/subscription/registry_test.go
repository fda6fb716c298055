package subscription_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/milux/ATEM-Tally/pkg/subscription"
	"github.com/milux/ATEM-Tally/pkg/switcher"
	"github.com/milux/ATEM-Tally/pkg/tally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	Input int
	State tally.State
}

type fakeClient struct {
	id string

	mu     sync.Mutex
	pushes []push
}

func newClient(id string) *fakeClient {
	return &fakeClient{id: id}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Push(input int, state tally.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, push{input, state})
	return true
}

func (c *fakeClient) received() []push {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]push(nil), c.pushes...)
}

func setup(t *testing.T, program, preview int) (*switcher.Memory, *subscription.Registry) {
	t.Helper()
	mem := switcher.NewMemory()
	require.NoError(t, mem.SetProgramInput(0, program))
	require.NoError(t, mem.SetPreviewInput(0, preview))
	return mem, subscription.NewRegistry(mem)
}

func TestRegistrySubscribePushesInitialStates(t *testing.T) {
	_, reg := setup(t, 1, 3)
	client := newClient("a")

	initial, err := reg.Subscribe(client, []int{1, 3, 5})
	require.NoError(t, err)

	assert.Equal(t, map[int]tally.State{
		1: tally.StateProgram,
		3: tally.StatePreview,
		5: tally.StateInactive,
	}, initial)
	assert.Equal(t, []push{
		{1, tally.StateProgram},
		{3, tally.StatePreview},
		{5, tally.StateInactive},
	}, client.received(), "initial pushes follow request order")
	assert.Equal(t, []int{1, 3, 5}, reg.Inputs())
}

func TestRegistrySubscribeErrors(t *testing.T) {
	_, reg := setup(t, 1, 2)
	client := newClient("a")

	_, err := reg.Subscribe(client, nil)
	assert.ErrorIs(t, err, subscription.ErrNoInputs)

	_, err = reg.Subscribe(client, []int{1})
	require.NoError(t, err)
	_, err = reg.Subscribe(client, []int{2})
	assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)
	assert.Equal(t, []int{1}, reg.Inputs(), "failed subscribe leaves no entry")
}

func TestRegistryDuplicateInputsInRequest(t *testing.T) {
	_, reg := setup(t, 1, 2)
	client := newClient("a")

	_, err := reg.Subscribe(client, []int{2, 2, 2})
	require.NoError(t, err)

	assert.Len(t, client.received(), 1)
	assert.Equal(t, []int{2}, reg.ClientInputs("a"))
}

func TestRegistryPushesChanges(t *testing.T) {
	mem, reg := setup(t, 1, 2)
	a := newClient("a")
	b := newClient("b")

	_, err := reg.Subscribe(a, []int{2})
	require.NoError(t, err)
	_, err = reg.Subscribe(b, []int{1, 2})
	require.NoError(t, err)

	require.NoError(t, mem.Cut(0))

	assert.Equal(t, []push{
		{2, tally.StatePreview},
		{2, tally.StateProgram},
	}, a.received())
	assert.ElementsMatch(t, []push{
		{1, tally.StateProgram},
		{2, tally.StatePreview},
		{1, tally.StatePreview},
		{2, tally.StateProgram},
	}, b.received())
}

func TestRegistrySharedComputerLifecycle(t *testing.T) {
	mem, reg := setup(t, 1, 2)
	baseline := mem.ListenerCount()

	a := newClient("a")
	b := newClient("b")
	_, err := reg.Subscribe(a, []int{2})
	require.NoError(t, err)
	_, err = reg.Subscribe(b, []int{2})
	require.NoError(t, err)

	assert.Equal(t, baseline+1, mem.ListenerCount(), "one computer per input")

	reg.Unsubscribe("a")
	assert.Equal(t, []int{2}, reg.Inputs())

	require.NoError(t, mem.SetProgramInput(0, 2))
	assert.Len(t, a.received(), 1, "unsubscribed client receives nothing")
	assert.Equal(t, push{2, tally.StatePreviewProgram}, b.received()[1])

	reg.Unsubscribe("b")
	assert.Empty(t, reg.Inputs())
	assert.Empty(t, reg.Clients())
	assert.Equal(t, baseline, mem.ListenerCount(), "computer destroyed with last subscriber")

	reg.Unsubscribe("b")
	reg.Unsubscribe("unknown")
}

func TestRegistryResubscribeAfterRelease(t *testing.T) {
	mem, reg := setup(t, 1, 2)
	a := newClient("a")

	_, err := reg.Subscribe(a, []int{2})
	require.NoError(t, err)
	reg.Unsubscribe("a")

	require.NoError(t, mem.SetProgramInput(0, 2))

	again := newClient("a")
	initial, err := reg.Subscribe(again, []int{2})
	require.NoError(t, err)
	assert.Equal(t, tally.StatePreviewProgram, initial[2], "fresh computer reads current state")
}

func TestRegistryNotifySuppressesDuplicates(t *testing.T) {
	_, reg := setup(t, 1, 2)
	a := newClient("a")
	b := newClient("b")
	_, err := reg.Subscribe(b, []int{4})
	require.NoError(t, err)
	_, err = reg.Subscribe(a, []int{4})
	require.NoError(t, err)

	assert.Nil(t, reg.Notify(4, tally.StateInactive), "same as last sent")

	clients := reg.Notify(4, tally.StateProgram)
	require.Len(t, clients, 2)
	assert.Equal(t, "a", clients[0].ID())
	assert.Equal(t, "b", clients[1].ID())

	assert.Nil(t, reg.Notify(4, tally.StateProgram))
	assert.Nil(t, reg.Notify(9, tally.StateProgram), "untracked input")
}

func TestRegistrySnapshot(t *testing.T) {
	_, reg := setup(t, 1, 2)
	_, err := reg.Subscribe(newClient("a"), []int{2, 1})
	require.NoError(t, err)
	_, err = reg.Subscribe(newClient("b"), []int{1})
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.Len(t, snap, 2)

	assert.Equal(t, 1, snap[0].Input)
	assert.Equal(t, tally.StateProgram, snap[0].State)
	assert.Equal(t, 2, snap[0].Subscribers)
	assert.Equal(t, []string{tally.ReasonProgramInput}, snap[0].ProgramReasons)

	assert.Equal(t, 2, snap[1].Input)
	assert.Equal(t, []string{tally.ReasonPreviewInput}, snap[1].PreviewReasons)
}

func TestRegistryClose(t *testing.T) {
	mem, reg := setup(t, 1, 2)
	baseline := mem.ListenerCount()

	_, err := reg.Subscribe(newClient("a"), []int{1, 2, 3})
	require.NoError(t, err)

	reg.Close()
	assert.Equal(t, baseline, mem.ListenerCount())
	assert.Empty(t, reg.Inputs())

	_, err = reg.Subscribe(newClient("b"), []int{1})
	assert.ErrorIs(t, err, subscription.ErrClosed)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	mem, reg := setup(t, 1, 2)
	baseline := mem.ListenerCount()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = mem.Cut(0)
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("c%d-%d", g, i)
				if _, err := reg.Subscribe(newClient(id), []int{1, 2, g % 4}); err != nil {
					t.Errorf("subscribe %s: %v", id, err)
					return
				}
				reg.Unsubscribe(id)
			}
		}(g)
	}
	wg.Wait()
	<-done

	assert.Empty(t, reg.Inputs())
	assert.Equal(t, baseline, mem.ListenerCount())
}
