package notifier

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyInSubscriptionOrder(t *testing.T) {
	n := New[int]()

	var got []string
	n.Subscribe(func(v int) { got = append(got, "first") })
	n.Subscribe(func(v int) { got = append(got, "second") })
	n.Subscribe(func(v int) { got = append(got, "third") })

	n.Notify(1)

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestCancelStopsDelivery(t *testing.T) {
	n := New[string]()

	var got []string
	cancel := n.Subscribe(func(v string) { got = append(got, v) })

	n.Notify("a")
	cancel()
	cancel()
	n.Notify("b")

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 0, subscribed(n))
}

func TestCancelFromInsideCallback(t *testing.T) {
	n := New[int]()

	var secondCalls int
	var cancelSecond func()
	n.Subscribe(func(int) { cancelSecond() })
	cancelSecond = n.Subscribe(func(int) { secondCalls++ })

	n.Notify(1)
	n.Notify(2)

	assert.Equal(t, 0, secondCalls)
	assert.Equal(t, 1, subscribed(n))
}

func TestConcurrentSubscribeAndNotify(t *testing.T) {
	n := New[int]()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		calls int
	)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := n.Subscribe(func(int) {
				mu.Lock()
				calls++
				mu.Unlock()
			})
			defer cancel()
		}()
		go func(v int) {
			defer wg.Done()
			n.Notify(v)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, subscribed(n))
	assert.LessOrEqual(t, calls, 50*50)
}

func subscribed[T any](n *Notifier[T]) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.listeners)
}
