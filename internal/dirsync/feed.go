package dirsync

import "sync"

const feedBufferSize = 256

// Observer receives every OperationResult as it is recorded. Calls come from
// the executor's dispatch loop and must not block.
type Observer interface {
	OnResult(OperationResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(OperationResult)

func (f ObserverFunc) OnResult(res OperationResult) {
	f(res)
}

// ResultFeed fans results out to channel subscribers. A subscriber whose
// buffer is full misses events rather than stalling the run.
type ResultFeed struct {
	subs []chan OperationResult
	mu   sync.RWMutex
}

func NewResultFeed() *ResultFeed {
	return &ResultFeed{
		subs: make([]chan OperationResult, 0),
	}
}

// Subscribe returns a channel for receiving results
func (f *ResultFeed) Subscribe() <-chan OperationResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan OperationResult, feedBufferSize)
	f.subs = append(f.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel
func (f *ResultFeed) Unsubscribe(ch <-chan OperationResult) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, sub := range f.subs {
		if sub == ch {
			close(sub)
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
}

// Close closes every remaining subscription.
func (f *ResultFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		close(sub)
	}
	f.subs = nil
}

func (f *ResultFeed) OnResult(res OperationResult) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		select {
		case sub <- res:
		default:
		}
	}
}

// multiObserver calls each observer in turn.
type multiObserver []Observer

func (m multiObserver) OnResult(res OperationResult) {
	for _, o := range m {
		o.OnResult(res)
	}
}
