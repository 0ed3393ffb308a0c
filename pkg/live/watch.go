package live

import (
	"context"
	"slices"
)

// FetchFunc reads a snapshot and names the topics it depends on.
type FetchFunc[T any] func(ctx context.Context) (T, []string, error)

// Watcher holds the initial snapshot of a read and streams later ones.
type Watcher[T any] struct {
	Initial T

	updates chan T
	err     error
}

// Updates is closed when the watch ends. Err then reports why.
func (w *Watcher[T]) Updates() <-chan T {
	return w.updates
}

func (w *Watcher[T]) Err() error {
	return w.err
}

// Watch fetches once, then re-fetches each time one of the snapshot's topics
// is invalidated. Bursts of invalidations coalesce into one re-fetch. The
// watch ends when ctx is done or a re-fetch fails.
func Watch[T any](ctx context.Context, b *Broker, fetch FetchFunc[T]) (*Watcher[T], error) {
	seq := b.Seq()
	initial, topics, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	sub := b.Subscribe(topics...)
	if b.Seq() != seq {
		// Something was published while fetching; its topics are unknown now.
		sub.notify()
	}

	w := &Watcher[T]{Initial: initial, updates: make(chan T)}
	go w.run(ctx, b, sub, topics, fetch)
	return w, nil
}

func (w *Watcher[T]) run(ctx context.Context, b *Broker, sub *Subscription, topics []string, fetch FetchFunc[T]) {
	defer func() {
		sub.Close()
		close(w.updates)
	}()

	for {
		select {
		case <-ctx.Done():
			w.err = ctx.Err()
			return
		case <-sub.C():
		}

		seq := b.Seq()
		snap, next, err := fetch(ctx)
		if err != nil {
			w.err = err
			return
		}
		if !sameTopics(topics, next) {
			sub.Close()
			sub = b.Subscribe(next...)
			topics = next
			if b.Seq() != seq {
				sub.notify()
			}
		}

		select {
		case w.updates <- snap:
		case <-ctx.Done():
			w.err = ctx.Err()
			return
		}
	}
}

func sameTopics(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
