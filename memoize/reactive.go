package memoize

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/ro"
)

// Reactive exposes a Memoizer's get-or-fetch composition as samber/ro
// observables, for stream-based workflows where the fetch itself is an
// observable pipeline. It is an alternative surface over the same
// Memoizer: both share the singleflight group, so a reactive fetch and
// a plain Do for the same key still collapse into one.
type Reactive struct {
	m *Memoizer
}

// NewReactive wraps m with an observable surface.
func NewReactive(m *Memoizer) *Reactive {
	return &Reactive{m: m}
}

// Memoizer returns the wrapped memoizer for direct access.
func (r *Reactive) Memoizer() *Memoizer {
	return r.m
}

// GetOrFetch emits the cached value for key, running the fetch
// observable on a miss and storing its last emission. The observable
// errors if the fetch errors or completes without emitting.
//
// Example:
//
//	r.GetOrFetch(ctx, key, func() ro.Observable[[]byte] {
//	    return loadFromUpstream(id)
//	}).Subscribe(...)
func (r *Reactive) GetOrFetch(
	ctx context.Context,
	key string,
	fetch func() ro.Observable[[]byte],
) ro.Observable[[]byte] {
	return ro.NewObservable(func(observer ro.Observer[[]byte]) ro.Teardown {
		data, err := r.m.Do(ctx, key, func(context.Context) ([]byte, error) {
			return drain(fetch())
		})
		if err != nil {
			observer.Error(err)
			return nil
		}
		observer.Next(data)
		observer.Complete()
		return nil
	})
}

// GetOrFetchTyped is GetOrFetch with JSON serialization for T,
// inheriting DoTyped's corrupt-entry handling.
func GetOrFetchTyped[T any](
	ctx context.Context,
	r *Reactive,
	key string,
	fetch func() ro.Observable[T],
) ro.Observable[T] {
	return ro.NewObservable(func(observer ro.Observer[T]) ro.Teardown {
		out, err := DoTyped(ctx, r.m, key, func(context.Context) (T, error) {
			return drain(fetch())
		})
		if err != nil {
			observer.Error(err)
			return nil
		}
		observer.Next(out)
		observer.Complete()
		return nil
	})
}

// drain subscribes to obs and returns its last emission. Completion
// without an emission is ErrFetchFailed.
func drain[T any](obs ro.Observable[T]) (T, error) {
	var (
		result   T
		has      bool
		fetchErr error
	)
	obs.Subscribe(ro.NewObserver(
		func(v T) {
			result = v
			has = true
		},
		func(err error) {
			fetchErr = err
		},
		func() {},
	))
	if fetchErr != nil {
		var zero T
		return zero, fetchErr
	}
	if !has {
		var zero T
		return zero, ErrFetchFailed
	}
	return result, nil
}

// Get emits the cached value for key, or errors on a miss.
func (r *Reactive) Get(ctx context.Context, key string) ro.Observable[[]byte] {
	return ro.NewObservable(func(observer ro.Observer[[]byte]) ro.Teardown {
		data, err := r.m.cache.Get(ctx, key)
		if err != nil {
			observer.Error(err)
			return nil
		}
		observer.Next(data)
		observer.Complete()
		return nil
	})
}

// Set stores value under key with the memoizer's default TTL and
// completes, or errors if the store fails.
func (r *Reactive) Set(ctx context.Context, key string, value []byte) ro.Observable[struct{}] {
	return r.SetWithTTL(ctx, key, value, r.m.ttl)
}

// SetWithTTL is Set with an explicit TTL.
func (r *Reactive) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) ro.Observable[struct{}] {
	return ro.NewObservable(func(observer ro.Observer[struct{}]) ro.Teardown {
		if err := r.m.cache.SetWithTTL(ctx, key, value, ttl); err != nil {
			observer.Error(err)
			return nil
		}
		observer.Complete()
		return nil
	})
}

// Exists emits whether key is present and completes.
func (r *Reactive) Exists(ctx context.Context, key string) ro.Observable[bool] {
	return ro.NewObservable(func(observer ro.Observer[bool]) ro.Teardown {
		ok, err := r.m.cache.Exists(ctx, key)
		if err != nil {
			observer.Error(err)
			return nil
		}
		observer.Next(ok)
		observer.Complete()
		return nil
	})
}

// Invalidate removes key and completes, so the next GetOrFetch
// fetches fresh.
func (r *Reactive) Invalidate(ctx context.Context, key string) ro.Observable[struct{}] {
	return ro.NewObservable(func(observer ro.Observer[struct{}]) ro.Teardown {
		if err := r.m.Invalidate(ctx, key); err != nil {
			observer.Error(err)
			return nil
		}
		observer.Complete()
		return nil
	})
}

// InvalidateMany removes keys, emitting each as it is removed.
// Missing keys are not errors; the observable errors only when the
// cache itself fails.
func (r *Reactive) InvalidateMany(ctx context.Context, keys []string) ro.Observable[string] {
	return ro.NewObservable(func(observer ro.Observer[string]) ro.Teardown {
		for _, key := range keys {
			if err := r.m.Invalidate(ctx, key); err != nil {
				observer.Error(err)
				return nil
			}
			observer.Next(key)
		}
		observer.Complete()
		return nil
	})
}

// Stream passes source through unchanged, storing each item under
// keyFunc(item) with the memoizer's default TTL. Stores are best
// effort: marshal or cache failures never disturb the stream.
//
// Example:
//
//	warmed := memoize.Stream(ctx, r, products, func(p Product) string {
//	    return p.SKU
//	})
func Stream[T any](
	ctx context.Context,
	r *Reactive,
	source ro.Observable[T],
	keyFunc func(T) string,
) ro.Observable[T] {
	return ro.Pipe1(
		source,
		ro.DoOnNext(func(item T) {
			data, err := json.Marshal(item)
			if err != nil {
				return
			}
			_ = r.m.cache.SetWithTTL(ctx, keyFunc(item), data, r.m.ttl)
		}),
	)
}
