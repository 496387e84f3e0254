package cooldown_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/fieldpresence/internal/domain/cooldown"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestInMemoryTracker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a tracker with the default window", t, func() {
		tr := cooldown.NewInMemoryTracker()

		Convey("Then it starts empty with a five minute window", func() {
			So(tr.Size(), ShouldEqual, 0)
			So(tr.Window(), ShouldEqual, 5*time.Minute)
		})

		Convey("When a key fires for the first time", func() {
			ok := tr.Allow(ctx, "user-1", base)

			Convey("Then it is allowed and recorded", func() {
				So(ok, ShouldBeTrue)
				So(tr.Size(), ShouldEqual, 1)
				last, found := tr.Last(ctx, "user-1")
				So(found, ShouldBeTrue)
				So(last, ShouldEqual, base)
			})

			Convey("And it fires again inside the window", func() {
				So(tr.Allow(ctx, "user-1", base.Add(4*time.Minute+59*time.Second)), ShouldBeFalse)

				Convey("Then the suppressed attempt does not extend the window", func() {
					last, _ := tr.Last(ctx, "user-1")
					So(last, ShouldEqual, base)
				})
			})

			Convey("And it fires again once the window has passed", func() {
				So(tr.Allow(ctx, "user-1", base.Add(5*time.Minute)), ShouldBeTrue)
				So(tr.Size(), ShouldEqual, 1)
			})

			Convey("And another key fires", func() {
				So(tr.Allow(ctx, "user-2", base.Add(time.Second)), ShouldBeTrue)
				So(tr.Size(), ShouldEqual, 2)
			})

			Convey("And the key is forgotten", func() {
				tr.Forget(ctx, "user-1")
				So(tr.Size(), ShouldEqual, 0)
				So(tr.Allow(ctx, "user-1", base.Add(time.Second)), ShouldBeTrue)
			})
		})

		Convey("When forgetting an unknown key", func() {
			tr.Forget(ctx, "nobody")
			So(tr.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded tracker", t, func() {
		tr := cooldown.NewInMemoryTracker(cooldown.WithMaxSize(2), cooldown.WithWindow(time.Minute))
		tr.Allow(ctx, "a", base)
		tr.Allow(ctx, "b", base.Add(time.Second))
		tr.Allow(ctx, "c", base.Add(2*time.Second))

		Convey("Then the key with the oldest alert is evicted", func() {
			So(tr.Size(), ShouldEqual, 2)
			_, found := tr.Last(ctx, "a")
			So(found, ShouldBeFalse)
			_, found = tr.Last(ctx, "c")
			So(found, ShouldBeTrue)
		})
	})
}

func TestTrackerConcurrency(t *testing.T) {
	Convey("Given many goroutines racing on one key", t, func() {
		tr := cooldown.NewInMemoryTracker()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if tr.Allow(context.Background(), "user-1", base) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins", func() {
			So(allowed, ShouldEqual, 1)
		})
	})

	Convey("Given distinct keys recorded concurrently", t, func() {
		tr := cooldown.NewInMemoryTracker(cooldown.WithMaxSize(0))
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					tr.Allow(context.Background(), fmt.Sprintf("u-%d-%d", g, j), base)
				}
			}(i)
		}
		wg.Wait()
		So(tr.Size(), ShouldEqual, 500)
	})
}
