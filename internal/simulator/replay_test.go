package simulator

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestReplayCache(t *testing.T) {
	Convey("Given a replay cache", t, func() {
		c := newReplayCache(3)

		Convey("When a key is stored twice", func() {
			first, seen1 := c.LoadOrStore("k", "a-1")
			second, seen2 := c.LoadOrStore("k", "a-2")

			Convey("Then the first id is replayed", func() {
				So(seen1, ShouldBeFalse)
				So(seen2, ShouldBeTrue)
				So(first, ShouldEqual, "a-1")
				So(second, ShouldEqual, "a-1")
				So(c.Len(), ShouldEqual, 1)
			})
		})

		Convey("When more keys than the bound arrive", func() {
			for i := range 4 {
				c.LoadOrStore(fmt.Sprintf("k%d", i), fmt.Sprintf("a%d", i))
			}

			Convey("Then the oldest key is evicted", func() {
				So(c.Len(), ShouldEqual, 3)
				id, seen := c.LoadOrStore("k0", "fresh")
				So(seen, ShouldBeFalse)
				So(id, ShouldEqual, "fresh")
				_, seen = c.LoadOrStore("k3", "x")
				So(seen, ShouldBeTrue)
			})
		})

		Convey("When used concurrently with one key", func() {
			big := newReplayCache(0)
			var wg sync.WaitGroup
			ids := make([]string, 16)
			for i := range ids {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ids[i], _ = big.LoadOrStore("same", fmt.Sprintf("a%d", i))
				}(i)
			}
			wg.Wait()

			Convey("Then every caller sees the same id", func() {
				for _, id := range ids {
					So(id, ShouldEqual, ids[0])
				}
			})
		})
	})
}
