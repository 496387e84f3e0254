package simulator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walk.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	Convey("Given no scenario file", t, func() {
		sc, err := LoadScenario("")

		Convey("Then the default scenario is used", func() {
			So(err, ShouldBeNil)
			So(sc, ShouldResemble, DefaultScenario())
		})
	})

	Convey("Given a partial scenario", t, func() {
		path := writeScenario(t, `
branch:
  id: 9
  latitude: 21.4858
  longitude: 39.1925
  radius: 60
speed: 2.5
interval: 500ms
dwell: 1m
`)
		sc, err := LoadScenario(path)

		Convey("Then set fields override the defaults", func() {
			So(err, ShouldBeNil)
			So(sc.Branch.ID, ShouldEqual, 9)
			So(sc.Branch.Radius, ShouldEqual, 60)
			So(sc.Speed, ShouldEqual, 2.5)
			So(sc.Interval, ShouldEqual, 500*time.Millisecond)
			So(sc.Dwell, ShouldEqual, time.Minute)
		})

		Convey("Then unset fields keep their defaults", func() {
			So(sc.Start, ShouldResemble, DefaultScenario().Start)
			So(sc.Noise, ShouldEqual, DefaultScenario().Noise)
		})

		Convey("Then Target carries the branch geometry", func() {
			b := sc.Target()
			So(b.ID, ShouldEqual, 9)
			So(b.Latitude, ShouldEqual, 21.4858)
			So(b.Radius, ShouldEqual, 60)
		})
	})

	Convey("Given invalid scenarios", t, func() {
		cases := map[string]string{
			"zero radius":    "branch: {latitude: 1, longitude: 1, radius: 0}\n",
			"bad latitude":   "branch: {latitude: 95, longitude: 1, radius: 10}\n",
			"zero speed":     "speed: 0\n",
			"negative noise": "noise: -1\n",
		}
		for name, body := range cases {
			Convey("Then "+name+" is rejected", func() {
				_, err := LoadScenario(writeScenario(t, body))
				So(errors.Is(err, ErrInvalidScenario), ShouldBeTrue)
			})
		}
	})

	Convey("Given malformed YAML", t, func() {
		_, err := LoadScenario(writeScenario(t, "branch: [unterminated"))

		Convey("Then parsing fails", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "parse scenario")
		})
	})

	Convey("Given a missing file", t, func() {
		_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))

		Convey("Then reading fails", func() {
			So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
		})
	})
}
