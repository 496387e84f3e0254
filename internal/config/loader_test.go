package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/fieldpresence/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Window.WorkStart, convey.ShouldEqual, "08:00")
				convey.So(cfg.Engine.UpdateFPS, convey.ShouldEqual, 60)
				convey.So(cfg.Branches, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("PRESENCE_ADDR", ":8080")
			_ = os.Setenv("PRESENCE_USER_ID", "u-42")
			_ = os.Setenv("PRESENCE_WORKER_COUNT", "8")
			_ = os.Setenv("PRESENCE_RECORDED_TODAY", "true")
			_ = os.Setenv("PRESENCE_ENGINE__UPDATE_FPS", "30")
			_ = os.Setenv("PRESENCE_ENGINE__RETRY_COOLDOWN", "3s")
			_ = os.Setenv("PRESENCE_WINDOW__WORKING_DAYS", "mon, tue,wed")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.UserID, convey.ShouldEqual, "u-42")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 8)
				convey.So(cfg.RecordedToday, convey.ShouldBeTrue)
				convey.So(cfg.Engine.UpdateFPS, convey.ShouldEqual, 30)
				convey.So(cfg.Engine.RetryCooldown, convey.ShouldEqual, 3*time.Second)
				convey.So(cfg.Window.WorkingDays, convey.ShouldResemble, []string{"mon", "tue", "wed"})
			})

			convey.Convey("Then untouched nested values keep their defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Engine.BatchIntervalSec, convey.ShouldEqual, 30)
				convey.So(cfg.Window.LateCheckinMinutes, convey.ShouldEqual, 15)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
backend_url: "https://hr.example.com/api"
branches:
  - id: 7
    name: "Olaya HQ"
    latitude: 24.7136
    longitude: 46.6753
    geofence_radius: 150
  - id: 9
    name: "Malaz"
    latitude: 24.6660
    longitude: 46.7310
    geofence_radius: 80
window:
  work_start: "07:30"
  work_end: "16:30"
  early_checkin_minutes: 30
  late_checkin_minutes: 10
  working_days: [sun, mon, tue, wed, thu]
engine:
  gps_correction_weight: 0.4
  heartbeat_interval: 2m
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PRESENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.BackendURL, convey.ShouldEqual, "https://hr.example.com/api")
				convey.So(cfg.Branches, convey.ShouldHaveLength, 2)
				convey.So(cfg.Branches[0].ID, convey.ShouldEqual, 7)
				convey.So(cfg.Branches[0].Name, convey.ShouldEqual, "Olaya HQ")
				convey.So(cfg.Branches[1].Radius, convey.ShouldEqual, 80)
				convey.So(cfg.Window.WorkStart, convey.ShouldEqual, "07:30")
				convey.So(cfg.Window.EarlyCheckinMinutes, convey.ShouldEqual, 30)
				convey.So(cfg.Engine.GPSCorrectionWeight, convey.ShouldEqual, 0.4)
				convey.So(cfg.Engine.HeartbeatInterval, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.Engine.NoiseThreshold, convey.ShouldEqual, 0.2)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
worker_count: 6
engine:
  update_fps: 20
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PRESENCE_CONFIG", tmpFile)
			_ = os.Setenv("PRESENCE_ADDR", ":8080")
			_ = os.Setenv("PRESENCE_ENGINE__UPDATE_FPS", "10")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.Engine.UpdateFPS, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PRESENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("PRESENCE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("PRESENCE_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("PRESENCE_WORKER_COUNT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a branch in the file is invalid", func() {
			yamlContent := `
branches:
  - id: 1
    latitude: 24.7
    longitude: 46.6
    geofence_radius: 0
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("PRESENCE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should reject the branch", func() {
				convey.So(errors.Is(err, config.ErrInvalidBranch), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"PRESENCE_CONFIG",
		"PRESENCE_ADDR",
		"PRESENCE_USER_ID",
		"PRESENCE_WORKER_COUNT",
		"PRESENCE_RECORDED_TODAY",
		"PRESENCE_ENGINE__UPDATE_FPS",
		"PRESENCE_ENGINE__RETRY_COOLDOWN",
		"PRESENCE_WINDOW__WORKING_DAYS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "presence-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
