package simulator

import "time"

// Config holds configuration for a simulated walk.
type Config struct {
	BaseURL      string        // Base URL of the presence service
	ScenarioFile string        // YAML scenario; empty uses DefaultScenario
	Timeout      time.Duration // HTTP request timeout
	Wait         time.Duration // how long to poll /state for a registration
	PollInterval time.Duration // /state poll period
	LogFile      string        // Log file for simulator output
	Verbose      bool          // Log every posted step
}

// Stats holds walk statistics.
type Stats struct {
	StepsWalked   int
	FixesPosted   int
	FixesFailed   int
	MotionPosted  int
	MotionFailed  int
	StatePolls    int
	Registered    bool
	AttendanceID  string
	FinalDistance float64 // meters from the branch centre at the last step
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}
