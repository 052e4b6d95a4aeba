// Package exitcodes defines the exit codes of op-testkit.
package exitcodes

// * Success (0): every selected test passed or was skipped
// * TestFailure (1): at least one test recorded an issue
// * RuntimeErr (2): the run itself failed, for example on bad configuration
// or an image that could not be loaded
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
