package api_test

import (
	"context"
	"os"
	"testing"

	"github.com/MeKo-Tech/emeter/test/integration/api/support"
	"github.com/cucumber/godog"
)

// InitializeScenario gives every scenario a fresh service and server.
func InitializeScenario(sc *godog.ScenarioContext) {
	tc := support.NewTestContext()
	tc.RegisterSteps(sc)

	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		tc.Cleanup()
		return ctx, err
	})
}

// TestFeatures runs the Godog suite over features/.
func TestFeatures(t *testing.T) {
	format := os.Getenv("GODOG_FORMAT")
	if format == "" {
		format = "pretty"
	}

	suite := godog.TestSuite{
		Name:                "emeter-api",
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   format,
			Tags:     os.Getenv("GODOG_TAGS"),
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
