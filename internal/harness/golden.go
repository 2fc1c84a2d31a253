package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTranscript serializes a result as the golden transcript: indented
// JSON with a trailing newline. Struct field order and the store's sorted
// reads make the bytes deterministic.
func RenderTranscript(result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return append(data, '\n'), nil
}

// AssertGolden compares a result's transcript against
// testdata/golden/{name}.golden.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	transcript, err := RenderTranscript(result)
	if err != nil {
		t.Fatalf("render transcript: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, transcript)
}

// RunWithGolden executes a scenario and compares its transcript against
// the golden file named after it.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	AssertGolden(t, scenario.Name, result)
	return result
}
