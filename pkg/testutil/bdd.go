package testutil

import "testing"

// Given, When, and Then name subtests in scenario style without pulling in a
// BDD framework. The full gherkin suite lives in the e2e module; these cover
// in-process tests that want readable scenario output.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
