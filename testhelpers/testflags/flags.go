package testflags

import (
	"flag"
	"testing"
)

// Unit tests run by default. Integration tests talk to real coordinator or
// ledger endpoints and must be enabled explicitly.
var integrationTest = flag.Bool("integration", false, "Run tests that need a live coordinator or ledger")
var unitTest = flag.Bool("unit", true, "Run the unit go tests")

// IntegrationTest runs the calling test in parallel iff `-integration` is set.
func IntegrationTest(t *testing.T) {
	if !*integrationTest {
		t.SkipNow()
	}
	t.Parallel()
}

// UnitTest will run the test its called from iff the `-unit` or `-short` flag
// is passed when calling `go test`. Otherwise the test will be skipped. UnitTest
// will run the test its called from in parallel.
func UnitTest(t *testing.T) {
	if !*unitTest && !testing.Short() {
		t.SkipNow()
	}
	t.Parallel()
}

// SerialUnitTest is UnitTest without t.Parallel, for tests that register
// process-wide state such as opencensus views.
func SerialUnitTest(t *testing.T) {
	if !*unitTest && !testing.Short() {
		t.SkipNow()
	}
}
