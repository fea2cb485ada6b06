package output

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// sqlite's connection opener stays parked until the pool is closed
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}
