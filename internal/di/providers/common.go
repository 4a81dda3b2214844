package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// databaseFile is the sqlite file name under the data path.
	databaseFile = "ezhuthu.db"
)
