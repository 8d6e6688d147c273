package bridge

import (
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/solarkbridge/pkg/storage"
)

// Configured registers the polling flags and returns a Bridge that is
// initialized once flags are parsed.
func Configured(cloud Cloud, db storage.Database) *Bridge {
	scan := lflag.Duration("scan-interval", DefaultScanInterval, "How often telemetry is polled")
	settings := lflag.Duration("settings-interval", MinSettingsInterval, "How often inverter settings are polled (at least 300s and the scan interval)")
	allowWrite := lflag.Bool("allow-write-access", false, "Allow changing inverter settings")

	b := &Bridge{}
	lflag.Do(func() {
		b.init(cloud, db, Options{
			ScanInterval:     *scan,
			SettingsInterval: *settings,
			AllowWriteAccess: *allowWrite,
		})
	})
	return b
}
