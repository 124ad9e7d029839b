package dht

import (
	"time"
)

// maintenanceLoop reaps expired entries from the local store every
// maintInterval, until done is closed by Stop.
func (d *DHT) maintenanceLoop(done chan struct{}) {
	ticker := time.NewTicker(d.maintInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed := d.store.reapExpired()
			if removed > 0 {
				d.log.WithField("removed", removed).Debug("reaped expired dht entries")
			}
		}
	}
}
