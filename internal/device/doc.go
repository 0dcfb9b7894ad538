// Package device keeps a local SQLite mirror of the cloud device directory.
//
// The Registry is fed coordinator snapshots through Sync. It creates rows for
// newly discovered devices, updates metadata and state when they change, and
// records each state change in state_history tagged with its source
// (refresh, realtime or optimistic). A refresh also stamps last_seen_at.
//
// Devices the cloud stops listing are kept until an operator removes them
// with DeleteDevice. Deleting a device the latest refresh still lists fails
// with ErrDeviceInCloud.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	registry.SetHistory(device.NewSQLiteStateHistoryRepository(db.DB))
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	coord.Subscribe(func(snap *coordinator.Snapshot, c coordinator.Change) {
//	    if c.Success {
//	        _, _ = registry.Sync(ctx, snap, c.Source)
//	    }
//	})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Sync calls are serialised so
// history rows follow snapshot order.
package device
