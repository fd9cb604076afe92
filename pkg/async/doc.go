// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, and error collection.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(logger, 5*time.Second, "record download", func(ctx context.Context) error {
//		return store.InsertDownloadEvent(ctx, event)
//	})
//
// WorkerPool: Managed pool of concurrent workers with a bounded queue
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "touch artifacts", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.TrySubmit(func(ctx context.Context) error {
//		return store.TouchArtifact(ctx, id, time.Now())
//	})
//
// # Use Cases
//
// Download event recording, access-time touches, and any other
// fire-and-forget work that must survive the request that spawned it.
package async
