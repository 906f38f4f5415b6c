// Package watcher keeps an index in step with a folder of PDFs.
//
// A HybridWatcher uses fsnotify and falls back to polling where fsnotify
// cannot start (network mounts, some container volumes). Events are
// debounced so that a PDF written in several steps is ingested once, and
// only paths accepted by Options.Filter are reported.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, folder) }()
//	return watcher.Serve(ctx, w, handler, logger)
package watcher
