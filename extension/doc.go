// Package extension mounts Courier into a host HTTP application.
//
// The extension:
//   - Runs store migrations and builds the Courier instance on Init
//   - Seeds the primary brokers and starts the optional queue listener
//   - Mounts the API under a configurable prefix, on a stdlib mux or a Forge router
//   - Mounts the embedded STOMP hub at the socket endpoint path
//   - Stops the listener and closes the hub on Stop
//
// Usage:
//
//	ext := extension.New(
//	    extension.WithStore(postgresStore),
//	    extension.WithPrefix("/relay"),
//	)
//	if err := ext.Init(ctx); err != nil {
//	    return err
//	}
//	defer ext.Stop(ctx)
//	http.ListenAndServe(":8080", ext.Handler())
package extension
