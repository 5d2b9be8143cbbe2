// Package inspector mounts peek on an http.Handler.
//
// Wrap routes requests under the base path to the inspector's own routes
// and captures everything else:
//
//	in, err := inspector.New(config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", in.Wrap(app))
//
// The dashboard is served at the base path (default /__peek). When a
// token is configured, every route except the dashboard and the event
// stream requires it in the X-Peek-Token header or the token query
// parameter.
package inspector
