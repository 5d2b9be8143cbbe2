// Package config holds peek's runtime options.
//
// Options are resolved in three layers: defaults, an optional YAML file,
// then PEEK_* environment variables:
//
//	opts, err := config.Load("peek.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	opts.ApplyEnv()
//	if err := opts.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// A file looks like:
//
//	basePath: /__peek
//	bufferSize: 200
//	maxBodyBytes: 65536
//	token: ${PEEK_TOKEN:-}
//	ignorePaths:
//	  - /healthz
//	  - /static/**
//	persistTTL: 168h
//	postgres: postgres://localhost/peek?sslmode=disable
package config
