// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so job and app files validate the same
// way regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// JobManifestSchema is the embedded schema for local job definition files
// (job.json / job.yaml).
//
//go:embed job-manifest.schema.json
var JobManifestSchema []byte

// AppManifestSchema is the embedded schema for app.json files deployed with
// every application.
//
//go:embed app-manifest.schema.json
var AppManifestSchema []byte
