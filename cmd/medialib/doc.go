// Package main hosts the medialib CLI entrypoint and command graph.
//
// The Cobra command tree wires configuration, logging, and the internal
// library packages together: ingesting local files, crawling a remote origin,
// inspecting and verifying manifests, and saving user projects. Commands stay
// thin; behaviour lives in the internal packages.
package main
