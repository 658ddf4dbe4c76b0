/*
Package tinyserver is a small multi-threaded HTTP/1.1 server.

A single acceptor polls a non-blocking listening socket and queues every
accepted connection. A fixed pool of workers takes connections off the
queue; each worker reads one request, routes it, writes the response and
closes the connection before taking the next one. The worker count is the
upper bound on concurrent requests.

Features

  - Per-method route trees with static, "?name" variable and trailing "*" segments
  - Unbounded FIFO connection queue and fixed worker pool, no work stealing
  - Shutdown flag that stops intake while queued connections are still served
  - Static files with an optional TTL cache
  - Prometheus metrics and a stats endpoint (JSON, protobuf or YAML)
  - viper configuration, slog logging, cobra CLI

Quick Start

Basic usage example:

package main

import (
    "github.com/searchktools/tiny-server/app"
    "github.com/searchktools/tiny-server/config"
    "github.com/searchktools/tiny-server/core/http"
)

func main() {
    application, err := app.New(config.Default(), nil)
    if err != nil {
        panic(err)
    }

    server := application.Server()
    server.GET("/hello", func(*http.Request) *http.Response {
        return http.NewResponse().WithString("Hello, World!")
    })
    server.GET("/users/?id", func(req *http.Request) *http.Response {
        return http.NewResponse().WithString("user " + req.Param("id"))
    })

    application.RunWithSignals()
}

Modules

The server is organized into several modules:

  - app: Application lifecycle and signal handling
  - config: Configuration loading (viper)
  - logging: slog logger construction
  - core: Server, acceptor loop, connection lifecycle, shutdown, stats
  - core/http: Request parsing and response writing
  - core/router: Route trees and not-found handling
  - core/middleware: Middleware pipeline (recovery, access log, metrics)
  - core/pools: Connection queue, worker pool, reader pool
  - core/poller: Non-blocking listener
  - core/fileserver: Static files
  - core/codec: JSON, protobuf and YAML bodies
  - core/observability: Prometheus collectors
*/
package tinyserver
