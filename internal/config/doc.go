// Package config loads and validates devenv project files.
//
// A project is described by a devenv.yaml file. Without an explicit path the
// loader looks in the working directory and then walks up through every parent
// directory, stopping at the first match. The directory that holds the file is
// the project directory: relative paths in the file and the state directory are
// resolved against it.
//
// # Configuration Layers
//
//  1. Built-in defaults (stop grace, readiness timeout, log format)
//  2. User settings (~/.config/devenv/config.yaml, settings block only)
//  3. The project file
//
// # Configuration Structure
//
//	project:
//	  name: shop
//	services:
//	  api:
//	    command: go run ./cmd/api
//	    port: 8080
//	    depends_on: [postgres]
//	infra:
//	  postgres:
//	    image: postgres:16
//	    ports: ["5432:5432"]
//	    ready: pg_isready -U postgres
//	    init:
//	      - psql -U postgres -c 'create database shop'
//	  kafka:
//	    compose: ./docker/kafka.yml
//	    init_service: kafka
//	    init:
//	      - kafka-topics --create --topic orders --bootstrap-server localhost:9092
//
// Services without a port get a free one assigned at startup and see it in
// their PORT environment variable.
package config
