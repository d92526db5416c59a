// Package config loads engine configuration and blueprints.
//
// # Engine configuration
//
// EngineConfig is read from YAML over DefaultEngineConfig, then
// TASKTREE_STORE_PATH, TASKTREE_STORE_BACKEND and LOG_LEVEL are applied and
// the result is checked with validator tags:
//
//	store:
//	  backend: sqlite        # sqlite | badger | file | memory
//	  path: .tasktree
//	generation:
//	  command: ./gen-tests
//	  max_concurrent: 4
//	  timeout: 5m
//	policy:
//	  enabled: true
//	  paths: [policies/]
//
// # Blueprints
//
// BlueprintLoader accepts .cue, .json, .yaml and .yml files, or a directory
// holding a CUE package. Every format is compiled to a CUE value, unified
// with the built-in #Blueprint definition (see SchemaRegistry), decoded into
// engine.Blueprint and validated with struct tags. The blueprint may sit at
// the document root or under a top-level "blueprint" field:
//
//	blueprint: {
//		name: "shop"
//		modules: [{
//			id:   "catalog"
//			name: "Catalog"
//			type: "backend"
//			responsibilities: ["List products"]
//		}]
//	}
//
// Validation problems carry file, line and column where CUE knows them.
package config
