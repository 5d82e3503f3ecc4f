// Package config loads typed configuration structs from environment
// variables using caarlos0/env tags, with optional .env file support for
// local development.
//
// Every component declares its own config struct and loads it at startup:
//
//	var pgCfg pg.Config
//	config.MustLoad(&pgCfg)
//
// Required variables fail the load, which keeps configuration errors at
// boot time rather than surfacing them on a live request path.
package config
