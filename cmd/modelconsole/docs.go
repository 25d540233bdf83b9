package main

// General API documentation for swaggo. Generate with
// `swag init -g cmd/modelconsole/docs.go` and build with -tags swagger.
//
// @title           modelconsole API
// @version         1.0
// @description     HTTP API for managing the models of a local Ollama daemon.
//
// @contact.name   modelconsole maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
