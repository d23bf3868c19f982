package main

// General API documentation for swaggo. Regenerate internal/docs with
// `swag init -g cmd/lounged/docs.go -o internal/docs`.
//
// @title           lounged API
// @version         1.0
// @description     Image generation queue and remote model readiness for the lounge site.
//
// @contact.name   lounged maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
