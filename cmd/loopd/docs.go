package main

// General API documentation for swaggo. Run `swag init -g cmd/loopd/docs.go` to generate docs.
//
// @title           loopd API
// @version         1.0
// @description     Interactive text generation sessions: start, feed input, read output, stop.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
