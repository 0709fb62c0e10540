package main

// General API documentation for swaggo. Run `swag init -g cmd/lunad/docs.go -o docs` to regenerate.
//
// @title           lunad API
// @version         1.0
// @description     HTTP API for a conversational llama.cpp session daemon.
//
// @contact.name   lunad maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
