//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is served at /swagger/doc.json. It follows the @Router
// annotations in server.go; regenerate with `swag init -g cmd/loopd/docs.go`.
const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/caches": {
            "get": {
                "produces": ["application/json"],
                "tags": ["caches"],
                "summary": "List session cache files",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CachesResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Server and session status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/sessions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Start a generation session",
                "parameters": [
                    {"description": "session parameters", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.StartRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.SessionInfo"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Describe a session",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SessionInfo"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["sessions"],
                "summary": "Remove a finished session",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/output": {
            "get": {
                "description": "Returns chunks after offset. With wait set, long-polls until output appears, the session waits for input or ends.",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Read session output",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "first chunk index", "name": "offset", "in": "query"},
                    {"type": "string", "description": "long-poll duration (e.g. 5s or 5)", "name": "wait", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OutputResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/stream": {
            "get": {
                "description": "NDJSON: one chunk per line, then {\"done\":true,\"session\":{...}}.",
                "produces": ["application/x-ndjson"],
                "tags": ["sessions"],
                "summary": "Stream session output",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "first chunk index", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.OutputChunk"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/input": {
            "post": {
                "description": "Empty text or a lone newline resumes generation without adding tokens.",
                "consumes": ["application/json"],
                "tags": ["sessions"],
                "summary": "Supply input to a waiting session",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true},
                    {"description": "input text", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.InputRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/stop": {
            "post": {
                "tags": ["sessions"],
                "summary": "Stop a session at its next boundary",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/interrupt": {
            "post": {
                "description": "Hands control back to the user in interactive sessions; otherwise ends the session.",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Interrupt a session",
                "parameters": [
                    {"type": "string", "description": "session id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.InterruptResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.CacheInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "assistant"},
                "path": {"type": "string", "example": "/home/user/.cache/loopd/assistant.session"},
                "size_bytes": {"type": "integer", "example": 1048576},
                "size": {"type": "string", "example": "1.0 MB"},
                "modified_unix": {"type": "integer", "example": 1700000000},
                "in_use_by": {"type": "string"}
            }
        },
        "types.CachesResponse": {
            "type": "object",
            "properties": {
                "caches": {"type": "array", "items": {"$ref": "#/definitions/types.CacheInfo"}}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400}
            }
        },
        "types.InputRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "What is the capital of France?\\n"}
            }
        },
        "types.InterruptResponse": {
            "type": "object",
            "properties": {
                "hard": {"type": "boolean", "example": false}
            }
        },
        "types.OutputChunk": {
            "type": "object",
            "properties": {
                "kind": {"type": "string", "example": "output"},
                "text": {"type": "string", "example": "Hello"}
            }
        },
        "types.OutputResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/types.SessionInfo"},
                "chunks": {"type": "array", "items": {"$ref": "#/definitions/types.OutputChunk"}},
                "next": {"type": "integer", "example": 17},
                "done": {"type": "boolean", "example": false}
            }
        },
        "types.SessionInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "6f1c1b2a-7d7e-4a38-9a0e-1e8f0f3c2b11"},
                "state": {"type": "string", "example": "await_input"},
                "cache": {"type": "string", "example": "assistant"},
                "created_unix": {"type": "integer", "example": 1700000000},
                "reason": {"type": "string", "example": "eog"},
                "error": {"type": "string"},
                "generated": {"type": "integer", "example": 42},
                "n_past": {"type": "integer", "example": 120}
            }
        },
        "types.StartRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "You are a helpful assistant."},
                "n_predict": {"type": "integer", "example": 128},
                "n_keep": {"type": "integer", "example": 0},
                "n_batch": {"type": "integer", "example": 512},
                "grp_attn_n": {"type": "integer", "example": 1},
                "grp_attn_w": {"type": "integer", "example": 512},
                "ctx_shift": {"type": "boolean", "example": true},
                "antiprompts": {"type": "array", "items": {"type": "string"}, "example": ["User:"]},
                "interactive": {"type": "boolean", "example": true},
                "interactive_first": {"type": "boolean", "example": false},
                "conversation": {"type": "boolean", "example": false},
                "input_prefix": {"type": "string", "example": "User:"},
                "input_suffix": {"type": "string", "example": "Assistant:"},
                "cache": {"type": "string", "example": "assistant"},
                "cache_ro": {"type": "boolean", "example": false},
                "cache_all": {"type": "boolean", "example": false},
                "special": {"type": "boolean", "example": false},
                "n_ctx": {"type": "integer", "example": 2048},
                "script": {"type": "string", "example": "Hello there.</s>"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "ready"},
                "sessions": {"type": "array", "items": {"$ref": "#/definitions/types.SessionInfo"}},
                "active": {"type": "integer", "example": 1},
                "max_sessions": {"type": "integer", "example": 4},
                "started_total": {"type": "integer", "example": 10},
                "finished_total": {"type": "integer", "example": 9},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000}
            }
        }
    }
}`

var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "loopd API",
	Description:      "Interactive text generation sessions over HTTP.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
