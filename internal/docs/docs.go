// Package docs holds the OpenAPI document served under /swagger when the
// binary is built with -tags=swagger. Regenerate with `swag init -g cmd/lounged/docs.go -o internal/docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "lounged maintainers"},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {
            "get": {
                "produces": ["application/json"],
                "summary": "List registry models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/models/{id}/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Check remote model readiness",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelStatusResponse"}},
                    "404": {"description": "Unknown model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models/{id}/warmup": {
            "post": {
                "produces": ["application/json"],
                "summary": "Send a warm-up call for a model",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelStatusResponse"}},
                    "404": {"description": "Unknown model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/queue": {
            "get": {
                "produces": ["application/json"],
                "summary": "Queue snapshot in FIFO order",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QueueResponse"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Enqueue an image generation request",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.EnqueueRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.QueuedRequest"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Unknown model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Queue full", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/queue/events": {
            "get": {
                "produces": ["text/event-stream"],
                "summary": "Stream queue snapshots as Server-Sent Events",
                "responses": {"200": {"description": "event: queue, data: JSON array of requests"}}
            }
        },
        "/queue/{id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get one request",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QueuedRequest"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "summary": "Cancel a pending or processing request",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.QueuedRequest"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/images/{name}": {
            "get": {
                "produces": ["image/png", "image/jpeg"],
                "summary": "Fetch a generated image or thumbnail",
                "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Service status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        }
    },
    "definitions": {
        "types.EnqueueRequest": {
            "type": "object",
            "properties": {
                "model": {"type": "string", "example": "stable-diffusion"},
                "prompt": {"type": "string", "example": "a neon arcade at night"},
                "parameters": {"type": "object", "additionalProperties": true}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400}
            }
        },
        "types.Model": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "stable-diffusion"},
                "name": {"type": "string", "example": "Stable Diffusion"},
                "provider": {"type": "string", "example": "huggingface"},
                "endpoint": {"type": "string"},
                "description": {"type": "string"},
                "requires_auth": {"type": "boolean"},
                "parameters": {"type": "object", "additionalProperties": {"$ref": "#/definitions/types.ParamSpec"}}
            }
        },
        "types.ParamSpec": {
            "type": "object",
            "properties": {
                "label": {"type": "string"},
                "type": {"type": "string", "enum": ["number", "string", "boolean", "select"]},
                "options": {"type": "array", "items": {"type": "string"}},
                "min": {"type": "number"},
                "max": {"type": "number"},
                "step": {"type": "number"},
                "integer": {"type": "boolean"},
                "default": {},
                "description": {"type": "string"},
                "advanced": {"type": "boolean"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}}
        },
        "types.ModelLoadStatus": {
            "type": "object",
            "properties": {
                "loaded": {"type": "boolean"},
                "loading": {"type": "boolean"},
                "last_check": {"type": "string", "format": "date-time"},
                "estimated_time": {"type": "number"},
                "load_start_time": {"type": "string", "format": "date-time"},
                "error": {"type": "string"},
                "attempts": {"type": "integer"},
                "next_retry": {"type": "string", "format": "date-time"},
                "permanently_failed": {"type": "boolean"}
            }
        },
        "types.ModelStatusResponse": {
            "type": "object",
            "properties": {
                "model_id": {"type": "string", "example": "stable-diffusion"},
                "status": {"$ref": "#/definitions/types.ModelLoadStatus"},
                "progress": {"type": "integer", "example": 42}
            }
        },
        "types.QueuedRequest": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "model_id": {"type": "string", "example": "stable-diffusion"},
                "prompt": {"type": "string"},
                "parameters": {"type": "object", "additionalProperties": true},
                "status": {"type": "string", "enum": ["pending", "processing", "complete", "failed"]},
                "timestamp": {"type": "string", "format": "date-time"},
                "progress": {"type": "integer"},
                "position": {"type": "integer"},
                "error": {"type": "string"},
                "result_url": {"type": "string"},
                "thumbnail_url": {"type": "string"}
            }
        },
        "types.QueueResponse": {
            "type": "object",
            "properties": {
                "requests": {"type": "array", "items": {"$ref": "#/definitions/types.QueuedRequest"}},
                "pending": {"type": "integer", "example": 2},
                "max_pending": {"type": "integer", "example": 10}
            }
        },
        "types.QueueStats": {
            "type": "object",
            "properties": {
                "pending": {"type": "integer"},
                "processing": {"type": "integer"},
                "complete": {"type": "integer"},
                "failed": {"type": "integer"},
                "max_pending": {"type": "integer"},
                "inflight": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "queue": {"$ref": "#/definitions/types.QueueStats"},
                "models": {"type": "object", "additionalProperties": {"$ref": "#/definitions/types.ModelLoadStatus"}},
                "token_configured": {"type": "boolean"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "lounged API",
	Description:      "Image generation queue and remote model readiness for the lounge site.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
