// Package docs holds the Swagger document served at /docs.
// Regenerate with: swag init -g cmd/server/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/readings": {
            "post": {
                "security": [{"Bearer": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["readings"],
                "summary": "Create a reading",
                "parameters": [{
                    "description": "Spread and question",
                    "name": "request",
                    "in": "body",
                    "required": true,
                    "schema": {"$ref": "#/definitions/handlers.CreateReadingRequest"}
                }],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Disposition"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/models.Disposition"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/models.Disposition"}}
                }
            }
        },
        "/readings/async": {
            "post": {
                "security": [{"Bearer": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["readings"],
                "summary": "Start an async reading",
                "parameters": [{
                    "description": "Spread and question",
                    "name": "request",
                    "in": "body",
                    "required": true,
                    "schema": {"$ref": "#/definitions/handlers.CreateReadingRequest"}
                }],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.AsyncReadingResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/readings/async/{id}": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["readings"],
                "summary": "Get an async reading",
                "parameters": [{"type": "string", "description": "Reading id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Disposition"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.AsyncReadingResponse"}}
                }
            }
        },
        "/usage": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["usage"],
                "summary": "Current period usage",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Usage"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.AsyncReadingResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "handlers.CreateReadingRequest": {
            "type": "object",
            "required": ["elements", "template_key"],
            "properties": {
                "elements": {"type": "array", "items": {"$ref": "#/definitions/models.Element"}},
                "known_identifiers": {"type": "array", "items": {"type": "string"}},
                "prior_context_summary": {"type": "string"},
                "template_key": {"type": "string"},
                "user_context": {"type": "string"}
            }
        },
        "middleware.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "string"},
                "message": {"type": "string"},
                "retry_after_ms": {"type": "integer"}
            }
        },
        "models.Element": {
            "type": "object",
            "required": ["id"],
            "properties": {
                "id": {"type": "string"},
                "orientation": {"type": "string"},
                "position": {"type": "string"}
            }
        },
        "models.Disposition": {
            "type": "object",
            "properties": {
                "artifact_text": {"type": "string"},
                "backend_id": {"type": "string"},
                "evaluation": {"type": "object"},
                "metrics": {"type": "object"},
                "reason": {"type": "string"},
                "request_id": {"type": "string"},
                "reservation_state": {"type": "string"},
                "status": {"type": "string", "enum": ["delivered", "safe_fallback", "rejected_quota", "rejected_unavailable"]},
                "usage": {"$ref": "#/definitions/models.Usage"}
            }
        },
        "models.Usage": {
            "type": "object",
            "properties": {
                "committed": {"type": "integer"},
                "limit": {"type": "integer"},
                "period_key": {"type": "string"},
                "remaining": {"type": "integer"},
                "reserved": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Arcana Readings API",
	Description:      "Quota-aware tarot reading generation with an evaluation gate.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
