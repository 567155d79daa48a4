// Package docs registers the OpenAPI document served under /swagger/.
// Regenerate with: swag init -g cmd/pipeline/main.go -d ./,./internal/api/handler
package docs

import "github.com/swaggo/swag"

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
        "/runs": {
            "get": {
                "description": "List every persisted run, newest first",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "List runs",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.RunSummary"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Trigger an asynchronous run over the configured sources. Poll the manifest for progress.",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Start a pipeline run",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handler.RunAccepted"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "description": "Retrieve the manifest of a run: stage outcomes, findings, checkpoint references and slices",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run manifest",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/runs/{id}/quarantine": {
            "get": {
                "description": "Retrieve the records a run quarantined with every rule each one violated",
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get quarantined records",
                "parameters": [{"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/checkpoints/{stage}": {
            "get": {
                "description": "List checkpoint versions of a stage (raw, processed or features), oldest first",
                "produces": ["application/json"],
                "tags": ["checkpoints"],
                "summary": "List checkpoints",
                "parameters": [{"type": "string", "description": "Stage", "name": "stage", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/model.Checkpoint"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/checkpoints/{stage}/{version}": {
            "get": {
                "description": "Return the stored payload of (stage, version). Use \"latest\" for the newest version.",
                "produces": ["application/json"],
                "tags": ["checkpoints"],
                "summary": "Get checkpoint payload",
                "parameters": [
                    {"type": "string", "description": "Stage", "name": "stage", "in": "path", "required": true},
                    {"type": "string", "description": "Version number or latest", "name": "version", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}}
                }
            }
        },
        "/evaluate": {
            "post": {
                "description": "Validate, check, convert and derive features for one financial record and optional product, returning the decision light",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["evaluate"],
                "summary": "Evaluate affordability",
                "parameters": [{
                    "description": "Financial record and optional product",
                    "name": "request", "in": "body", "required": true,
                    "schema": {"$ref": "#/definitions/handler.EvaluateRequest"}
                }],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "handler.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "handler.RunAccepted": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "status": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "handler.EvaluateRequest": {
            "type": "object",
            "properties": {
                "financial": {"type": "object", "additionalProperties": true},
                "product": {"type": "object", "additionalProperties": true}
            }
        },
        "model.RunSummary": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "status": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "model.Checkpoint": {
            "type": "object",
            "properties": {
                "stage": {"type": "string"},
                "version": {"type": "integer"},
                "hash": {"type": "string"},
                "created_at": {"type": "string"},
                "location": {"type": "string"},
                "size": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Affordability Pipeline API",
	Description:      "Runs, manifests, checkpoints and single-record evaluation for the affordability data pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
