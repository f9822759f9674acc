package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable Engine API",
        "description": "Timetable generation, validation and publishing for school terms.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Timetables", "description": "Generation runs, audit reports and publishing"},
        {"name": "Time Slots", "description": "Weekly slot grid tooling"},
        {"name": "Schools", "description": "School pacing limits"},
        {"name": "Observability", "description": "Runtime metrics"}
    ],
    "paths": {
        "/timetables/generations": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List generations of a term",
                "parameters": [
                    {"name": "termId", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Timetables"],
                "summary": "Start a greedy timetable generation",
                "consumes": ["application/json"],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateGenerationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Term not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Scheduler busy", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/optimizer": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Submit a term to the external optimizer",
                "consumes": ["application/json"],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateOptimizerGenerationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Optimizer unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Get a generation with its report and failures",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Timetables"],
                "summary": "Delete an unpublished generation and its lessons",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/report": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Audit a generation",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run still in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/lessons": {
            "get": {
                "tags": ["Timetables"],
                "summary": "List the lessons of a generation",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/export": {
            "get": {
                "tags": ["Timetables"],
                "summary": "Download the lessons of a generation",
                "produces": ["text/csv", "application/pdf", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf", "xlsx"], "default": "csv"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date"},
                    {"name": "to", "in": "query", "type": "string", "format": "date"}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/cancel": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Cancel a queued or running generation",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/publish": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Publish a completed generation",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Publish rejected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetables/generations/{id}/archive": {
            "post": {
                "tags": ["Timetables"],
                "summary": "Archive a published generation",
                "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Still referenced", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timeslots/validate": {
            "post": {
                "tags": ["Time Slots"],
                "summary": "Check a proposed slot grid",
                "consumes": ["application/json"],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ValidateTimeSlotsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timeslots/defaults": {
            "post": {
                "tags": ["Time Slots"],
                "summary": "Generate a default weekly slot grid",
                "consumes": ["application/json"],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DefaultTimeSlotsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Preview", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Stored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "School already has slots", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schools/{schoolId}/constraints": {
            "get": {
                "tags": ["Schools"],
                "summary": "Get a school's pacing limits",
                "parameters": [{"name": "schoolId", "in": "path", "type": "string", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Schools"],
                "summary": "Replace a school's pacing limits",
                "consumes": ["application/json"],
                "parameters": [
                    {"name": "schoolId", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateSchoolConstraintsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Inconsistent limits", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Aggregated runtime metrics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateGenerationRequest": {
            "type": "object",
            "required": ["termId"],
            "properties": {
                "termId": {"type": "string"},
                "baseGenerationId": {"type": "string"},
                "anchorDate": {"type": "string", "format": "date"},
                "departmentId": {"type": "string"},
                "gradeLevel": {"type": "integer", "minimum": 1, "maximum": 12},
                "notes": {"type": "string", "maxLength": 500}
            }
        },
        "CreateOptimizerGenerationRequest": {
            "type": "object",
            "required": ["termId"],
            "properties": {
                "termId": {"type": "string"},
                "optimizationLevel": {"type": "string", "enum": ["basic", "advanced"]},
                "timeLimit": {"type": "integer", "minimum": 60, "maximum": 3600},
                "goals": {"type": "array", "items": {"type": "string"}},
                "constraints": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {"type": {"type": "string"}, "value": {"type": "object"}}
                    }
                },
                "notes": {"type": "string", "maxLength": 500}
            }
        },
        "TimeSlot": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "school_id": {"type": "string"},
                "day_of_week": {"type": "integer", "minimum": 0, "maximum": 6},
                "start_time": {"type": "string", "example": "07:00:00"},
                "end_time": {"type": "string", "example": "07:45:00"},
                "period_number": {"type": "integer"},
                "is_teaching_period": {"type": "boolean"},
                "slot_name": {"type": "string"}
            }
        },
        "ValidateTimeSlotsRequest": {
            "type": "object",
            "required": ["slots"],
            "properties": {
                "slots": {"type": "array", "items": {"$ref": "#/definitions/TimeSlot"}}
            }
        },
        "DefaultTimeSlotsRequest": {
            "type": "object",
            "required": ["startTime", "endTime"],
            "properties": {
                "schoolId": {"type": "string"},
                "workingDays": {"type": "array", "items": {"type": "string"}},
                "startTime": {"type": "string", "example": "07:00"},
                "endTime": {"type": "string", "example": "13:00"},
                "periodMinutes": {"type": "integer", "minimum": 15, "maximum": 240},
                "sessionsPerDay": {"type": "integer", "minimum": 1, "maximum": 16},
                "persist": {"type": "boolean"}
            }
        },
        "UpdateSchoolConstraintsRequest": {
            "type": "object",
            "required": ["maxLessonsPerDay", "maxConsecutiveLessons", "breakRequired"],
            "properties": {
                "maxLessonsPerDay": {"type": "integer", "minimum": 1},
                "minLessonsPerDay": {"type": "integer", "minimum": 0},
                "maxConsecutiveLessons": {"type": "integer", "minimum": 1},
                "breakRequired": {"type": "boolean"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
