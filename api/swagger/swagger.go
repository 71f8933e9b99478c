package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Darasa API",
        "description": "Virtual classrooms and course enrollment requests",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Classrooms", "description": "Classroom definitions under a course"},
        {"name": "Rooms", "description": "Meeting room lifecycle on the meeting host"},
        {"name": "Requests", "description": "Students' requests to join courses"},
        {"name": "Courses", "description": "Per-student course checks"}
    ],
    "paths": {
        "/classrooms": {
            "post": {
                "tags": ["Classrooms"],
                "summary": "Create a classroom under a course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateClassroomRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a teacher of the course", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "No unique room id could be allocated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rooms/{room_id}/join": {
            "post": {
                "tags": ["Rooms"],
                "summary": "Get a role-scoped join link, provisioning the room when needed",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "room_id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/JoinRoomRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/JoinRoomEnvelope"}},
                    "403": {"description": "Caller has no role in the classroom", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Meeting host rejected the room", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Meeting host unavailable or provisioning timed out", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rooms/{room_id}/running": {
            "get": {
                "tags": ["Rooms"],
                "summary": "Report whether the meeting host runs the room",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "room_id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rooms/{room_id}/end": {
            "patch": {
                "tags": ["Rooms"],
                "summary": "End the meeting in a room",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "room_id", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a teacher of the course", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classrooms/meetings/{meeting_id}/end": {
            "get": {
                "tags": ["Rooms"],
                "summary": "Meeting host callback when a meeting ends",
                "parameters": [
                    {"name": "meeting_id", "in": "path", "required": true, "type": "integer"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Invalid or expired token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests": {
            "post": {
                "tags": ["Requests"],
                "summary": "Request to join a course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already requested", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Get an enrollment request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Requests"],
                "summary": "Accept or decline an enrollment request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateRequestStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{course_id}/requested": {
            "get": {
                "tags": ["Courses"],
                "summary": "Whether the calling student has requested the course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{course_id}/joined": {
            "get": {
                "tags": ["Courses"],
                "summary": "Whether the calling student is enrolled in the course",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateClassroomRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string", "format": "uuid"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "welcome_message": {"type": "string"},
                "logout_url": {"type": "string"},
                "duration": {"type": "integer"},
                "event_id": {"type": "string", "format": "uuid"}
            },
            "required": ["course_id", "name"]
        },
        "JoinRoomRequest": {
            "type": "object",
            "properties": {
                "moderator": {"type": "boolean"}
            }
        },
        "JoinRoomResponse": {
            "type": "object",
            "properties": {
                "meeting_room_link": {"type": "string"},
                "role": {"type": "string", "enum": ["moderator", "attendee"]}
            }
        },
        "CreateRequestRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string", "format": "uuid"},
                "classroom_ids": {"type": "array", "items": {"type": "string", "format": "uuid"}}
            },
            "required": ["course_id"]
        },
        "UpdateRequestStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["pending", "accepted", "declined"]}
            },
            "required": ["status"]
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
        },
        "JoinRoomEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/JoinRoomResponse"},
                "error": {"$ref": "#/definitions/APIError"}
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
