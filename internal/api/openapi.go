package api

import (
	"net/http"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the ops API.
func buildOpenAPIDoc() map[string]any {
	secured := []any{map[string]any{"BearerAuth": []string{}}}
	jsonResp := func(desc, schema string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/" + schema},
				},
			},
		}
	}
	errResp := func(desc string) map[string]any { return jsonResp(desc, "Error") }

	providerParam := map[string]any{
		"name": "provider", "in": "path", "required": true,
		"schema": map[string]any{"type": "string", "enum": []string{"payments", "identity", "sms", "other"}},
	}
	statusEnum := []string{"pending", "processing", "completed", "failed"}

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and ledger reachability",
				"responses": map[string]any{
					"200": jsonResp("Healthy", "Healthz"),
					"503": jsonResp("Ledger unavailable", "Healthz"),
				},
			},
		},
		"/events": map[string]any{
			"get": map[string]any{
				"operationId": "listEvents",
				"summary":     "List ledger rows, newest activity first",
				"parameters": []any{
					map[string]any{"name": "provider", "in": "query", "schema": providerParam["schema"]},
					map[string]any{"name": "status", "in": "query", "schema": map[string]any{"type": "string", "enum": statusEnum}},
					map[string]any{"name": "limit", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1, "maximum": 1000}},
				},
				"responses": map[string]any{
					"200": jsonResp("Events", "EventList"),
					"400": errResp("Bad filter"),
					"403": errResp("Insufficient scope"),
				},
				"security": secured,
			},
		},
		"/events/{provider}/{eventID}": map[string]any{
			"get": map[string]any{
				"operationId": "getEvent",
				"summary":     "One ledger row with payload and audit trail",
				"parameters": []any{
					providerParam,
					map[string]any{"name": "eventID", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
				},
				"responses": map[string]any{
					"200": jsonResp("Event", "EventDetail"),
					"404": errResp("Not found"),
					"403": errResp("Insufficient scope"),
				},
				"security": secured,
			},
		},
		"/stats": map[string]any{
			"get": map[string]any{
				"operationId": "stats",
				"summary":     "Row counts per status",
				"responses": map[string]any{
					"200": jsonResp("Counts", "Stats"),
					"403": errResp("Insufficient scope"),
				},
				"security": secured,
			},
		},
		"/stream": map[string]any{
			"get": map[string]any{
				"operationId": "stream",
				"summary":     "Server-sent lifecycle events",
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Event stream",
						"content":     map[string]any{"text/event-stream": map[string]any{}},
					},
					"403": errResp("Insufficient scope"),
				},
				"security": secured,
			},
		},
	}

	obj := func(props map[string]any) map[string]any {
		return map[string]any{"type": "object", "properties": props}
	}
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "integer"}
	ts := map[string]any{"type": "string", "format": "date-time"}

	summary := map[string]any{
		"id": str, "provider": str, "event_id": str, "event_type": str,
		"status":   map[string]any{"type": "string", "enum": statusEnum},
		"attempts": num, "payload_digest": str, "payload_bytes": num,
		"created_at": ts, "last_attempt_at": ts, "completed_at": ts, "error_message": str,
	}
	detail := map[string]any{
		"payload": map[string]any{},
		"body":    str,
		"audit":   map[string]any{"type": "array", "items": obj(map[string]any{"id": str, "actor": str, "action": str, "resource_id": str, "metadata": map[string]any{"type": "object"}, "created_at": ts})},
	}
	for k, v := range summary {
		detail[k] = v
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hookledger ops API",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"Error":       obj(map[string]any{"error": str}),
				"Healthz":     obj(map[string]any{"status": str, "uptime_seconds": num, "ledger": str, "stream_subscribers": num}),
				"EventList":   obj(map[string]any{"events": map[string]any{"type": "array", "items": obj(summary)}, "count": num}),
				"EventDetail": obj(detail),
				"Stats":       obj(map[string]any{"pending": num, "processing": num, "completed": num, "failed": num, "total": num}),
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json (no auth).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
