package protocol

import (
	"encoding/json"
	"fmt"
)

// Response status strings.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the server-to-client reply. It is plain JSON and carries no
// MAC; responses are not authenticated.
type Response struct {
	Status  string         `json:"status"`
	Mensaje string         `json:"mensaje"`
	Datos   map[string]any `json:"datos,omitempty"`
}

// OK builds a success response. datos may be nil.
func OK(mensaje string, datos map[string]any) Response {
	return Response{Status: StatusOK, Mensaje: mensaje, Datos: datos}
}

// Error builds an error response.
func Error(mensaje string) Response {
	return Response{Status: StatusError, Mensaje: mensaje}
}

// Encode serializes the response for the wire.
func (r Response) Encode() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return raw, nil
}

// DecodeResponse parses a response received from the server.
func DecodeResponse(raw []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	if r.Status != StatusOK && r.Status != StatusError {
		return Response{}, fmt.Errorf("decoding response: unknown status %q", r.Status)
	}
	return r, nil
}
