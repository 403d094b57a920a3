// Package httpapi exposes the pipeline as POST /{operation} with a multipart
// body. File parts become inputs in the order they arrive; text fields become
// operation parameters.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/Lllllllleong/doctransform/internal/models"
	"github.com/Lllllllleong/doctransform/internal/pipeline"
)

// htmlField carries inline markup for html-to-pdf.
const htmlField = "html"

// maxFieldBytes bounds a single text field.
const maxFieldBytes = 1 << 20

// Handler serves the transformation endpoints.
type Handler struct {
	pipeline    *pipeline.Pipeline
	uploadLimit int64
	logger      *slog.Logger
}

func New(p *pipeline.Pipeline, uploadLimit int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pipeline: p, uploadLimit: uploadLimit, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := OperationFromPath(r.URL.Path)
	switch {
	case r.Method == http.MethodGet && (op == "" || op == "operations"):
		writeJSON(w, http.StatusOK, models.Operations())
		return
	case r.Method != http.MethodPost:
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, models.Errorf(models.KindInvalidParameter, string(op), "method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}

	req, err := h.readRequest(w, r, op)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}

	result, err := h.pipeline.Handle(r.Context(), req)
	if err != nil {
		h.writeError(w, err, 0)
		return
	}
	defer result.Close()

	w.Header().Set("Content-Type", result.MediaType)
	if result.MediaType != pipeline.MediaJSON {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	}
	if size := result.Size(); size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := result.WriteTo(w); err != nil {
		h.logger.Warn("Failed to deliver result.", "operation", op, "error", err)
	}
}

// readRequest parses the multipart body. Parameters are parsed and checked
// here so that a bad request fails before the pipeline stages anything.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, op models.Operation) (*pipeline.Request, error) {
	if !op.Known() {
		return nil, models.Errorf(models.KindUnsupportedFormat, string(op), "unknown operation")
	}
	if h.uploadLimit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadLimit)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, models.NewError(models.KindInvalidParameter, string(op), fmt.Errorf("expected a multipart body: %w", err))
	}

	values := map[string]string{}
	var inputs []pipeline.Payload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, h.bodyError(op, err)
		}
		if part.FileName() == "" {
			field, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			part.Close()
			if err != nil {
				return nil, h.bodyError(op, err)
			}
			if len(field) > maxFieldBytes {
				return nil, models.Errorf(models.KindInvalidParameter, string(op), "field %s is too large", part.FormName())
			}
			if part.FormName() == htmlField && op == models.OpHTMLToPDF {
				inputs = append(inputs, pipeline.Payload{Filename: "input.html", MediaType: "text/html", Body: bytes.NewReader(field)})
				continue
			}
			values[part.FormName()] = string(field)
			continue
		}

		var buf bytes.Buffer
		_, err = io.Copy(&buf, part)
		part.Close()
		if err != nil {
			return nil, h.bodyError(op, err)
		}
		inputs = append(inputs, pipeline.Payload{
			Filename:  part.FileName(),
			MediaType: part.Header.Get("Content-Type"),
			Body:      bytes.NewReader(buf.Bytes()),
		})
	}

	params, err := models.ParseParams(op, values)
	if err != nil {
		return nil, err
	}
	return &pipeline.Request{Operation: op, Inputs: inputs, Params: params}, nil
}

func (h *Handler) bodyError(op models.Operation, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return models.Errorf(models.KindInvalidParameter, string(op), "upload exceeds %d bytes", tooLarge.Limit)
	}
	return models.NewError(models.KindInvalidParameter, string(op), fmt.Errorf("unreadable multipart body: %w", err))
}

// writeError renders err as an ErrorResponse. status overrides the status
// derived from the error kind when non-zero.
func (h *Handler) writeError(w http.ResponseWriter, err error, status int) {
	kind := models.KindOf(err)
	if status == 0 {
		status = kind.HTTPStatus()
	}
	message := err.Error()
	if kind == models.KindInternal {
		h.logger.Error("Request failed.", "kind", kind, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, models.ErrorResponse{Status: "error", Kind: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", pipeline.MediaJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response.", "error", err)
	}
}

// OperationFromPath returns the last segment of p, so the handler works
// under any mount prefix.
func OperationFromPath(p string) models.Operation {
	return models.Operation(strings.Trim(path.Base(path.Clean("/"+p)), "/"))
}
