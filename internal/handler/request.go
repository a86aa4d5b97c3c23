package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/civic-reports/internal/apperror"
)

// body is a decoded request body. form is nil unless the request was
// multipart/form-data.
type body struct {
	form *multipart.Form
}

// file opens the named upload. It returns a nil reader, not an error, when
// the field is absent, so "no photo" reaches the service as a nil io.Reader.
func (b body) file(name string) (io.ReadCloser, error) {
	if b.form == nil || len(b.form.File[name]) == 0 {
		return nil, nil
	}
	f, err := b.form.File[name][0].Open()
	if err != nil {
		return nil, apperror.ValidationFailed(name, "uploaded file could not be read")
	}
	return f, nil
}

func (b body) close() {
	if b.form != nil {
		_ = b.form.RemoveAll()
	}
}

// bind decodes a JSON or multipart/form-data body into dst, capping it at
// maxBytes.
//
// Multipart values are always strings on the wire. Keys listed in numeric
// are converted to JSON numbers first, so both encodings fill the same
// struct through its json tags. An empty body leaves dst untouched.
func bind(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any, numeric ...string) (body, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return body{}, bodyError(err, maxBytes)
		}
		return body{}, nil
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return body{}, bodyError(err, maxBytes)
	}
	b := body{form: r.MultipartForm}

	fields := make(map[string]any, len(b.form.Value))
	for key, values := range b.form.Value {
		if len(values) == 0 {
			continue
		}
		v := strings.TrimSpace(values[0])
		if !isNumeric(key, numeric) {
			fields[key] = v
			continue
		}
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			b.close()
			return body{}, apperror.ValidationFailed(key, fmt.Sprintf("%s must be a number", key))
		}
		fields[key] = json.Number(strconv.FormatFloat(n, 'f', -1, 64))
	}

	raw, err := json.Marshal(fields)
	if err == nil {
		err = json.Unmarshal(raw, dst)
	}
	if err != nil {
		b.close()
		return body{}, bodyError(err, maxBytes)
	}
	return b, nil
}

func isNumeric(key string, numeric []string) bool {
	for _, n := range numeric {
		if n == key {
			return true
		}
	}
	return false
}

// bodyError turns a decode failure into a field-level validation error.
func bodyError(err error, maxBytes int64) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return apperror.ValidationFailed("body", fmt.Sprintf("request body exceeds %d MB", maxBytes>>20))
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
	}
	return apperror.ValidationFailed("body", "Invalid request body")
}

// queryFloat parses an optional float query parameter; ok is false when the
// parameter is absent.
func queryFloat(r *http.Request, key string) (v float64, ok bool, err error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperror.ValidationFailed(key, fmt.Sprintf("%s must be a number", key))
	}
	return v, true, nil
}
