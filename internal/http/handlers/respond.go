package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// writeJSON writes a JSON response body with the given status. Used by the
// raw chi streaming handlers; the huma handlers encode their own bodies.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// taskID extracts the numeric task ID from the route.
func taskID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// expectedSize extracts the mandatory size header from an upload request.
func expectedSize(r *http.Request) (int64, bool) {
	size, err := strconv.ParseInt(r.Header.Get("size"), 10, 64)
	if err != nil || size <= 0 {
		return 0, false
	}
	return size, true
}

// serveFile streams a file as an opaque byte body. Media files run to tens
// of gigabytes, so the body is copied straight off disk.
func serveFile(w http.ResponseWriter, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "file not found on disk")
			return err
		}
		writeError(w, http.StatusInternalServerError, "failed to open file")
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat file")
		return err
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	_, err = io.Copy(w, f)
	return err
}
