package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studiumai/internal/app"
	"studiumai/internal/util"
)

// multipartSlack covers boundaries and part headers on top of the file cap.
const multipartSlack = 1 << 20

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxUploadBytes()+multipartSlack)
	var upload *app.Upload
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeAppError(w, r, app.ErrFileTooLarge)
			return
		}
		// Anything else is treated as a request without a file part.
	} else if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		upload = &app.Upload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		}
	}
	src, err := s.app.UploadSource(r.Context(), user, chi.URLParam(r, "id"), upload)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"source": src})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	sources, err := s.app.ListSources(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	if err := s.app.DeleteSource(r.Context(), user, chi.URLParam(r, "id")); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Source deleted successfully")
}

func (s *Server) handleDownloadSource(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	src, body, err := s.app.DownloadSource(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", src.FileType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+quoteFilename(src.FileName)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("source_download_interrupted", "source_id", src.ID, "err", err)
	}
}

var filenameEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

func quoteFilename(name string) string {
	return filenameEscaper.Replace(name)
}
