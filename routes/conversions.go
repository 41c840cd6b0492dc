package routes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediaconvert/conversions"
	"mediaconvert/logger"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// UploadHandler accepts a multipart upload with "file" and "targetFormat".
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	id := s.resolver.Resolve(r)
	logger.Debugf("Upload request: remoteAddr=%s, identity=%s", r.RemoteAddr, id)

	if s.maxUpload > 0 {
		// allow for multipart framing around the file itself
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, &conversions.ValidationError{Message: "file is too large"})
			return
		}
		writeError(w, r, &conversions.ValidationError{Message: "failed to parse multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, &conversions.ValidationError{Message: "file is required"})
		return
	}
	defer file.Close()

	res, err := s.svc.Upload(r.Context(), id, conversions.Upload{
		FileName:     header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		TargetFormat: r.FormValue("targetFormat"),
		Size:         header.Size,
		Body:         file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Infof("Upload accepted: job=%s file=%s target=%s", res.JobID, header.Filename, r.FormValue("targetFormat"))
	writeJSON(w, http.StatusAccepted, res)
}

// StatusHandler returns the pollable state of a conversion.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	st, err := s.svc.Status(r.Context(), s.resolver.Resolve(r), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DownloadHandler redirects to the converted artifact.
func (s *Server) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	dl, err := s.svc.Download(r.Context(), s.resolver.Resolve(r), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.Debugf("Download of job %s (%d total) -> %s", jobID, dl.DownloadCount, dl.URL)
	http.Redirect(w, r, dl.URL, http.StatusFound)
}

func (s *Server) LimitsHandler(w http.ResponseWriter, r *http.Request) {
	lim, err := s.svc.Limits(r.Context(), s.resolver.Resolve(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lim)
}

func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.History(r.Context(), s.resolver.Resolve(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
