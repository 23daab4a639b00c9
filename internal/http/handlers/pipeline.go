package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"clownify/internal/domain"
	"clownify/pkg/zip"
)

// Upload receives the user's image and runs it through the asset uploader.
// The upload happens immediately on selection, before any generate request,
// and replaces whatever asset the pipeline currently holds.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.Cfg.MaxUploadBytes); err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "file exceeds the upload limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read file")
		return
	}

	mime := header.Header.Get("Content-Type")
	if err := a.Pipeline.SelectFile(r.Context(), header.Filename, mime, data); err != nil {
		a.error(w, http.StatusBadGateway, "upload_failed", err.Error())
		return
	}
	a.json(w, http.StatusCreated, a.Pipeline.Snapshot())
}

// Generate kicks off the submit-poll-resolve cycle. The response is
// immediate; phase changes and attempt counts stream over the notification
// surface.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	err := a.Pipeline.StartGenerate(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, domain.ErrBusy):
		a.error(w, http.StatusConflict, "busy", "a generation cycle is already in flight")
		return
	case errors.Is(err, domain.ErrNoAsset):
		a.error(w, http.StatusConflict, "no_asset", "upload an image first")
		return
	case err != nil:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	a.json(w, http.StatusAccepted, a.Pipeline.Snapshot())
}

// Reset discards the current asset, job and result.
func (a *App) Reset(w http.ResponseWriter, r *http.Request) {
	a.Pipeline.Reset()
	a.json(w, http.StatusOK, a.Pipeline.Snapshot())
}

// State reports the pipeline snapshot.
func (a *App) State(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Pipeline.Snapshot())
}

// Download runs the delivery chain for the completed result. With archive=1
// the saved file is additionally wrapped in a zip and streamed back.
func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	attempt, err := a.Pipeline.Download(r.Context())
	switch {
	case errors.Is(err, domain.ErrNoResult):
		a.error(w, http.StatusConflict, "no_result", "nothing to download yet")
		return
	case errors.Is(err, domain.ErrBusy):
		a.error(w, http.StatusConflict, "busy", "a download is already running")
		return
	case err != nil:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if archive, _ := strconv.ParseBool(r.URL.Query().Get("archive")); archive && attempt.Key != "" {
		data, err := a.Store.Read(r.Context(), attempt.Key)
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		bundle, err := zip.ArchiveAssets([]zip.Asset{{Filename: attempt.Key, Data: data}})
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attempt.Key+".zip"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(bundle)
		return
	}

	a.json(w, http.StatusOK, map[string]string{
		"tier":    string(attempt.Tier),
		"key":     attempt.Key,
		"path":    attempt.Path,
		"message": attempt.Message,
	})
}
